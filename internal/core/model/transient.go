// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

// These objects are passed between commands of a workflow but are never
// persisted in their current form.

// AvoidList collects motifs and prompts that the planner should not repeat.
// It grows with every rejected QC attempt.
type AvoidList struct {
	Motifs  []string `json:"motifs"`
	Prompts []string `json:"prompts"`
}

func NewAvoidList() *AvoidList {
	return &AvoidList{Motifs: make([]string, 0), Prompts: make([]string, 0)}
}

// Merge adds the motifs and prompts of a rejected shot plan, skipping
// duplicates.
func (a *AvoidList) Merge(shots []ShotPlanEntry) {
	motifs := make(map[string]bool, len(a.Motifs))
	for _, m := range a.Motifs {
		motifs[m] = true
	}
	prompts := make(map[string]bool, len(a.Prompts))
	for _, p := range a.Prompts {
		prompts[p] = true
	}
	for _, s := range shots {
		if key := s.MotifKey(); !motifs[key] {
			motifs[key] = true
			a.Motifs = append(a.Motifs, key)
		}
		if s.RenderPrompt != "" && !prompts[s.RenderPrompt] {
			prompts[s.RenderPrompt] = true
			a.Prompts = append(a.Prompts, s.RenderPrompt)
		}
	}
}

// Empty is true when there is nothing to avoid.
func (a *AvoidList) Empty() bool {
	return a == nil || (len(a.Motifs) == 0 && len(a.Prompts) == 0)
}

// RenderResult is the internal view of a remote render job's status.
type RenderResult struct {
	JobId  string       `json:"job_id"`
	Status RenderStatus `json:"status"`
	Url    string       `json:"url,omitempty"`
	Error  string       `json:"error,omitempty"`
	Safety bool         `json:"safety,omitempty"` // the job was rejected by a content filter
}

// FilmRequest is the message published to start or resume a run.
type FilmRequest struct {
	RunId string `json:"run_id"`
}
