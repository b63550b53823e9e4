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

import (
	"time"

	"github.com/google/uuid"
)

// FilmRun is the persisted record of one film generation. Version is bumped
// on every write and is the compare-and-set token for claiming a run.
type FilmRun struct {
	Id                 string                `json:"id"`
	UserText           string                `json:"user_text"`
	Stage              Stage                 `json:"stage"`
	LastCompletedStage Stage                 `json:"last_completed_stage,omitempty"`
	Version            int64                 `json:"version"`
	Structure          *DocumentaryStructure `json:"structure,omitempty"`
	Timeline           *MasterTimelineData   `json:"timeline,omitempty"`
	Narration          []NarrationSegment    `json:"narration,omitempty"`
	ShotPlan           []ShotPlanEntry       `json:"shot_plan,omitempty"`
	QCReport           *QCReport             `json:"qc_report,omitempty"`
	PostRenderReport   *QCReport             `json:"post_render_report,omitempty"`
	Fingerprint        *RunFingerprint       `json:"fingerprint,omitempty"`
	ArtifactURI        string                `json:"artifact_uri,omitempty"`
	ErrorMessage       string                `json:"error_message,omitempty"`
	FailedStage        int                   `json:"failed_stage"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// NewFilmRun creates a pending run with a random id.
func NewFilmRun(userText string) *FilmRun {
	now := time.Now()
	return &FilmRun{
		Id:          uuid.New().String(),
		UserText:    userText,
		Stage:       StagePending,
		FailedStage: -1,
		Narration:   make([]NarrationSegment, 0),
		ShotPlan:    make([]ShotPlanEntry, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ResumeStage is the stage a worker should run next when it claims the run.
func (r *FilmRun) ResumeStage() Stage {
	switch r.Stage {
	case StagePending:
		return StageUnderstanding
	case StageFailed:
		if r.LastCompletedStage == "" || r.LastCompletedStage == StagePending {
			return StageUnderstanding
		}
		return r.LastCompletedStage.Next()
	}
	return r.Stage
}

// Clone returns a deep copy of the run.
func (r *FilmRun) Clone() *FilmRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Structure = r.Structure.Clone()
	out.Timeline = r.Timeline.Clone()
	out.Narration = CloneNarration(r.Narration)
	out.ShotPlan = CloneShots(r.ShotPlan)
	if r.Fingerprint != nil {
		fp := *r.Fingerprint
		fp.Motifs = append([]string(nil), r.Fingerprint.Motifs...)
		fp.Prompts = append([]string(nil), r.Fingerprint.Prompts...)
		out.Fingerprint = &fp
	}
	return &out
}

// SceneRecord tracks the render job of one beat.
type SceneRecord struct {
	RunId         string       `json:"run_id" bigquery:"run_id"`
	BeatIndex     int          `json:"beat_index" bigquery:"beat_index"`
	Prompt        string       `json:"prompt" bigquery:"prompt"`
	DurationSec   int          `json:"duration_sec" bigquery:"duration_sec"`
	Status        RenderStatus `json:"status" bigquery:"status"`
	JobId         string       `json:"job_id,omitempty" bigquery:"job_id"`
	Url           string       `json:"url,omitempty" bigquery:"url"`
	Error         string       `json:"error,omitempty" bigquery:"error"`
	SafetyRetried bool         `json:"safety_retried" bigquery:"safety_retried"`
	Attempts      int          `json:"attempts" bigquery:"attempts"`
	UpdatedAt     time.Time    `json:"updated_at" bigquery:"updated_at"`
}

// NewSceneRecord creates a pending scene for a shot.
func NewSceneRecord(runId string, shot ShotPlanEntry) *SceneRecord {
	return &SceneRecord{
		RunId:       runId,
		BeatIndex:   shot.BeatIndex,
		Prompt:      shot.RenderPrompt,
		DurationSec: shot.DurationSec,
		Status:      RenderPending,
		UpdatedAt:   time.Now(),
	}
}

// RunFingerprint captures what a finished run showed so later runs can avoid
// repeating it.
type RunFingerprint struct {
	RunId     string    `json:"run_id" bigquery:"run_id"`
	Motifs    []string  `json:"motifs" bigquery:"motifs"`
	Prompts   []string  `json:"prompts" bigquery:"prompts"`
	CreatedAt time.Time `json:"created_at" bigquery:"created_at"`
}

// NewRunFingerprint collects the motif keys and prompts of a shot plan.
func NewRunFingerprint(runId string, shots []ShotPlanEntry) *RunFingerprint {
	fp := &RunFingerprint{RunId: runId, Motifs: make([]string, 0), Prompts: make([]string, 0), CreatedAt: time.Now()}
	seen := make(map[string]bool)
	for _, s := range shots {
		key := s.MotifKey()
		if !seen[key] {
			seen[key] = true
			fp.Motifs = append(fp.Motifs, key)
		}
		fp.Prompts = append(fp.Prompts, s.RenderPrompt)
	}
	return fp
}

// StageCount is a row of the run statistics.
type StageCount struct {
	Stage Stage `json:"stage" bigquery:"stage"`
	Count int64 `json:"count" bigquery:"count"`
}
