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

package timeline

import (
	"math"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// NarrationLeadSec is how far into a narrated beat its narration starts.
const NarrationLeadSec = 0.5

// Fill applies planner output to the timeline by beat index. Narration is
// only written to narrated beats; render prompts are written to any beat.
// Fills that reference a beat outside the timeline are ignored. It returns
// the number of fills that were applied.
func Fill(t *model.MasterTimelineData, fills []model.BeatFill) int {
	applied := 0
	for _, f := range fills {
		if f.BeatIndex < 0 || f.BeatIndex >= len(t.Beats) {
			continue
		}
		beat := &t.Beats[f.BeatIndex]
		text := strings.TrimSpace(f.Narration)
		if beat.BeatType == model.BeatNarrated && text != "" {
			beat.NarrationText = &text
		}
		if prompt := strings.TrimSpace(f.RenderPrompt); prompt != "" {
			beat.RenderPrompt = prompt
		}
		if f.Motif.Valid() {
			beat.VisualCategory = f.Motif
		}
		applied++
	}
	return applied
}

// NarrationSegments derives one segment per narrated beat carrying text.
// Timing is estimated from word count and clamped to the beat.
func NarrationSegments(t *model.MasterTimelineData) []model.NarrationSegment {
	out := make([]model.NarrationSegment, 0)
	if t == nil {
		return out
	}
	for _, b := range t.Beats {
		text := b.Narration()
		if b.BeatType != model.BeatNarrated || text == "" {
			continue
		}
		idx := b.BeatIndex
		start := b.StartSec + NarrationLeadSec
		duration := math.Min(model.EstimateDuration(text), b.EndSec-start)
		out = append(out, model.NarrationSegment{
			Text:       text,
			StartTime:  start,
			Duration:   duration,
			ActIndex:   b.ActIndex,
			BeatIndex:  &idx,
			PauseAfter: math.Max(0, b.EndSec-(start+duration)),
			WordCount:  model.CountWords(text),
		})
	}
	return out
}

var settingSuffixes = []string{"detail", "horizon", "texture"}

// ShotPlan derives one GEN shot per beat. Settings come from the fills when
// the planner supplied them, otherwise from the act's scale with a suffix
// that changes with the beat's position in the act.
func ShotPlan(structure *model.DocumentaryStructure, t *model.MasterTimelineData, fills []model.BeatFill) []model.ShotPlanEntry {
	settings := make(map[int]string, len(fills))
	for _, f := range fills {
		if s := strings.TrimSpace(f.Setting); s != "" {
			settings[f.BeatIndex] = s
		}
	}
	out := make([]model.ShotPlanEntry, 0, len(t.Beats))
	position := 0
	for i, b := range t.Beats {
		if i == 0 || t.Beats[i-1].ActIndex != b.ActIndex {
			position = 0
		} else {
			position++
		}
		entry := model.ShotPlanEntry{
			BeatIndex:    b.BeatIndex,
			ActIndex:     b.ActIndex,
			DurationSec:  b.DurationSec,
			TimeOfDay:    b.Lighting.TimeOfDay,
			Motif:        b.VisualCategory,
			RenderPrompt: b.RenderPrompt,
			Source:       model.SourceGenerated,
			Setting:      settings[b.BeatIndex],
		}
		if structure != nil && b.ActIndex >= 0 && b.ActIndex < len(structure.Acts) {
			act := structure.Acts[b.ActIndex]
			entry.ActType = act.ActType
			if entry.Setting == "" {
				entry.Setting = act.ScaleType
				if position > 0 {
					entry.Setting += " " + settingSuffixes[(position-1)%len(settingSuffixes)]
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
