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

import "strings"

// WordsPerSecond is the speaking rate used to estimate narration length
// before any audio exists.
const WordsPerSecond = 2.5

// NarrationSegment is one spoken line. BeatIndex is nil when the segment is
// not tied to a particular beat.
type NarrationSegment struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	Duration   float64 `json:"duration"`
	ActIndex   int     `json:"act_index"`
	BeatIndex  *int    `json:"beat_index,omitempty"`
	PauseAfter float64 `json:"pause_after"`
	WordCount  int     `json:"word_count"`
	AudioURL   string  `json:"audio_url,omitempty"`
}

// CountWords returns the number of whitespace separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// EstimateDuration is the spoken length of text at WordsPerSecond.
func EstimateDuration(text string) float64 {
	return float64(CountWords(text)) / WordsPerSecond
}

// CloneNarration deep copies a segment slice.
func CloneNarration(in []NarrationSegment) []NarrationSegment {
	out := make([]NarrationSegment, len(in))
	for i, s := range in {
		out[i] = s
		if s.BeatIndex != nil {
			idx := *s.BeatIndex
			out[i].BeatIndex = &idx
		}
	}
	return out
}

// ShotPlanEntry is the render job specification for one beat.
type ShotPlanEntry struct {
	BeatIndex    int            `json:"beat_index"`
	ActIndex     int            `json:"act_index"`
	ActType      ActType        `json:"act_type"`
	DurationSec  int            `json:"duration_sec"`
	Setting      string         `json:"setting"`
	TimeOfDay    TimeOfDay      `json:"time_of_day"`
	Motif        VisualCategory `json:"motif"`
	RenderPrompt string         `json:"render_prompt"`
	Source       ShotSource     `json:"source"`
}

// MotifKey identifies the visual motif of a shot for novelty scoring.
func (s ShotPlanEntry) MotifKey() string {
	return string(s.Motif) + ":" + strings.ToLower(strings.TrimSpace(s.Setting))
}

// CloneShots copies a shot plan.
func CloneShots(in []ShotPlanEntry) []ShotPlanEntry {
	return append([]ShotPlanEntry(nil), in...)
}
