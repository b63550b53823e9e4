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

// Timeline constants. Every film is exactly TotalDurationSec long and is cut
// into beats of ShortBeatSec or LongBeatSec.
const (
	TotalDurationSec  = 120
	ShortBeatSec      = 6
	LongBeatSec       = 8
	MinBeats          = 15
	MaxBeats          = 20
	MinBreathingBeats = 3
	TimelineEpsilon   = 0.001
)

// AllowedBeatDurations returns the durations a beat may have.
func AllowedBeatDurations() []int {
	return []int{ShortBeatSec, LongBeatSec}
}

// IsAllowedBeatDuration reports whether d is one of AllowedBeatDurations.
func IsAllowedBeatDuration(d int) bool {
	return d == ShortBeatSec || d == LongBeatSec
}

// CameraGrammar describes how a beat is shot.
type CameraGrammar struct {
	Motion  CameraMotion `json:"motion" yaml:"motion"`
	Framing Framing      `json:"framing" yaml:"framing"`
	Lens    Lens         `json:"lens" yaml:"lens"`
}

// Lighting describes how a beat is lit.
type Lighting struct {
	TimeOfDay TimeOfDay `json:"time_of_day" yaml:"time_of_day"`
	Contrast  Contrast  `json:"contrast" yaml:"contrast"`
}

// TimelineBeat is the atomic unit of screen time.
type TimelineBeat struct {
	BeatIndex      int            `json:"beat_index"`
	ActIndex       int            `json:"act_index"`
	StartSec       float64        `json:"start_sec"`
	EndSec         float64        `json:"end_sec"`
	DurationSec    int            `json:"duration_sec"`
	BeatType       BeatType       `json:"beat_type"`
	VisualCategory VisualCategory `json:"visual_category"`
	CameraGrammar  CameraGrammar  `json:"camera_grammar"`
	Lighting       Lighting       `json:"lighting"`
	TransitionOut  TransitionType `json:"transition_out"`
	NarrationText  *string        `json:"narration_text,omitempty"`
	RenderPrompt   string         `json:"render_prompt"`
}

// Narration returns the beat's narration text or "" when it has none.
func (b *TimelineBeat) Narration() string {
	if b.NarrationText == nil {
		return ""
	}
	return *b.NarrationText
}

// MasterTimelineData is the ordered beat list for one film.
type MasterTimelineData struct {
	TotalDurationSec int            `json:"total_duration_sec"`
	Beats            []TimelineBeat `json:"beats"`
}

// Clone returns a deep copy so repair passes never mutate their input.
func (m *MasterTimelineData) Clone() *MasterTimelineData {
	if m == nil {
		return nil
	}
	out := &MasterTimelineData{TotalDurationSec: m.TotalDurationSec, Beats: CloneBeats(m.Beats)}
	return out
}

// SumDurations adds up every beat duration.
func (m *MasterTimelineData) SumDurations() int {
	total := 0
	for _, b := range m.Beats {
		total += b.DurationSec
	}
	return total
}

// BeatsForAct returns the beats owned by actIndex, in order.
func (m *MasterTimelineData) BeatsForAct(actIndex int) []TimelineBeat {
	out := make([]TimelineBeat, 0)
	for _, b := range m.Beats {
		if b.ActIndex == actIndex {
			out = append(out, b)
		}
	}
	return out
}

// ActWindow returns the start and end second of an act, or false when the
// act owns no beats.
func (m *MasterTimelineData) ActWindow(actIndex int) (start float64, end float64, ok bool) {
	for _, b := range m.Beats {
		if b.ActIndex != actIndex {
			continue
		}
		if !ok {
			start = b.StartSec
			ok = true
		}
		end = b.EndSec
	}
	return start, end, ok
}

// CloneBeats deep copies a beat slice including the narration pointers.
func CloneBeats(in []TimelineBeat) []TimelineBeat {
	out := make([]TimelineBeat, len(in))
	for i, b := range in {
		out[i] = b
		if b.NarrationText != nil {
			text := *b.NarrationText
			out[i].NarrationText = &text
		}
	}
	return out
}

// BeatFill is what the planner returns for one beat of a skeleton timeline.
type BeatFill struct {
	BeatIndex    int            `json:"beat_index"`
	Narration    string         `json:"narration"`
	RenderPrompt string         `json:"render_prompt"`
	Setting      string         `json:"setting"`
	Motif        VisualCategory `json:"motif,omitempty"`
}
