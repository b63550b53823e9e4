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
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// BuildSkeleton lays out empty beats for every act of the structure. Each act
// is filled with long beats, with short beats spread through it when the act
// duration requires them. The opening beat of the film and the closing beat
// of every act except the last are breathing beats, and every act hands over
// to the next one with a dissolve. Camera grammar and lighting come from the
// act choreography.
//
// The skeleton is normalized to model.TotalDurationSec and the act durations
// of structure are rewritten to the sums of their beats, so structure is
// modified in place.
func BuildSkeleton(structure *model.DocumentaryStructure) *model.MasterTimelineData {
	beats := make([]model.TimelineBeat, 0, model.MaxBeats)
	last := len(structure.Acts) - 1
	for actIndex, act := range structure.Acts {
		choreo := act.Choreography.WithDefaults(act.ActType)
		durations := actBeatDurations(act.DurationSec)
		for i, d := range durations {
			beat := model.TimelineBeat{
				ActIndex:       actIndex,
				DurationSec:    d,
				BeatType:       model.BeatNarrated,
				VisualCategory: choreo.Motif,
				CameraGrammar: model.CameraGrammar{
					Motion:  choreo.CameraMotion,
					Framing: choreo.Framing,
					Lens:    choreo.Lens,
				},
				Lighting: model.Lighting{
					TimeOfDay: choreo.TimeOfDay,
					Contrast:  choreo.Contrast,
				},
				TransitionOut: model.TransitionCut,
			}
			isActEnd := i == len(durations)-1
			if len(beats) == 0 || (isActEnd && actIndex != last) {
				beat.BeatType = model.BeatBreathing
			}
			if isActEnd && actIndex != last {
				beat.TransitionOut = model.TransitionDissolve
			}
			beats = append(beats, beat)
		}
	}

	beats = NormalizeSumToTotal(beats)

	for i := range structure.Acts {
		structure.Acts[i].DurationSec = 0
	}
	for _, b := range beats {
		if b.ActIndex >= 0 && b.ActIndex < len(structure.Acts) {
			structure.Acts[b.ActIndex].DurationSec += b.DurationSec
		}
	}
	structure.TotalDurationSec = structure.SumActDurations()

	return &model.MasterTimelineData{TotalDurationSec: model.TotalDurationSec, Beats: beats}
}

// actBeatDurations splits an act into long beats and spreads the short beats
// needed to fit its duration, so that short beats rarely sit next to each
// other.
func actBeatDurations(actDuration int) []int {
	if actDuration <= 0 {
		actDuration = model.LongBeatSec
	}
	n := (actDuration + model.LongBeatSec - 1) / model.LongBeatSec
	if n < 1 {
		n = 1
	}
	short := (n*model.LongBeatSec - actDuration) / step
	if short > n {
		short = n
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = model.LongBeatSec
		if short > 0 && ((i+1)*short+n/2)/n > (i*short+n/2)/n {
			out[i] = model.ShortBeatSec
		}
	}
	return out
}
