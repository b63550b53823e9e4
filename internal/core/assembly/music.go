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

package assembly

import (
	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly/envelope"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// DuckingEnvelope keeps the music high in silence and low under narration.
// Windows closer than two fades are merged so the music does not pump
// between sentences.
func DuckingEnvelope(placements []Placement, s Settings) *envelope.Envelope {
	env := envelope.New(s.MusicHighVolume)
	fade := s.DuckFadeSec
	windows := make([][2]float64, 0, len(placements))
	for _, p := range placements {
		if p.DurationSec <= 0 {
			continue
		}
		if n := len(windows); n > 0 && p.StartSec-windows[n-1][1] < 2*fade {
			windows[n-1][1] = max(windows[n-1][1], p.EndSec())
			continue
		}
		windows = append(windows, [2]float64{p.StartSec, p.EndSec()})
	}
	for _, w := range windows {
		env.Ramp(max(0, w[0]-fade), w[0], s.MusicHighVolume, s.MusicLowVolume).
			Hold(w[0], w[1], s.MusicLowVolume).
			Ramp(w[1], w[1]+fade, s.MusicLowVolume, s.MusicHighVolume)
	}
	return env
}

// BeatTableEnvelope sets the music level per beat from its type, scaled by
// the intensity of its act. It is used when no narration was placed.
func BeatTableEnvelope(plan *model.MusicPlan, offsets []ClipOffset, s Settings) *envelope.Envelope {
	env := envelope.New(s.MusicHighVolume)
	if plan == nil {
		return env
	}
	level := map[model.BeatType]float64{
		model.BeatNarrated:   s.MusicLowVolume,
		model.BeatBreathing:  s.MusicHighVolume,
		model.BeatTransition: (s.MusicLowVolume + s.MusicHighVolume) / 2,
	}
	intensity := make(map[int]float64, len(plan.Acts))
	for _, a := range plan.Acts {
		intensity[a.ActIndex] = a.Intensity
	}
	cues := make(map[int]model.BeatCue, len(plan.Beats))
	for _, c := range plan.Beats {
		cues[c.BeatIndex] = c
	}
	for _, o := range offsets {
		cue, ok := cues[o.BeatIndex]
		if !ok {
			continue
		}
		v, ok := level[cue.BeatType]
		if !ok {
			v = s.MusicHighVolume
		}
		if !cue.HasNarration && cue.BeatType == model.BeatNarrated {
			v = s.MusicHighVolume
		}
		v *= 0.8 + 0.4*intensity[cue.ActIndex]
		env.Hold(o.StartSec, o.StartSec+o.DurationSec, v)
	}
	return env
}

// FinalFadeEnvelope fades the music out across the whole last act. fadeSec
// is the shortest fade: a last act shorter than that, or a film that is one
// act long, fades over the final fadeSec seconds instead.
func FinalFadeEnvelope(lastActStart float64, totalSec float64, fadeSec float64) *envelope.Envelope {
	start := lastActStart
	if start <= 0 || totalSec-start < fadeSec {
		start = max(totalSec-fadeSec, 0)
	}
	return envelope.New(1).Ramp(start, totalSec, 1, 0)
}
