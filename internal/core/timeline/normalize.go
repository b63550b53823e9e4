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
	"log/slog"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

const step = model.LongBeatSec - model.ShortBeatSec

// Recompute reassigns BeatIndex, StartSec and EndSec from the beat order and
// durations. It modifies beats in place and returns it.
func Recompute(beats []model.TimelineBeat) []model.TimelineBeat {
	offset := 0.0
	for i := range beats {
		beats[i].BeatIndex = i
		beats[i].StartSec = offset
		offset += float64(beats[i].DurationSec)
		beats[i].EndSec = offset
	}
	return beats
}

// SnapDuration returns the allowed beat duration closest to d.
func SnapDuration(d int) int {
	if d <= (model.ShortBeatSec+model.LongBeatSec)/2-1 {
		return model.ShortBeatSec
	}
	return model.LongBeatSec
}

// NormalizeSumToTotal closes the gap between the sum of beat durations and
// model.TotalDurationSec. A short beat is upgraded when the total is too
// low, a long beat is downgraded when it is too high, and a breathing beat is
// appended only when nothing can absorb the difference and there is room
// under model.MaxBeats. The input is not modified. An exact timeline comes
// back unchanged. More than model.MaxBeats beats are first cut down to the
// maximum by trimToMaxBeats.
func NormalizeSumToTotal(beats []model.TimelineBeat) []model.TimelineBeat {
	out := model.CloneBeats(beats)
	for i := range out {
		if !model.IsAllowedBeatDuration(out[i].DurationSec) {
			out[i].DurationSec = SnapDuration(out[i].DurationSec)
		}
	}
	out = trimToMaxBeats(out)
	Recompute(out)

	// Each pass moves the total by at least one step, so this bound is never
	// reached for timelines with allowed durations.
	for guard := 0; guard < 4*model.MaxBeats; guard++ {
		delta := model.TotalDurationSec - sumDurations(out)
		if delta == 0 {
			return out
		}
		switch {
		case delta >= step:
			if i := lastWithDuration(out, model.ShortBeatSec); i >= 0 {
				out[i].DurationSec = model.LongBeatSec
				Recompute(out)
				continue
			}
			if len(out) < model.MaxBeats {
				out = appendBreathing(out, delta)
				continue
			}
		case delta <= -step:
			if i := lastWithDuration(out, model.LongBeatSec); i >= 0 {
				out[i].DurationSec = model.ShortBeatSec
				Recompute(out)
				continue
			}
		}
		slog.Warn("timeline cannot be normalized", "delta", delta, "beats", len(out))
		return out
	}
	return out
}

// trimToMaxBeats drops beats until at most model.MaxBeats remain. Each drop
// takes the last narrated beat of the act with the most beats, so the opening
// and closing beats of every act survive.
func trimToMaxBeats(beats []model.TimelineBeat) []model.TimelineBeat {
	for len(beats) > model.MaxBeats {
		counts := make(map[int]int)
		for _, b := range beats {
			counts[b.ActIndex]++
		}
		drop := -1
		for i := len(beats) - 1; i >= 0; i-- {
			if beats[i].BeatType != model.BeatNarrated {
				continue
			}
			if drop < 0 || counts[beats[i].ActIndex] > counts[beats[drop].ActIndex] {
				drop = i
			}
		}
		if drop < 0 {
			drop = len(beats) - 1
		}
		slog.Debug("dropping beat over the beat limit", "beat", drop, "act", beats[drop].ActIndex, "beats", len(beats))
		beats = append(beats[:drop], beats[drop+1:]...)
	}
	return beats
}

func appendBreathing(beats []model.TimelineBeat, delta int) []model.TimelineBeat {
	beat := model.TimelineBeat{
		BeatType:       model.BeatBreathing,
		DurationSec:    model.ShortBeatSec,
		TransitionOut:  model.TransitionCut,
		VisualCategory: model.MotifLight,
	}
	if delta >= model.LongBeatSec {
		beat.DurationSec = model.LongBeatSec
	}
	if n := len(beats); n > 0 {
		last := beats[n-1]
		beat.ActIndex = last.ActIndex
		beat.VisualCategory = last.VisualCategory
		beat.CameraGrammar = last.CameraGrammar
		beat.Lighting = last.Lighting
		beat.RenderPrompt = last.RenderPrompt
	}
	return Recompute(append(beats, beat))
}

func lastWithDuration(beats []model.TimelineBeat, d int) int {
	for i := len(beats) - 1; i >= 0; i-- {
		if beats[i].DurationSec == d {
			return i
		}
	}
	return -1
}

func sumDurations(beats []model.TimelineBeat) int {
	total := 0
	for _, b := range beats {
		total += b.DurationSec
	}
	return total
}
