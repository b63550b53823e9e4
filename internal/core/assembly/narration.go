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
	"math"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// PlacementSettings controls where narration lands relative to its clip.
type PlacementSettings struct {
	OffsetSec float64
	MinGapSec float64
}

// Placement is the realized position of one narration recording.
type Placement struct {
	Segment     int
	StartSec    float64
	DurationSec float64
}

// EndSec is where the recording stops.
func (p Placement) EndSec() float64 {
	return p.StartSec + p.DurationSec
}

// PlaceNarration positions recordings of the given durations in order. Each
// starts at its clip start plus the offset, but never before the previous
// recording ended plus the minimum gap. When a recording would end past
// runwaySec, the silence before it and every later recording is scaled down
// by one factor so the narration fits; recordings placed before it keep their
// positions unless the tail cannot fit on its own. The recordings themselves
// are never shortened.
func PlaceNarration(durations []float64, clipStarts []float64, settings PlacementSettings, runwaySec float64) []Placement {
	n := min(len(durations), len(clipStarts))
	out := make([]Placement, n)
	slack := make([]float64, n)
	prevEnd := 0.0
	first := -1
	for i := 0; i < n; i++ {
		d := math.Max(0, durations[i])
		start := math.Max(0, clipStarts[i]+settings.OffsetSec)
		if i > 0 {
			start = math.Max(start, prevEnd+settings.MinGapSec)
		}
		slack[i] = start - prevEnd
		out[i] = Placement{Segment: i, StartSec: start, DurationSec: d}
		prevEnd = start + d
		if first < 0 && runwaySec > 0 && prevEnd > runwaySec+model.TimelineEpsilon {
			first = i
		}
	}
	if first < 0 {
		return out
	}

	for k := first; k >= 0; k-- {
		base := 0.0
		if k > 0 {
			base = out[k-1].EndSec()
		}
		totalSlack, totalSpoken := 0.0, 0.0
		for i := k; i < n; i++ {
			totalSlack += slack[i]
			totalSpoken += out[i].DurationSec
		}
		room := runwaySec - base - totalSpoken
		if room < 0 && k > 0 {
			continue
		}
		factor := 0.0
		if totalSlack > 0 {
			factor = math.Max(0, math.Min(1, room/totalSlack))
		}
		prevEnd = base
		for i := k; i < n; i++ {
			out[i].StartSec = prevEnd + slack[i]*factor
			prevEnd = out[i].EndSec()
		}
		break
	}
	return out
}
