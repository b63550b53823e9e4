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

package qc

import (
	"fmt"
	"math"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

const (
	checkSceneURL       = "render.scene_url"
	checkSceneDuration  = "render.scene_duration"
	checkSceneDrift     = "render.scene_drift"
	checkRenderedTotal  = "render.total_duration"
	checkNarrationFrame = "render.narration_window"
)

// ActWindow is the span of an act in the rendered film.
type ActWindow struct {
	ActIndex int
	StartSec float64
	EndSec   float64
}

// RenderedClip is one assembled clip: SourceSec is what the render service
// delivered, TargetSec the beat duration it was normalized to.
type RenderedClip struct {
	BeatIndex int
	SourceSec float64
	TargetSec float64
}

// PlacedNarration is a narration recording where it landed in the film.
type PlacedNarration struct {
	Segment     int
	ActIndex    int
	StartSec    float64
	DurationSec float64
}

// PostRenderInput describes the realized media. Windows may be left empty,
// in which case they are taken from Timeline.
type PostRenderInput struct {
	Scenes           []*model.SceneRecord
	Clips            []RenderedClip
	Placements       []PlacedNarration
	Timeline         *model.MasterTimelineData
	PlannedTotalSec  float64
	RenderedTotalSec float64
	Windows          []ActWindow
}

// PostRender checks the rendered artifacts against the plan. It only
// reports; the media can no longer be changed.
func (e *Engine) PostRender(in PostRenderInput) *model.QCReport {
	report := model.NewQCReport()

	missing := make([]string, 0)
	for _, s := range in.Scenes {
		if s.Status == model.RenderReady && strings.TrimSpace(s.Url) == "" {
			missing = append(missing, fmt.Sprintf("beat %d", s.BeatIndex))
		}
	}
	hard(report, checkSceneURL, CategoryRender, len(missing) == 0, "ready scenes without a url: "+strings.Join(missing, ", "))

	badDuration := make([]string, 0)
	drifted := make([]string, 0)
	for _, c := range in.Clips {
		if c.SourceSec <= 0 || !model.IsAllowedBeatDuration(int(math.Round(c.TargetSec))) {
			badDuration = append(badDuration, fmt.Sprintf("beat %d (%.2fs rendered for %.2fs)", c.BeatIndex, c.SourceSec, c.TargetSec))
			continue
		}
		if math.Abs(c.SourceSec-c.TargetSec) > e.policy.DurationToleranceSec {
			drifted = append(drifted, fmt.Sprintf("beat %d (%.2fs rendered for %.2fs)", c.BeatIndex, c.SourceSec, c.TargetSec))
		}
	}
	hard(report, checkSceneDuration, CategoryRender, len(badDuration) == 0, "clips without media or with a duration outside the allowed set: "+strings.Join(badDuration, ", "))
	report.AddCheck(model.QCCheck{
		ID:       checkSceneDrift,
		Category: CategoryRender,
		Severity: model.SeveritySoft,
		Passed:   len(drifted) == 0,
		Message:  strings.Join(drifted, ", "),
	})

	planned := in.PlannedTotalSec
	if planned <= 0 {
		planned = model.TotalDurationSec
	}
	drift := math.Abs(in.RenderedTotalSec - planned)
	report.AddCheck(model.QCCheck{
		ID:       checkRenderedTotal,
		Category: CategoryRender,
		Severity: model.SeveritySoft,
		Passed:   drift <= e.policy.DurationToleranceSec,
		Message:  fmt.Sprintf("rendered %.2fs against planned %.2fs", in.RenderedTotalSec, planned),
	})

	windows := make(map[int]ActWindow)
	for _, w := range in.Windows {
		windows[w.ActIndex] = w
	}
	if len(windows) == 0 && in.Timeline != nil {
		for _, b := range in.Timeline.Beats {
			if _, ok := windows[b.ActIndex]; ok {
				continue
			}
			if start, end, ok := in.Timeline.ActWindow(b.ActIndex); ok {
				windows[b.ActIndex] = ActWindow{ActIndex: b.ActIndex, StartSec: start, EndSec: end}
			}
		}
	}
	outside := make([]string, 0)
	for _, p := range in.Placements {
		w, ok := windows[p.ActIndex]
		if !ok {
			outside = append(outside, fmt.Sprintf("segment %d (act %d is not in the film)", p.Segment, p.ActIndex))
			continue
		}
		end := p.StartSec + p.DurationSec
		if p.StartSec < w.StartSec-model.TimelineEpsilon || end > w.EndSec+e.policy.DurationToleranceSec {
			outside = append(outside, fmt.Sprintf("segment %d (%.2f-%.2f outside %.2f-%.2f)", p.Segment, p.StartSec, end, w.StartSec, w.EndSec))
		}
	}
	report.AddCheck(model.QCCheck{
		ID:       checkNarrationFrame,
		Category: CategoryRender,
		Severity: model.SeveritySoft,
		Passed:   len(outside) == 0,
		Message:  strings.Join(outside, ", "),
	})

	report.Finalize()
	return report
}
