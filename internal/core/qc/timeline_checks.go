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
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
)

const (
	checkTimelineValid      = "timeline.valid"
	checkTimelineAvg        = "timeline.avg_duration"
	checkTimelineBreathing  = "timeline.breathing"
	checkTimelineShortRun   = "timeline.short_run"
	checkTimelineUniformity = "timeline.act_uniformity"
	checkTimelineNarrated   = "timeline.narrated_text"
)

func (e *Engine) checkTimeline(report *model.QCReport, t *model.MasterTimelineData, structure *model.DocumentaryStructure) {
	ok, errs := timeline.Validate(t, structure.MaxActIndex())
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	hard(report, checkTimelineValid, CategoryTimeline, ok, strings.Join(messages, "; "))

	allowed := true
	for _, b := range t.Beats {
		if !model.IsAllowedBeatDuration(b.DurationSec) {
			allowed = false
		}
	}
	avg := 0.0
	if len(t.Beats) > 0 {
		avg = float64(t.SumDurations()) / float64(len(t.Beats))
	}
	hard(report, checkTimelineAvg, CategoryTimeline, allowed && avg >= e.policy.MinAvgBeatSec,
		fmt.Sprintf("average beat %.2fs (floor %.2fs), all durations allowed: %t", avg, e.policy.MinAvgBeatSec, allowed))

	breathing := timeline.CountBeatType(t.Beats, model.BeatBreathing)
	hard(report, checkTimelineBreathing, CategoryTimeline, breathing >= model.MinBreathingBeats,
		fmt.Sprintf("%d breathing beats, expected at least %d", breathing, model.MinBreathingBeats))

	run, longest := 0, 0
	for _, b := range t.Beats {
		if b.DurationSec < model.LongBeatSec {
			run++
		} else {
			run = 0
		}
		longest = max(longest, run)
	}
	hard(report, checkTimelineShortRun, CategoryTimeline, longest <= e.policy.MaxConsecutiveShortBeats,
		fmt.Sprintf("%d consecutive short beats, limit %d", longest, e.policy.MaxConsecutiveShortBeats))

	mixed := make([]string, 0)
	first := make(map[int]model.TimelineBeat)
	for _, b := range t.Beats {
		f, seen := first[b.ActIndex]
		if !seen {
			first[b.ActIndex] = b
			continue
		}
		if f.CameraGrammar.Motion != b.CameraGrammar.Motion || f.Lighting != b.Lighting {
			mixed = append(mixed, fmt.Sprintf("beat %d", b.BeatIndex))
		}
	}
	hard(report, checkTimelineUniformity, CategoryTimeline, len(mixed) == 0,
		"camera motion or lighting changes inside an act at "+strings.Join(mixed, ", "))

	silent := make([]string, 0)
	for _, b := range t.Beats {
		if b.BeatType == model.BeatNarrated && strings.TrimSpace(b.Narration()) == "" {
			silent = append(silent, fmt.Sprintf("beat %d", b.BeatIndex))
		}
	}
	hard(report, checkTimelineNarrated, CategoryTimeline, len(silent) == 0,
		"narrated beats without text: "+strings.Join(silent, ", "))
}
