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

// Package timeline holds the pure functions that build, repair and validate
// the master timeline. Nothing in here performs I/O; every function either
// inspects its input or returns a modified copy.
package timeline

import (
	"fmt"
	"math"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// Validate checks every timeline invariant and returns all violations rather
// than stopping at the first one. The checks run in a fixed order: total,
// beat count, breathing count, durations, act indexes, contiguity and the
// sum of durations.
//
// Inputs:
//   - t: The timeline to check.
//   - maxActIndex: The largest act index a beat may reference.
//
// Outputs:
//   - bool: True when no violation was found.
//   - []error: Every violation as a *model.ValidationError.
func Validate(t *model.MasterTimelineData, maxActIndex int) (bool, []error) {
	errs := make([]error, 0)
	if t == nil {
		errs = append(errs, violation(model.CodeBeatCount, -1, "timeline is missing"))
		return false, errs
	}

	if t.TotalDurationSec != model.TotalDurationSec {
		errs = append(errs, violation(model.CodeTotalDuration, -1,
			fmt.Sprintf("total duration is %d, expected %d", t.TotalDurationSec, model.TotalDurationSec)))
	}

	if n := len(t.Beats); n < model.MinBeats || n > model.MaxBeats {
		errs = append(errs, violation(model.CodeBeatCount, -1,
			fmt.Sprintf("%d beats, expected between %d and %d", n, model.MinBeats, model.MaxBeats)))
	}

	if breathing := CountBeatType(t.Beats, model.BeatBreathing); breathing < model.MinBreathingBeats {
		errs = append(errs, violation(model.CodeBreathingCount, -1,
			fmt.Sprintf("%d breathing beats, expected at least %d", breathing, model.MinBreathingBeats)))
	}

	for i, b := range t.Beats {
		if !model.IsAllowedBeatDuration(b.DurationSec) {
			errs = append(errs, violation(model.CodeBeatDuration, i,
				fmt.Sprintf("duration %ds is not one of %v", b.DurationSec, model.AllowedBeatDurations())))
		}
	}

	for i, b := range t.Beats {
		if b.ActIndex < 0 || b.ActIndex > maxActIndex {
			errs = append(errs, violation(model.CodeActIndex, i,
				fmt.Sprintf("act index %d outside [0, %d]", b.ActIndex, maxActIndex)))
		}
	}

	errs = append(errs, checkContiguity(t.Beats)...)

	if sum := t.SumDurations(); sum != t.TotalDurationSec {
		errs = append(errs, violation(model.CodeSumOfDurations, -1,
			fmt.Sprintf("beat durations add up to %d, expected %d", sum, t.TotalDurationSec)))
	}

	return len(errs) == 0, errs
}

func checkContiguity(beats []model.TimelineBeat) []error {
	errs := make([]error, 0)
	if len(beats) == 0 {
		return errs
	}
	if math.Abs(beats[0].StartSec) > model.TimelineEpsilon {
		errs = append(errs, violation(model.CodeContiguity, 0,
			fmt.Sprintf("first beat starts at %.3f, expected 0", beats[0].StartSec)))
	}
	for i, b := range beats {
		if math.Abs((b.EndSec-b.StartSec)-float64(b.DurationSec)) > model.TimelineEpsilon {
			errs = append(errs, violation(model.CodeContiguity, i,
				fmt.Sprintf("span %.3f-%.3f does not match duration %d", b.StartSec, b.EndSec, b.DurationSec)))
		}
		if i+1 < len(beats) && math.Abs(b.EndSec-beats[i+1].StartSec) > model.TimelineEpsilon {
			errs = append(errs, violation(model.CodeContiguity, i,
				fmt.Sprintf("ends at %.3f but next beat starts at %.3f", b.EndSec, beats[i+1].StartSec)))
		}
	}
	return errs
}

// CountBeatType counts the beats of the given type.
func CountBeatType(beats []model.TimelineBeat, beatType model.BeatType) int {
	count := 0
	for _, b := range beats {
		if b.BeatType == beatType {
			count++
		}
	}
	return count
}

func violation(code string, beatIndex int, message string) error {
	return &model.ValidationError{Code: code, BeatIndex: beatIndex, Message: message}
}
