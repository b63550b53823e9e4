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
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
)

const (
	checkShotActIndex  = "shots.act_index"
	checkShotSource    = "shots.source"
	checkShotDuration  = "shots.duration"
	checkShotPrompt    = "shots.prompt"
	checkShotMotif     = "shots.required_motif"
	checkShotDuplicate = "shots.duplicate_prompt"
)

func (e *Engine) repairShots(out *PreRenderResult, avoid *model.AvoidList) {
	t := newTally(out.Report, CategoryShots)
	acts := len(out.Structure.Acts)

	beatByIndex := make(map[int]*model.TimelineBeat)
	if out.Timeline != nil {
		for i := range out.Timeline.Beats {
			beatByIndex[out.Timeline.Beats[i].BeatIndex] = &out.Timeline.Beats[i]
		}
	}

	for i := range out.Shots {
		shot := &out.Shots[i]
		if clamped := clampAct(shot.ActIndex, acts); clamped != shot.ActIndex {
			t.fix(checkShotActIndex, fmt.Sprintf("shot %d references act %d", i, shot.ActIndex), strconv.Itoa(shot.ActIndex), strconv.Itoa(clamped))
			shot.ActIndex = clamped
		}
		shot.ActType = actTypeAt(out.Structure, shot.ActIndex)

		if !shot.Source.Valid() {
			t.fix(checkShotSource, fmt.Sprintf("shot %d has unknown source", i), string(shot.Source), string(model.SourceGenerated))
			shot.Source = model.SourceGenerated
		}

		if beat, ok := beatByIndex[shot.BeatIndex]; ok {
			shot.DurationSec = beat.DurationSec
		} else if !model.IsAllowedBeatDuration(shot.DurationSec) {
			snapped := timeline.SnapDuration(shot.DurationSec)
			t.fix(checkShotDuration, fmt.Sprintf("shot %d duration snapped", i), strconv.Itoa(shot.DurationSec), strconv.Itoa(snapped))
			shot.DurationSec = snapped
		}

		if strings.TrimSpace(shot.RenderPrompt) == "" {
			safe := e.catalog.SafePrompt(shot.ActType)
			t.fix(checkShotPrompt, fmt.Sprintf("shot %d has no prompt", i), "", safe)
			shot.RenderPrompt = safe
		}
	}

	e.ensureMotifs(t, out)
	e.dedupePrompts(t, out.Shots, avoid)

	for _, shot := range out.Shots {
		if beat, ok := beatByIndex[shot.BeatIndex]; ok {
			beat.RenderPrompt = shot.RenderPrompt
			beat.VisualCategory = shot.Motif
		}
	}

	t.done(checkShotActIndex, checkShotSource, checkShotDuration, checkShotPrompt, checkShotMotif, checkShotDuplicate)
}

// ensureMotifs makes every act show its required motif at least once by
// taking over the act's last generated shot.
func (e *Engine) ensureMotifs(t *tally, out *PreRenderResult) {
	for a, act := range out.Structure.Acts {
		required := e.catalog.RequiredMotif(act.ActType)
		target := -1
		found := false
		for i, shot := range out.Shots {
			if shot.ActIndex != a {
				continue
			}
			if shot.Motif == required {
				found = true
				break
			}
			if shot.Source == model.SourceGenerated || target < 0 {
				target = i
			}
		}
		if found {
			continue
		}
		if target < 0 {
			if out.Timeline != nil {
				continue
			}
			out.Shots = append(out.Shots, model.ShotPlanEntry{
				BeatIndex:    nextBeatIndex(out.Shots),
				ActIndex:     a,
				ActType:      act.ActType,
				DurationSec:  model.LongBeatSec,
				Setting:      act.ScaleType,
				TimeOfDay:    act.Choreography.WithDefaults(act.ActType).TimeOfDay,
				Motif:        required,
				RenderPrompt: e.catalog.SafePrompt(act.ActType),
				Source:       model.SourceGenerated,
			})
			t.fix(checkShotMotif, fmt.Sprintf("act %d has no shots", a), "", string(required))
			continue
		}
		shot := &out.Shots[target]
		before := string(shot.Motif)
		shot.Motif = required
		shot.RenderPrompt = e.catalog.SafePrompt(act.ActType)
		shot.Source = model.SourceGenerated
		t.fix(checkShotMotif, fmt.Sprintf("act %d is missing motif %s", a, required), before, string(required))
	}
}

// dedupePrompts appends a deterministic variation to every prompt that was
// already used in this plan or is on the avoid-list.
func (e *Engine) dedupePrompts(t *tally, shots []model.ShotPlanEntry, avoid *model.AvoidList) {
	taken := make(map[string]bool)
	if avoid != nil {
		for _, p := range avoid.Prompts {
			taken[normalizePrompt(p)] = true
		}
	}
	times := e.catalog.TimeOfDayVariations
	settings := e.catalog.SettingVariations
	combos := len(times) * len(settings)

	for i := range shots {
		prompt := shots[i].RenderPrompt
		if !taken[normalizePrompt(prompt)] {
			taken[normalizePrompt(prompt)] = true
			continue
		}
		varied := prompt
		for k := 0; ; k++ {
			n := i + k
			if k < combos {
				varied = fmt.Sprintf("%s, %s, %s", prompt, times[n%len(times)], settings[(n/len(times))%len(settings)])
			} else {
				varied = fmt.Sprintf("%s, variation %d", prompt, k-combos+2)
			}
			if !taken[normalizePrompt(varied)] {
				break
			}
		}
		taken[normalizePrompt(varied)] = true
		t.fix(checkShotDuplicate, fmt.Sprintf("shot %d repeats an earlier prompt", i), prompt, varied)
		shots[i].RenderPrompt = varied
	}
}

func normalizePrompt(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), " ")
}

func nextBeatIndex(shots []model.ShotPlanEntry) int {
	next := 0
	for _, s := range shots {
		if s.BeatIndex >= next {
			next = s.BeatIndex + 1
		}
	}
	return next
}
