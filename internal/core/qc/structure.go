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

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

const (
	checkActs           = "structure.acts"
	checkActType        = "structure.act_type"
	checkActDuration    = "structure.act_duration"
	checkOpeningSilence = "structure.opening_silence"
	checkClosingAct     = "structure.closing_act"
	checkTotalDuration  = "structure.total_duration"
)

func (e *Engine) repairStructure(out *PreRenderResult) {
	t := newTally(out.Report, CategoryStructure)
	s := out.Structure

	if len(s.Acts) == 0 {
		for _, actType := range model.AllActTypes() {
			s.Acts = append(s.Acts, model.Act{
				ActType:      actType,
				DurationSec:  e.catalog.DefaultDuration(actType),
				ScaleType:    string(actType),
				Choreography: model.DefaultChoreography(actType),
			})
		}
		t.fix(checkActs, "structure has no acts", "0", strconv.Itoa(len(s.Acts)))
	}

	last := len(s.Acts) - 1
	for i := range s.Acts {
		act := &s.Acts[i]
		if !act.ActType.Valid() {
			replacement := model.AllActTypes()[min(i, len(model.AllActTypes())-1)]
			t.fix(checkActType, fmt.Sprintf("act %d has unknown type %q", i, act.ActType), string(act.ActType), string(replacement))
			act.ActType = replacement
		}

		if out.Timeline != nil {
			sum := 0
			for _, b := range out.Timeline.Beats {
				if b.ActIndex == i {
					sum += b.DurationSec
				}
			}
			if sum > 0 && act.DurationSec != sum {
				t.fix(checkActDuration, fmt.Sprintf("act %d duration differs from its beats", i), strconv.Itoa(act.DurationSec), strconv.Itoa(sum))
				act.DurationSec = sum
			}
		} else if act.DurationSec <= 0 || act.DurationSec > model.TotalDurationSec {
			d := e.catalog.DefaultDuration(act.ActType)
			t.fix(checkActDuration, fmt.Sprintf("act %d has invalid duration", i), strconv.Itoa(act.DurationSec), strconv.Itoa(d))
			act.DurationSec = d
		}
	}

	if s.Acts[0].SilenceDurationSec < e.policy.MinOpeningSilenceSec {
		t.fix(checkOpeningSilence, "opening silence is too short",
			fmt.Sprintf("%.2f", s.Acts[0].SilenceDurationSec), fmt.Sprintf("%.2f", e.policy.MinOpeningSilenceSec))
		s.Acts[0].SilenceDurationSec = e.policy.MinOpeningSilenceSec
	}

	if s.Acts[last].ActType != model.ActReturn {
		t.fix(checkClosingAct, "final act must be a return", string(s.Acts[last].ActType), string(model.ActReturn))
		s.Acts[last].ActType = model.ActReturn
	}

	if total := s.SumActDurations(); s.TotalDurationSec != total {
		t.fix(checkTotalDuration, "total duration recomputed from acts", strconv.Itoa(s.TotalDurationSec), strconv.Itoa(total))
		s.TotalDurationSec = total
	}

	t.done(checkActs, checkActType, checkActDuration, checkOpeningSilence, checkClosingAct, checkTotalDuration)
}
