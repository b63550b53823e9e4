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
)

const (
	checkNovelty        = "novelty.score"
	checkSameActRun     = "diversity.act_run"
	checkSameSettingRun = "diversity.setting_run"
	checkDistinctMotifs = "diversity.distinct_motifs"
)

// NoveltyScore is the share of the plan's distinct motif keys that do not
// appear in any of the history fingerprints. An empty plan scores 0.
func NoveltyScore(current []model.ShotPlanEntry, history []*model.RunFingerprint) float64 {
	keys := make(map[string]bool)
	for _, s := range current {
		keys[s.MotifKey()] = true
	}
	if len(keys) == 0 {
		return 0
	}
	prior := make(map[string]bool)
	for _, fp := range history {
		if fp == nil {
			continue
		}
		for _, m := range fp.Motifs {
			prior[m] = true
		}
	}
	fresh := 0
	for k := range keys {
		if !prior[k] {
			fresh++
		}
	}
	return float64(fresh) / float64(len(keys))
}

func (e *Engine) checkNovelty(report *model.QCReport, shots []model.ShotPlanEntry, history []*model.RunFingerprint) float64 {
	score := NoveltyScore(shots, history)
	hard(report, checkNovelty, CategoryNovelty, score >= e.policy.NoveltyThreshold,
		fmt.Sprintf("novelty %.2f is below %.2f", score, e.policy.NoveltyThreshold))
	return score
}

func (e *Engine) checkDiversity(report *model.QCReport, shots []model.ShotPlanEntry) {
	actRun := longestRun(shots, func(s model.ShotPlanEntry) string { return string(s.ActType) })
	hard(report, checkSameActRun, CategoryDiversity, actRun <= e.policy.MaxConsecutiveSameAct,
		fmt.Sprintf("%d consecutive shots share an act type, limit %d", actRun, e.policy.MaxConsecutiveSameAct))

	settingRun := longestRun(shots, func(s model.ShotPlanEntry) string { return strings.ToLower(strings.TrimSpace(s.Setting)) })
	hard(report, checkSameSettingRun, CategoryDiversity, settingRun <= e.policy.MaxConsecutiveSameSetting,
		fmt.Sprintf("%d consecutive shots share a setting, limit %d", settingRun, e.policy.MaxConsecutiveSameSetting))

	motifs := make(map[model.VisualCategory]bool)
	for _, s := range shots {
		motifs[s.Motif] = true
	}
	hard(report, checkDistinctMotifs, CategoryDiversity, len(motifs) >= e.policy.MinDistinctMotifs,
		fmt.Sprintf("%d distinct motifs, expected at least %d", len(motifs), e.policy.MinDistinctMotifs))
}

func longestRun(shots []model.ShotPlanEntry, key func(model.ShotPlanEntry) string) int {
	longest, run := 0, 0
	for i, s := range shots {
		if i > 0 && key(s) == key(shots[i-1]) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
