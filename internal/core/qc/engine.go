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

// Package qc validates and repairs planner output before any render job is
// submitted, and reports on the rendered media afterwards.
//
// Checks come in two severities. Soft checks are repaired in place and the
// repair is recorded on the report. Hard checks (novelty, diversity and the
// timeline gates) cannot be patched; a hard failure tells the caller to
// regenerate the plan with an updated avoid-list. Repairs are deterministic,
// so running PreRender on its own output records no further fixes.
package qc

import (
	"log/slog"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// Check categories.
const (
	CategoryStructure = "structure"
	CategoryNarration = "narration"
	CategoryShots     = "shots"
	CategoryNovelty   = "novelty"
	CategoryDiversity = "diversity"
	CategoryTimeline  = "timeline"
	CategoryRender    = "render"
)

// Engine runs the quality checks with a fixed policy and content catalog.
type Engine struct {
	policy  Policy
	catalog *Catalog
}

// NewEngine creates an engine. Zero thresholds in policy take their default
// values and a nil catalog is replaced by the embedded one.
func NewEngine(policy Policy, catalog *Catalog) (*Engine, error) {
	if catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	return &Engine{policy: policy.WithDefaults(), catalog: catalog}, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// PreRenderInput is the untrusted plan to check. Timeline, Avoid and History
// are optional.
type PreRenderInput struct {
	Structure *model.DocumentaryStructure
	Narration []model.NarrationSegment
	Shots     []model.ShotPlanEntry
	Timeline  *model.MasterTimelineData
	Avoid     *model.AvoidList
	History   []*model.RunFingerprint
}

// PreRenderResult holds the repaired copy of the plan and the verdict.
type PreRenderResult struct {
	Structure    *model.DocumentaryStructure
	Narration    []model.NarrationSegment
	Shots        []model.ShotPlanEntry
	Timeline     *model.MasterTimelineData
	Report       *model.QCReport
	Passed       bool
	HardFailures []model.QCViolation
	Novelty      float64
}

// PreRender repairs the soft issues of a plan and gates it on the hard
// checks. The input is never modified.
func (e *Engine) PreRender(in PreRenderInput) PreRenderResult {
	out := PreRenderResult{
		Structure: in.Structure.Clone(),
		Narration: model.CloneNarration(in.Narration),
		Shots:     model.CloneShots(in.Shots),
		Timeline:  in.Timeline.Clone(),
		Report:    model.NewQCReport(),
	}
	if out.Structure == nil {
		out.Structure = &model.DocumentaryStructure{}
	}

	e.repairStructure(&out)
	e.repairNarration(&out)
	e.repairShots(&out, in.Avoid)

	out.Novelty = e.checkNovelty(out.Report, out.Shots, in.History)
	e.checkDiversity(out.Report, out.Shots)
	if out.Timeline != nil {
		e.checkTimeline(out.Report, out.Timeline, out.Structure)
	}

	summary := out.Report.Finalize()
	out.HardFailures = out.Report.HardFailures()
	out.Passed = len(out.HardFailures) == 0
	slog.Debug("pre-render qc finished",
		"passed", out.Passed,
		"checks", summary.Total,
		"fixes", summary.Fixes,
		"hard_failures", summary.Hard,
		"novelty", out.Novelty)
	return out
}

// tally records one check entry per check id: a pass when nothing was fixed,
// otherwise a soft failure per repair.
type tally struct {
	report   *model.QCReport
	category string
	fixes    map[string]int
}

func newTally(report *model.QCReport, category string) *tally {
	return &tally{report: report, category: category, fixes: make(map[string]int)}
}

func (t *tally) fix(id string, message string, before string, after string) {
	t.report.Fail(id, t.category, model.SeveritySoft, message)
	t.report.AddFix(id, before, after)
	t.fixes[id]++
}

func (t *tally) done(ids ...string) {
	for _, id := range ids {
		if t.fixes[id] == 0 {
			t.report.Pass(id, t.category, model.SeveritySoft)
		}
	}
}

func hard(report *model.QCReport, id string, category string, ok bool, message string) {
	if ok {
		report.Pass(id, category, model.SeverityHard)
		return
	}
	report.Fail(id, category, model.SeverityHard, message)
}

func actTypeAt(structure *model.DocumentaryStructure, actIndex int) model.ActType {
	if structure == nil || actIndex < 0 || actIndex >= len(structure.Acts) {
		return model.ActHumanScale
	}
	return structure.Acts[actIndex].ActType
}

func clampAct(actIndex int, acts int) int {
	if actIndex < 0 || acts == 0 {
		return 0
	}
	if actIndex >= acts {
		return acts - 1
	}
	return actIndex
}
