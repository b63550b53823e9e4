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

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrQCRejected is recorded when strict QC is on and no attempt passed.
var ErrQCRejected = errors.New("plan rejected by qc")

// BlueprintOptions tunes the QC loop.
type BlueprintOptions struct {
	MaxAttempts int
	// Strict fails the run when no attempt passes instead of accepting the
	// attempt with the fewest hard failures.
	Strict bool
	// History is how many fingerprints of earlier runs feed the novelty
	// check.
	History int
}

// Blueprint turns the structure into a timed, narrated shot plan. Every
// attempt builds a skeleton, asks the planner to fill it and runs the
// pre-render QC; the motifs and prompts of a rejected attempt are added to
// the avoid list of the next one. The accepted plan becomes one pending
// scene per beat.
type Blueprint struct {
	StageCommand
	planner services.Planner
	qc      *qc.Engine
	options BlueprintOptions
}

func NewBlueprint(name string, store services.RunStore, planner services.Planner, qcEngine *qc.Engine, options BlueprintOptions) *Blueprint {
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = 3
	}
	return &Blueprint{
		StageCommand: NewStageCommand(name, model.StageBlueprint, store),
		planner:      planner,
		qc:           qcEngine,
		options:      options,
	}
}

func (c *Blueprint) Execute(context cor.Context) {
	run := RunFrom(context)
	ctx := context.GetContext()

	history, err := c.Store.RecentFingerprints(ctx, c.options.History)
	if err != nil {
		slog.Warn("failed to read fingerprint history, novelty is scored against nothing", "error", err)
		history = nil
	}

	avoid := model.NewAvoidList()
	var best *qc.PreRenderResult
	attempts := 0
	for attempts < c.options.MaxAttempts {
		attempts++
		res := c.attempt(context, run, avoid, history)
		if best == nil || len(res.HardFailures) < len(best.HardFailures) {
			best = &res
		}
		if res.Passed {
			break
		}
		slog.Info("qc rejected blueprint attempt", "run_id", run.Id, "attempt", attempts, "hard_failures", describe(res.HardFailures))
		avoid.Merge(res.Shots)
	}
	if err := ctx.Err(); err != nil {
		c.fail(context, "blueprint interrupted", err)
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("attempts", attempts),
		attribute.Bool("passed", best.Passed),
		attribute.Float64("novelty", best.Novelty),
	)
	if !best.Passed {
		if c.options.Strict {
			c.fail(context, fmt.Sprintf("after %d attempts: %s", attempts, describe(best.HardFailures)), ErrQCRejected)
			return
		}
		slog.Warn("accepting best blueprint attempt with hard failures", "run_id", run.Id, "attempts", attempts, "hard_failures", describe(best.HardFailures))
	}

	run.Structure = best.Structure
	run.Timeline = best.Timeline
	run.Narration = best.Narration
	run.ShotPlan = best.Shots
	run.QCReport = best.Report

	scenes := make([]*model.SceneRecord, 0, len(best.Shots))
	for _, shot := range best.Shots {
		scenes = append(scenes, model.NewSceneRecord(run.Id, shot))
	}
	if err := c.Store.CreateScenes(ctx, scenes); err != nil {
		c.fail(context, "failed to create scenes", err)
		return
	}
	slog.Info("blueprint ready", "run_id", run.Id, "beats", len(run.Timeline.Beats), "narration_segments", len(run.Narration), "novelty", best.Novelty)

	c.advance(context, run)
}

// attempt builds and checks one candidate plan.
func (c *Blueprint) attempt(context cor.Context, run *model.FilmRun, avoid *model.AvoidList, history []*model.RunFingerprint) qc.PreRenderResult {
	structure := run.Structure.Clone()
	skeleton := timeline.BuildSkeleton(structure)

	var fills []model.BeatFill
	if c.planner != nil {
		f, err := c.planner.Narrate(context.GetContext(), structure, skeleton, avoid)
		if err != nil {
			slog.Warn("narration failed, qc fills the gaps", "run_id", run.Id, "error", err)
		} else {
			fills = f
		}
	}
	applied := timeline.Fill(skeleton, fills)
	slog.Debug("beats filled", "run_id", run.Id, "applied", applied, "beats", len(skeleton.Beats))

	return c.qc.PreRender(qc.PreRenderInput{
		Structure: structure,
		Narration: timeline.NarrationSegments(skeleton),
		Shots:     timeline.ShotPlan(structure, skeleton, fills),
		Timeline:  skeleton,
		Avoid:     avoid,
		History:   history,
	})
}

func describe(violations []model.QCViolation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.CheckID)
	}
	return strings.Join(parts, ", ")
}
