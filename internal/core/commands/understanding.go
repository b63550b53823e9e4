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
	"log/slog"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Understanding asks the planner for the film's structure. A planner failure
// is not fatal: the deterministic fallback structure is used instead. The
// structure is repaired by QC before it is stored.
type Understanding struct {
	StageCommand
	planner services.Planner
	qc      *qc.Engine
}

func NewUnderstanding(name string, store services.RunStore, planner services.Planner, qcEngine *qc.Engine) *Understanding {
	return &Understanding{
		StageCommand: NewStageCommand(name, model.StageUnderstanding, store),
		planner:      planner,
		qc:           qcEngine,
	}
}

func (c *Understanding) Execute(context cor.Context) {
	run := RunFrom(context)
	ctx := context.GetContext()

	var structure *model.DocumentaryStructure
	if c.planner != nil {
		s, err := c.planner.Understand(ctx, run.UserText)
		if err != nil {
			slog.Warn("understanding failed, using fallback structure", "run_id", run.Id, "error", err)
		} else {
			structure = s
		}
	}
	fallback := structure == nil
	if fallback {
		structure = services.FallbackStructure(run.UserText)
	}

	res := c.qc.PreRender(qc.PreRenderInput{Structure: structure})
	run.Structure = res.Structure
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("fallback", fallback),
		attribute.Int("acts", len(run.Structure.Acts)),
	)
	slog.Info("structure ready", "run_id", run.Id, "acts", len(run.Structure.Acts), "fallback", fallback, "theme", run.Structure.Theme)

	c.advance(context, run)
}
