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
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// RunClaimer takes ownership of the requested run by moving it to the stage
// it resumes at. A run that is busy elsewhere or already finished is left
// alone without an error, so its message is acknowledged; the stage commands
// then find no run in the context and skip.
type RunClaimer struct {
	cor.BaseCommand
	store      services.RunStore
	staleAfter time.Duration
	now        func() time.Time
}

func NewRunClaimer(name string, store services.RunStore, staleAfter time.Duration) *RunClaimer {
	out := &RunClaimer{BaseCommand: *cor.NewBaseCommand(name), store: store, staleAfter: staleAfter, now: time.Now}
	out.InputParamName = ParamRequest
	return out
}

// SetClock replaces the time source used for stale claims.
func (c *RunClaimer) SetClock(now func() time.Time) {
	c.now = now
}

func (c *RunClaimer) Execute(context cor.Context) {
	req := context.Get(c.GetInputParam()).(*model.FilmRequest)
	ctx := context.GetContext()

	run, err := c.store.Get(ctx, req.RunId)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("film request for an unknown run, dropping", "run_id", req.RunId)
		return
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to load run %s: %w", req.RunId, err))
		return
	}
	if !services.Claimable(run, c.now(), c.staleAfter) {
		slog.Info("run not claimable, skipping", "run_id", run.Id, "stage", run.Stage, "updated_at", run.UpdatedAt)
		return
	}

	target := run.ResumeStage()
	claimed, err := c.store.Transition(ctx, run.Id, run.Stage, run.Version, target)
	if errors.Is(err, model.ErrRunNotClaimable) {
		slog.Info("run claimed by another worker", "run_id", run.Id)
		return
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to claim run %s: %w", run.Id, err))
		return
	}

	slog.Info("run claimed", "run_id", claimed.Id, "from", run.Stage, "stage", claimed.Stage, "version", claimed.Version)
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(ParamRun, claimed)
}
