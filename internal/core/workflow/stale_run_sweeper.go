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

package workflow

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// StaleRunSweeper republishes the requests of runs whose worker stopped
// writing, so another worker claims them. Claiming still goes through the
// stale check of the claimer; the sweeper only makes sure a message exists.
type StaleRunSweeper struct {
	cor.BaseCommand
	store      services.RunStore
	publisher  services.Publisher
	staleAfter time.Duration
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewStaleRunSweeper(store services.RunStore, publisher services.Publisher, staleAfter time.Duration, interval time.Duration) *StaleRunSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleRunSweeper{
		BaseCommand: *cor.NewBaseCommand("stale-run-sweeper"),
		store:       store,
		publisher:   publisher,
		staleAfter:  staleAfter,
		interval:    interval,
		limit:       50,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (s *StaleRunSweeper) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StaleRunSweeper) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil && s.staleAfter > 0
}

func (s *StaleRunSweeper) Execute(context cor.Context) {
	ctx := context.GetContext()
	runs, err := s.store.ListStale(ctx, s.now().Add(-s.staleAfter), s.limit)
	if err != nil {
		s.GetErrorCounter().Add(ctx, 1)
		context.AddError(s.GetName(), fmt.Errorf("failed to list stale runs: %w", err))
		return
	}
	for _, run := range runs {
		if _, err := s.publisher.Publish(ctx, model.FilmRequest{RunId: run.Id}); err != nil {
			s.GetErrorCounter().Add(ctx, 1)
			context.AddError(s.GetName()+"/"+run.Id, err)
			continue
		}
		slog.Info("stale run requeued", "run_id", run.Id, "stage", run.Stage, "updated_at", run.UpdatedAt)
		s.GetSuccessCounter().Add(ctx, 1)
	}
	context.Add(s.GetOutputParam(), len(runs))
}

// StartTimer sweeps every interval until ctx is done.
func (s *StaleRunSweeper) StartTimer(ctx goctx.Context) {
	if s.staleAfter <= 0 {
		slog.Info("stale run sweeper disabled")
		return
	}
	tracer := otel.Tracer("stale-run-sweeper")
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, "sweep-stale-runs")
				chainCtx := cor.NewBaseContext()
				chainCtx.SetContext(traceCtx)

				s.Execute(chainCtx)

				if chainCtx.HasErrors() {
					span.SetStatus(codes.Error, "failed to sweep stale runs")
				} else {
					span.SetStatus(codes.Ok, "swept stale runs")
				}
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}
