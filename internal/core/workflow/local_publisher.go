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
	"context"
	"log/slog"
	"sync"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// LocalPublisher runs film requests in-process instead of sending them to
// Pub/Sub. It backs the server when no topic is configured, and the tests.
type LocalPublisher struct {
	workflow *FilmWorkflow
	ctx      context.Context
	wg       sync.WaitGroup
}

// NewLocalPublisher runs requests under ctx; cancelling it stops them.
func NewLocalPublisher(ctx context.Context, workflow *FilmWorkflow) *LocalPublisher {
	return &LocalPublisher{workflow: workflow, ctx: ctx}
}

func (p *LocalPublisher) Publish(_ context.Context, req model.FilmRequest) (string, error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.workflow.Run(p.ctx, req.RunId); err != nil {
			slog.Error("local film run failed", "run_id", req.RunId, "error", err)
		}
	}()
	return "local-" + req.RunId, nil
}

// Wait blocks until every published request has finished.
func (p *LocalPublisher) Wait() {
	p.wg.Wait()
}
