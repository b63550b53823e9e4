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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// MaxUserTextLength caps the text a film can be made from.
const MaxUserTextLength = 8000

var (
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLong  = fmt.Errorf("text is longer than %d characters", MaxUserTextLength)
	ErrAlreadyReady = errors.New("run is already ready")
)

// Publisher hands a film request to whatever executes the workflow.
type Publisher interface {
	Publish(ctx context.Context, req model.FilmRequest) (string, error)
}

// RunLauncher creates runs and queues them for the workflow.
type RunLauncher struct {
	Store     RunStore
	Publisher Publisher
}

func NewRunLauncher(store RunStore, publisher Publisher) *RunLauncher {
	return &RunLauncher{Store: store, Publisher: publisher}
}

// Start creates a pending run for userText and publishes it.
func (l *RunLauncher) Start(ctx context.Context, userText string) (*model.FilmRun, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyText
	}
	if len(userText) > MaxUserTextLength {
		return nil, ErrTextTooLong
	}
	run := model.NewFilmRun(userText)
	if err := l.Store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := l.publish(ctx, run.Id); err != nil {
		return run, err
	}
	return run, nil
}

// Resume publishes an existing run again. The workflow decides whether the
// run can actually be claimed.
func (l *RunLauncher) Resume(ctx context.Context, runId string) (*model.FilmRun, error) {
	run, err := l.Store.Get(ctx, runId)
	if err != nil {
		return nil, err
	}
	if run.Stage == model.StageReady {
		return run, ErrAlreadyReady
	}
	return run, l.publish(ctx, run.Id)
}

func (l *RunLauncher) publish(ctx context.Context, runId string) error {
	msgId, err := l.Publisher.Publish(ctx, model.FilmRequest{RunId: runId})
	if err != nil {
		return fmt.Errorf("failed to publish run %s: %w", runId, err)
	}
	slog.Info("film request published", "run_id", runId, "message_id", msgId)
	return nil
}
