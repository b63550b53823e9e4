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

package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/zeebo/assert"
)

type recordingPublisher struct {
	requests []model.FilmRequest
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, req model.FilmRequest) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.requests = append(p.requests, req)
	return "msg-1", nil
}

func TestLauncherStart(t *testing.T) {
	ctx := context.Background()
	store := services.NewMemoryRunStore()
	pub := &recordingPublisher{}
	launcher := services.NewRunLauncher(store, pub)

	run, err := launcher.Start(ctx, "  my grandmother's garden  ")
	assert.NoError(t, err)
	assert.Equal(t, run.UserText, "my grandmother's garden")
	assert.Equal(t, run.Stage, model.StagePending)
	assert.Equal(t, len(pub.requests), 1)
	assert.Equal(t, pub.requests[0].RunId, run.Id)

	stored, err := store.Get(ctx, run.Id)
	assert.NoError(t, err)
	assert.Equal(t, stored.Id, run.Id)

	_, err = launcher.Start(ctx, "   ")
	assert.That(t, errors.Is(err, services.ErrEmptyText))
	_, err = launcher.Start(ctx, strings.Repeat("a", services.MaxUserTextLength+1))
	assert.That(t, errors.Is(err, services.ErrTextTooLong))
}

func TestLauncherResume(t *testing.T) {
	ctx := context.Background()
	store := services.NewMemoryRunStore()
	pub := &recordingPublisher{}
	launcher := services.NewRunLauncher(store, pub)

	run, err := launcher.Start(ctx, "text")
	assert.NoError(t, err)
	assert.NoError(t, store.Fail(ctx, run.Id, model.StageGenerating, "timeout"))

	_, err = launcher.Resume(ctx, run.Id)
	assert.NoError(t, err)
	assert.Equal(t, len(pub.requests), 2)

	_, err = launcher.Resume(ctx, "unknown")
	assert.That(t, errors.Is(err, model.ErrNotFound))

	pub.err = errors.New("topic gone")
	_, err = launcher.Resume(ctx, run.Id)
	assert.Error(t, err)
}
