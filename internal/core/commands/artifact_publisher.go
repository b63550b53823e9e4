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
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// ArtifactStore keeps finished films. services.ArtifactService is the GCS
// implementation.
type ArtifactStore interface {
	Upload(ctx context.Context, runId string, localPath string) (string, error)
}

// ArtifactPublisher uploads the film, records the run's fingerprint for the
// novelty check of later runs and marks the run ready.
type ArtifactPublisher struct {
	StageCommand
	artifacts ArtifactStore
}

func NewArtifactPublisher(name string, store services.RunStore, artifacts ArtifactStore) *ArtifactPublisher {
	return &ArtifactPublisher{StageCommand: NewStageCommand(name, model.StageAssembling, store), artifacts: artifacts}
}

func (c *ArtifactPublisher) IsExecutable(chCtx cor.Context) bool {
	return c.StageCommand.IsExecutable(chCtx) && chCtx.Get(ParamFilmPath) != nil
}

func (c *ArtifactPublisher) Execute(chCtx cor.Context) {
	run := RunFrom(chCtx)
	ctx := chCtx.GetContext()
	path := chCtx.Get(ParamFilmPath).(string)

	uri, err := c.artifacts.Upload(ctx, run.Id, path)
	if err != nil {
		c.fail(chCtx, "failed to store film", err)
		return
	}
	run.ArtifactURI = uri
	run.Fingerprint = model.NewRunFingerprint(run.Id, run.ShotPlan)

	if !c.advance(chCtx, run) {
		return
	}
	if err := c.Store.SaveFingerprint(ctx, run.Fingerprint); err != nil {
		slog.Warn("failed to save fingerprint", "run_id", run.Id, "error", err)
	}
	slog.Info("film ready", "run_id", run.Id, "artifact", uri)
}
