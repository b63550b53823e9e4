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

// Package services contains the adapters between the film pipeline and the
// outside world: the run store, the planner, the render, speech and music
// services, and the artifact store. Every adapter is an interface with one
// production implementation and, where tests need it, an in-memory one.
package services

import (
	"context"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// RunStore persists runs, their scenes and the fingerprints of finished runs.
//
// Writes to a run are guarded by its Version. Transition and Save only apply
// when the caller's version matches the stored one, and both bump it, so a
// worker that lost its claim gets model.ErrRunNotClaimable on its next write.
type RunStore interface {
	Create(ctx context.Context, run *model.FilmRun) error
	// Get returns model.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.FilmRun, error)
	// Transition moves a run from one stage to another when both the stage and
	// the version still match.
	Transition(ctx context.Context, id string, from model.Stage, fromVersion int64, to model.Stage) (*model.FilmRun, error)
	// Save writes the whole run when run.Version matches, then updates
	// run.Version to the stored value.
	Save(ctx context.Context, run *model.FilmRun) error
	// Fail marks the run failed at stage, whatever its version.
	Fail(ctx context.Context, id string, stage model.Stage, message string) error

	// CreateScenes replaces the scenes of the runs in scenes.
	CreateScenes(ctx context.Context, scenes []*model.SceneRecord) error
	// ClaimScene moves a pending scene to processing. It returns
	// model.ErrRunNotClaimable when the scene is not pending.
	ClaimScene(ctx context.Context, runId string, beatIndex int) (*model.SceneRecord, error)
	SaveScene(ctx context.Context, scene *model.SceneRecord) error
	// ListScenes returns the scenes of a run ordered by beat index.
	ListScenes(ctx context.Context, runId string) ([]*model.SceneRecord, error)

	SaveFingerprint(ctx context.Context, fp *model.RunFingerprint) error
	// RecentFingerprints returns up to limit fingerprints, newest first.
	RecentFingerprints(ctx context.Context, limit int) ([]*model.RunFingerprint, error)
	CountByStage(ctx context.Context) ([]model.StageCount, error)
	// ListStale returns up to limit in-progress runs last written before
	// updatedBefore, oldest first.
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.FilmRun, error)
}

// Claimable reports whether a worker may take over run now. Pending, failed
// and generating runs are always claimable. Any other in-progress stage is
// claimable once the run has not been written for staleAfter, which is how
// the runs of crashed workers are recovered. A zero staleAfter disables that
// recovery.
func Claimable(run *model.FilmRun, now time.Time, staleAfter time.Duration) bool {
	switch run.Stage {
	case model.StagePending, model.StageFailed, model.StageGenerating:
		return true
	}
	if !run.Stage.InProgress() || staleAfter <= 0 {
		return false
	}
	return now.Sub(run.UpdatedAt) >= staleAfter
}
