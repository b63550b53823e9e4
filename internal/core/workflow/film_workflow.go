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

// Package workflow combines the film commands into the pipelines the server
// runs: the film workflow that takes one run from its request to a finished
// film, and the sweeper that recovers runs abandoned by crashed workers.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/commands"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// Dependencies are the services the film workflow runs on. Planner,
// Synthesizer and Music may be nil: the structure then comes from the
// fallback, narration is silent and the film has no music.
type Dependencies struct {
	Store         services.RunStore
	Planner       services.Planner
	Render        services.RenderService
	Synthesizer   services.Synthesizer
	Music         services.MusicSource
	Artifacts     commands.ArtifactStore
	StorageClient *storage.Client // only needed for gs:// clip URLs
	QC            *qc.Engine
	Assembly      *assembly.Engine
}

// Options tune the stages.
type Options struct {
	StaleAfter          time.Duration
	Blueprint           commands.BlueprintOptions
	Generating          commands.GeneratingOptions
	DownloadConcurrency int
	NarrationWorkers    int
	ScratchDir          string
}

// FilmWorkflow drives one run through the stage machine:
//
//	pending -> understanding -> blueprint -> generating -> assembling -> ready
//
// Every stage command checks the stage of the claimed run before it runs, so
// the same chain serves new runs and resumed ones: a run claimed at
// generating skips understanding and blueprint and picks up its scenes where
// they were left.
//
// When a command records an error the run is marked failed at its current
// stage, unless the error says another worker owns the run now.
type FilmWorkflow struct {
	cor.BaseCommand
	deps    Dependencies
	options Options
	chain   cor.Chain
}

func (m *FilmWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)

	run := commands.RunFrom(context)
	if run == nil || !context.HasErrors() {
		return
	}
	name, err := context.FirstError()
	if errors.Is(err, model.ErrRunNotClaimable) {
		slog.Warn("run taken over by another worker, leaving it", "run_id", run.Id, "command", name, "error", err)
		return
	}
	message := fmt.Sprintf("%s: %v", name, err)
	slog.Error("run failed", "run_id", run.Id, "stage", run.Stage, "error", message)
	if ferr := m.deps.Store.Fail(context.GetContext(), run.Id, run.Stage, message); ferr != nil {
		context.AddError(m.GetName(), fmt.Errorf("failed to record failure of run %s: %w", run.Id, ferr))
	}
}

// Run executes the workflow for runId in the calling goroutine and returns
// the stored run afterwards, with the first error of the chain.
func (m *FilmWorkflow) Run(ctx context.Context, runId string) (*model.FilmRun, error) {
	data, err := json.Marshal(model.FilmRequest{RunId: runId})
	if err != nil {
		return nil, err
	}
	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetContext(ctx)
	chCtx.Add(cor.CtxIn, string(data))

	m.Execute(chCtx)

	_, runErr := chCtx.FirstError()
	run, err := m.deps.Store.Get(ctx, runId)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return run, runErr
}

func (m *FilmWorkflow) initializeChain() {
	d, o := m.deps, m.options
	out := cor.NewBaseChain(m.GetName())

	out.AddCommand(commands.NewFilmTriggerReader("film-trigger-reader"))
	out.AddCommand(commands.NewRunClaimer("claim-run", d.Store, o.StaleAfter))

	out.AddCommand(commands.NewUnderstanding("understanding", d.Store, d.Planner, d.QC))
	out.AddCommand(commands.NewBlueprint("blueprint", d.Store, d.Planner, d.QC, o.Blueprint))
	out.AddCommand(commands.NewGenerating("generating", d.Store, d.Render, d.QC.Catalog(), o.Generating))

	// assembling: fetch, record, score, cut, publish
	out.AddCommand(commands.NewClipFetcher("fetch-clips", d.Store, d.StorageClient, o.ScratchDir, o.DownloadConcurrency))
	out.AddCommand(commands.NewNarrationSynthesizer("synthesize-narration", d.Store, d.Synthesizer, o.NarrationWorkers))
	out.AddCommand(commands.NewMusicResolver("resolve-music", d.Store, d.Music))
	out.AddCommand(commands.NewFilmAssembler("assemble-film", d.Store, d.Assembly, d.QC))
	out.AddCommand(commands.NewArtifactPublisher("publish-film", d.Store, d.Artifacts))

	m.chain = out
}

// NewFilmWorkflow builds the workflow. Store, Render, Artifacts, QC and
// Assembly are required.
func NewFilmWorkflow(deps Dependencies, options Options) *FilmWorkflow {
	out := &FilmWorkflow{
		BaseCommand: *cor.NewBaseCommand("film-workflow"),
		deps:        deps,
		options:     options,
	}
	out.initializeChain()
	return out
}
