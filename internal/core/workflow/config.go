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
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/commands"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// QCPolicy converts the [qc] section. Zero values keep the defaults.
func QCPolicy(c cloud.QC) qc.Policy {
	return qc.Policy{
		MinOpeningSilenceSec:      c.MinOpeningSilenceSec,
		MaxSegmentWords:           c.MaxSegmentWords,
		NoveltyThreshold:          c.NoveltyThreshold,
		MaxConsecutiveSameAct:     c.MaxConsecutiveSameAct,
		MaxConsecutiveSameSetting: c.MaxConsecutiveSameSetting,
		MinDistinctMotifs:         c.MinDistinctMotifs,
		MinAvgBeatSec:             c.MinAvgBeatSec,
		DurationToleranceSec:      c.DurationToleranceSec,
	}.WithDefaults()
}

// AssemblySettings converts the [assembly] section. Grades configured for an
// act type replace the default grade of that act only.
func AssemblySettings(c cloud.Assembly) assembly.Settings {
	grades := assembly.DefaultGrades()
	for key, g := range c.Grades {
		actType := model.ActType(key)
		if !actType.Valid() {
			slog.Warn("ignoring grade for unknown act type", "act_type", key)
			continue
		}
		grades[actType] = assembly.Grade(g)
	}
	return assembly.Settings{
		Width:              c.Width,
		Height:             c.Height,
		FPS:                c.FPS,
		CRF:                c.CRF,
		Preset:             c.Preset,
		TransitionSec:      c.TransitionSec,
		DipSec:             c.DipSec,
		NarrationOffsetSec: c.NarrationOffsetSec,
		NarrationGapSec:    c.NarrationGapSec,
		MusicHighVolume:    c.MusicHighVolume,
		MusicLowVolume:     c.MusicLowVolume,
		FinalFadeSec:       c.FinalFadeSec,
		Workers:            c.Workers,
		ScratchDir:         c.ScratchDir,
		Grades:             grades,
	}.WithDefaults()
}

func GeneratingOptions(o cloud.Orchestrator) commands.GeneratingOptions {
	return commands.GeneratingOptions{
		Concurrency:       o.SubmitConcurrency,
		PollInterval:      time.Duration(o.PollIntervalSeconds) * time.Second,
		Timeout:           time.Duration(o.RenderTimeoutMinutes) * time.Minute,
		MaxPollIterations: o.MaxPollIterations,
	}
}

func BlueprintOptions(o cloud.Orchestrator) commands.BlueprintOptions {
	return commands.BlueprintOptions{
		MaxAttempts: o.QCMaxAttempts,
		Strict:      o.StrictQC,
		History:     o.FingerprintHistory,
	}
}

// WorkflowOptions converts the [orchestrator] and [assembly] sections.
func WorkflowOptions(config *cloud.Config) Options {
	return Options{
		StaleAfter:          time.Duration(config.Orchestrator.StaleAfterMinutes) * time.Minute,
		Blueprint:           BlueprintOptions(config.Orchestrator),
		Generating:          GeneratingOptions(config.Orchestrator),
		DownloadConcurrency: config.Orchestrator.DownloadConcurrency,
		NarrationWorkers:    config.Application.ThreadPoolSize,
		ScratchDir:          config.Assembly.ScratchDir,
	}
}

// NewBigQueryRunStore creates the run store described by
// [big_query_data_source].
func NewBigQueryRunStore(config *cloud.Config, serviceClients *cloud.ServiceClients) *services.BigQueryRunStore {
	return &services.BigQueryRunStore{
		BigqueryClient:    serviceClients.BigQueryClient,
		DatasetName:       config.BigQueryDataSource.DatasetName,
		RunsTable:         config.BigQueryDataSource.RunsTable,
		ScenesTable:       config.BigQueryDataSource.ScenesTable,
		FingerprintsTable: config.BigQueryDataSource.FingerprintsTable,
	}
}

// NewArtifactService creates the film store described by [storage].
func NewArtifactService(config *cloud.Config, serviceClients *cloud.ServiceClients) *services.ArtifactService {
	return &services.ArtifactService{
		StorageClient: serviceClients.StorageClient,
		IAMClient:     serviceClients.IAMClient,
		SignerEmail:   config.Application.SignerServiceAccountEmail,
		Bucket:        config.Storage.FilmBucket,
		Prefix:        config.Storage.FilmPrefix,
	}
}

// NewFilmWorkflowFromConfig wires the production services: the BigQuery run
// store, the Vertex AI planner of agentModelName, the HTTP media services,
// the ffmpeg assembly engine and GCS for the finished films.
func NewFilmWorkflowFromConfig(ctx context.Context, config *cloud.Config, serviceClients *cloud.ServiceClients, store services.RunStore, agentModelName string) (*FilmWorkflow, error) {
	catalog, err := qc.LoadCatalog(config.QC.CatalogPath)
	if err != nil {
		return nil, err
	}
	qcEngine, err := qc.NewEngine(QCPolicy(config.QC), catalog)
	if err != nil {
		return nil, err
	}

	var planner services.Planner
	if generator, ok := serviceClients.AgentModels[agentModelName]; ok && generator != nil {
		genai, err := services.NewGenAIPlanner(generator, config.PromptTemplates)
		if err != nil {
			return nil, err
		}
		planner = genai
	} else {
		slog.Warn("no planner model configured, every run uses the fallback structure", "agent_model", agentModelName)
	}

	render, err := services.NewHTTPRenderService(ctx, config.Render)
	if err != nil {
		return nil, fmt.Errorf("failed to create render service: %w", err)
	}

	ffmpegTimeout := time.Duration(config.Assembly.TimeoutSeconds) * time.Second
	engine := assembly.NewEngine(assembly.NewFFmpegRunner(config.Assembly.FFmpegPath, ffmpegTimeout), AssemblySettings(config.Assembly))

	return NewFilmWorkflow(Dependencies{
		Store:         store,
		Planner:       planner,
		Render:        render,
		Synthesizer:   services.NewSynthesizer(config.Speech),
		Music:         services.NewMusicSource(config.Music, serviceClients.StorageClient),
		Artifacts:     NewArtifactService(config, serviceClients),
		StorageClient: serviceClients.StorageClient,
		QC:            qcEngine,
		Assembly:      engine,
	}, WorkflowOptions(config)), nil
}
