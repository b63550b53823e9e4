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

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/jaycherian/gcp-go-short-film/internal/core/workflow"
)

// plannerModel is the [agent_models] entry used by the planner.
const plannerModel = "creative-flash"

// StateManager holds the long lived components of the server.
type StateManager struct {
	config    *cloud.Config
	cloud     *cloud.ServiceClients
	store     services.RunStore
	workflow  *workflow.FilmWorkflow
	launcher  *services.RunLauncher
	artifacts *services.ArtifactService
	local     *workflow.LocalPublisher // set when no topic is configured
}

var state = &StateManager{}

func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		cloud.LoadSecrets()
		state.config = config
	}
	return state.config
}

// InitState creates the clients, the run store and the film workflow, and
// starts the background consumers.
//
// Logic Flow:
//  1. Cloud clients are created from the configuration.
//  2. The BigQuery run store and the workflow are built on top of them.
//  3. Film requests go to Pub/Sub when [topics] names a topic; otherwise
//     they run in process through a LocalPublisher.
//  4. The request listener and the stale run sweeper are started.
func InitState(ctx context.Context) {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		panic(err)
	}
	state.cloud = cloudClients
	state.store = workflow.NewBigQueryRunStore(config, cloudClients)
	state.artifacts = workflow.NewArtifactService(config, cloudClients)

	wf, err := workflow.NewFilmWorkflowFromConfig(ctx, config, cloudClients, state.store, plannerModel)
	if err != nil {
		panic(err)
	}
	state.workflow = wf

	var publisher services.Publisher
	if cloudClients.Publisher != nil {
		publisher = cloudClients.Publisher
	} else {
		slog.Warn("no film request topic configured, running films in process")
		state.local = workflow.NewLocalPublisher(ctx, wf)
		publisher = state.local
	}
	state.launcher = services.NewRunLauncher(state.store, publisher)

	SetupListeners(ctx, config, cloudClients, wf)

	o := config.Orchestrator
	sweeper := workflow.NewStaleRunSweeper(state.store, publisher,
		time.Duration(o.StaleAfterMinutes)*time.Minute, time.Duration(o.SweepIntervalMinutes)*time.Minute)
	sweeper.StartTimer(ctx)
}
