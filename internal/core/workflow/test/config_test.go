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

package workflow_test

import (
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQCPolicy_KeepsDefaultsForZeroValues(t *testing.T) {
	policy := workflow.QCPolicy(cloud.QC{MaxSegmentWords: 20, NoveltyThreshold: 0.5})
	d := qc.DefaultPolicy()

	assert.Equal(t, 20, policy.MaxSegmentWords)
	assert.Equal(t, 0.5, policy.NoveltyThreshold)
	assert.Equal(t, d.MinOpeningSilenceSec, policy.MinOpeningSilenceSec)
	assert.Equal(t, d.MaxConsecutiveShortBeats, policy.MaxConsecutiveShortBeats)
}

func TestAssemblySettings_OverridesSingleGrade(t *testing.T) {
	settings := workflow.AssemblySettings(cloud.Assembly{
		Width: 1280,
		Grades: map[string]cloud.Grade{
			"intimate": {Saturation: 0.7, Curves: "vintage"},
			"unknown":  {Saturation: 2},
		},
	})
	defaults := assembly.DefaultGrades()

	assert.Equal(t, 1280, settings.Width)
	assert.Equal(t, assembly.DefaultSettings().Height, settings.Height)
	assert.Equal(t, 0.7, settings.Grades[model.ActIntimate].Saturation)
	assert.Equal(t, defaults[model.ActReturn], settings.Grades[model.ActReturn])
	assert.Len(t, settings.Grades, len(defaults))
}

func TestWorkflowOptions(t *testing.T) {
	config := cloud.NewConfig()
	config.Orchestrator = cloud.Orchestrator{
		QCMaxAttempts:        4,
		StrictQC:             true,
		PollIntervalSeconds:  15,
		RenderTimeoutMinutes: 20,
		MaxPollIterations:    100,
		StaleAfterMinutes:    45,
		SubmitConcurrency:    6,
		DownloadConcurrency:  3,
		FingerprintHistory:   25,
	}
	config.Application.ThreadPoolSize = 5

	o := workflow.WorkflowOptions(config)
	assert.Equal(t, 45*time.Minute, o.StaleAfter)
	assert.Equal(t, 4, o.Blueprint.MaxAttempts)
	assert.True(t, o.Blueprint.Strict)
	assert.Equal(t, 25, o.Blueprint.History)
	assert.Equal(t, 15*time.Second, o.Generating.PollInterval)
	assert.Equal(t, 20*time.Minute, o.Generating.Timeout)
	assert.Equal(t, 100, o.Generating.MaxPollIterations)
	assert.Equal(t, 6, o.Generating.Concurrency)
	assert.Equal(t, 3, o.DownloadConcurrency)
	assert.Equal(t, 5, o.NarrationWorkers)
}

func TestConfigFiles(t *testing.T) {
	test.HandleErr(test.SetupOS(), t)
	config := test.GetConfig()

	// .env.test.toml wins over .env.toml
	assert.Equal(t, "short-film-test", config.Application.Name)
	assert.Equal(t, 2, config.Application.ThreadPoolSize)
	assert.Equal(t, 1, config.Orchestrator.PollIntervalSeconds)
	assert.Equal(t, 2, config.Assembly.Workers)

	// untouched sections come from .env.toml
	assert.Equal(t, "film-requests", config.Topics.FilmRequests)
	assert.Equal(t, "film-requests-sub", config.TopicSubscriptions["FilmRequests"].Name)
	assert.Equal(t, "gemini-2.5-flash", config.AgentModels["creative-flash"].Model)
	assert.Equal(t, "vintage", config.Assembly.Grades["intimate"].Curves)

	o := workflow.WorkflowOptions(config)
	assert.Equal(t, 20*time.Minute, o.StaleAfter)
	assert.Equal(t, time.Second, o.Generating.PollInterval)
	assert.Equal(t, time.Minute, o.Generating.Timeout)
	assert.Equal(t, 2, o.NarrationWorkers)
}
