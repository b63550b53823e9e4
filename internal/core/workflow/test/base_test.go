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

// Package workflow_test runs the film workflow end to end against the memory
// run store, ffmpeg stand-in and fake media services.
package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/commands"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/jaycherian/gcp-go-short-film/internal/core/workflow"
	"github.com/jaycherian/gcp-go-short-film/internal/telemetry"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const tName = "github.com/jaycherian/gcp-go-short-film/tests/workflow"

var (
	tracer = otel.Tracer(tName)
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	telemetry.SetupLogging("")
	os.Exit(m.Run())
}

// harness holds one workflow and the fakes behind it.
type harness struct {
	store     *services.MemoryRunStore
	planner   *test.FakePlanner
	render    *test.FakeRenderService
	speech    *test.FakeSynthesizer
	music     *test.FakeMusicSource
	artifacts *test.FakeArtifactStore
	runner    *test.FakeRunner
	catalog   *qc.Catalog
	options   workflow.Options
	workflow  *workflow.FilmWorkflow
}

func newHarness(t *testing.T, configure ...func(h *harness)) *harness {
	t.Helper()
	catalog, err := qc.DefaultCatalog()
	require.NoError(t, err)

	h := &harness{
		store:     services.NewMemoryRunStore(),
		planner:   &test.FakePlanner{},
		render:    test.NewFakeRenderService(t.TempDir()),
		speech:    &test.FakeSynthesizer{},
		music:     &test.FakeMusicSource{},
		artifacts: &test.FakeArtifactStore{Dir: t.TempDir()},
		runner:    test.NewFakeRunner(8),
		catalog:   catalog,
		options: workflow.Options{
			Blueprint: commands.BlueprintOptions{MaxAttempts: 3},
			Generating: commands.GeneratingOptions{
				Concurrency:  4,
				PollInterval: time.Millisecond,
				Timeout:      10 * time.Second,
			},
			DownloadConcurrency: 2,
			NarrationWorkers:    2,
			ScratchDir:          t.TempDir(),
		},
	}
	for _, c := range configure {
		c(h)
	}

	qcEngine, err := qc.NewEngine(qc.DefaultPolicy(), catalog)
	require.NoError(t, err)
	settings := assembly.DefaultSettings()
	settings.Workers = 2
	settings.ScratchDir = t.TempDir()

	h.workflow = workflow.NewFilmWorkflow(workflow.Dependencies{
		Store:       h.store,
		Planner:     h.planner,
		Render:      h.render,
		Synthesizer: h.speech,
		Music:       h.music,
		Artifacts:   h.artifacts,
		QC:          qcEngine,
		Assembly:    assembly.NewEngine(h.runner, settings),
	}, h.options)
	return h
}

// newRun stores a pending run for the sample text.
func (h *harness) newRun(t *testing.T) *model.FilmRun {
	t.Helper()
	run := model.NewFilmRun(test.SampleUserText)
	require.NoError(t, h.store.Create(context.Background(), run))
	return run
}

func (h *harness) scenes(t *testing.T, runId string) []*model.SceneRecord {
	t.Helper()
	scenes, err := h.store.ListScenes(context.Background(), runId)
	require.NoError(t, err)
	return scenes
}

// normalizedInputs returns the clip each normalized output was made from, in
// output order.
func (h *harness) normalizedInputs() []string {
	out := make([]string, 0)
	for i := 0; ; i++ {
		calls := h.runner.CallsContaining(fmt.Sprintf("norm-%03d.mp4", i))
		if len(calls) == 0 {
			return out
		}
		for _, arg := range calls[0] {
			if strings.Contains(filepath.Base(arg), "clip_") {
				out = append(out, filepath.Base(arg))
				break
			}
		}
	}
}

// forBeats matches the sample prompts of the given beats.
func forBeats(beats ...int) func(prompt string) bool {
	return func(prompt string) bool {
		for _, b := range beats {
			if strings.HasSuffix(prompt, fmt.Sprintf(", beat %d", b)) {
				return true
			}
		}
		return false
	}
}
