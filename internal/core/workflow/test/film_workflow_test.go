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
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilmWorkflow_ProducesFilm(t *testing.T) {
	ctx, span := tracer.Start(context.Background(), t.Name())
	defer span.End()
	h := newHarness(t)
	run := h.newRun(t)

	out, err := h.workflow.Run(ctx, run.Id)
	require.NoError(t, err)
	logger.InfoContext(ctx, "film produced", "run_id", out.Id, "artifact", out.ArtifactURI)

	assert.Equal(t, model.StageReady, out.Stage)
	assert.Equal(t, model.StageAssembling, out.LastCompletedStage)
	assert.Equal(t, -1, out.FailedStage)
	assert.Equal(t, "gs://films/"+run.Id+".mp4", out.ArtifactURI)
	require.NotNil(t, out.Structure)
	require.NotNil(t, out.Timeline)
	require.NotNil(t, out.QCReport)
	require.NotNil(t, out.PostRenderReport)
	require.NotNil(t, out.Fingerprint)
	assert.NotEmpty(t, out.ShotPlan)
	assert.NotEmpty(t, out.Narration)

	_, ok := h.artifacts.Uploaded(run.Id)
	assert.True(t, ok)

	for _, s := range h.scenes(t, run.Id) {
		assert.Equal(t, model.RenderReady, s.Status, "beat %d", s.BeatIndex)
	}
	assert.Len(t, h.normalizedInputs(), len(out.ShotPlan))

	// narration is recorded once per non-empty segment
	assert.NotEmpty(t, h.speech.Texts())
	require.Len(t, h.music.Moods, 1)
	assert.NotEmpty(t, h.music.Moods[0])

	fps, err := h.store.RecentFingerprints(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, run.Id, fps[0].RunId)
}

func TestFilmWorkflow_AssemblesOnlyReadyScenes(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		ready := forBeats(3, 7)
		h.render.Outcome = func(prompt string) model.RenderResult {
			if ready(prompt) {
				return model.RenderResult{Status: model.RenderReady}
			}
			return model.RenderResult{Status: model.RenderFailed, Error: "render backend error"}
		}
		for i := 0; i < model.MaxBeats; i++ {
			h.runner.Durations[fmt.Sprintf("narration_%02d.mp3", i)] = 3
		}
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)

	readyBeats := make([]int, 0)
	for _, s := range h.scenes(t, run.Id) {
		if s.Status == model.RenderReady {
			readyBeats = append(readyBeats, s.BeatIndex)
		} else {
			assert.Equal(t, model.RenderFailed, s.Status)
			assert.NotEmpty(t, s.Error)
		}
	}
	assert.Equal(t, []int{3, 7}, readyBeats)
	assert.Equal(t, []string{"clip_003.mp4", "clip_007.mp4"}, h.normalizedInputs())

	// narration is checked where it landed in the two clip film
	require.NotNil(t, out.PostRenderReport)
	checks := make(map[string]model.QCCheck)
	for _, c := range out.PostRenderReport.Checks {
		checks[c.ID] = c
	}
	require.Contains(t, checks, "render.narration_window")
	assert.True(t, checks["render.narration_window"].Passed, checks["render.narration_window"].Message)
	assert.True(t, checks["render.scene_duration"].Passed, checks["render.scene_duration"].Message)
}

func TestFilmWorkflow_NoReadySceneFailsRun(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.render.Outcome = func(string) model.RenderResult {
			return model.RenderResult{Status: model.RenderFailed, Error: "render backend error"}
		}
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNoScenesRendered))
	assert.Equal(t, model.StageFailed, out.Stage)
	assert.Equal(t, model.StageGenerating.Number(), out.FailedStage)
	assert.Contains(t, out.ErrorMessage, "generating")
}

func TestFilmWorkflow_RenderTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.options.Generating.MaxPollIterations = 2
		h.render.Outcome = func(string) model.RenderResult {
			return model.RenderResult{Status: model.RenderProcessing}
		}
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRenderTimeout))
	assert.Equal(t, model.StageFailed, out.Stage)
	assert.Equal(t, model.StageGenerating.Number(), out.FailedStage)

	// the jobs are kept so a resumed run polls them instead of resubmitting
	for _, s := range h.scenes(t, run.Id) {
		assert.Equal(t, model.RenderProcessing, s.Status)
		assert.NotEmpty(t, s.JobId)
	}
}

func TestFilmWorkflow_ResumeKeepsRenderJobs(t *testing.T) {
	processing := true
	h := newHarness(t, func(h *harness) {
		h.options.Generating.MaxPollIterations = 1
		h.render.Outcome = func(string) model.RenderResult {
			if processing {
				return model.RenderResult{Status: model.RenderProcessing}
			}
			return model.RenderResult{}
		}
	})
	run := h.newRun(t)

	_, err := h.workflow.Run(context.Background(), run.Id)
	require.Error(t, err)
	submitted := len(h.render.Prompts())
	narrated := h.planner.NarrateCalls()

	processing = false
	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
	assert.Equal(t, submitted, len(h.render.Prompts()))
	assert.Equal(t, narrated, h.planner.NarrateCalls())
}

func TestFilmWorkflow_ResumeAfterPublishFailure(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.artifacts.Err = errors.New("bucket unavailable")
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.Error(t, err)
	assert.Equal(t, model.StageFailed, out.Stage)
	assert.Equal(t, model.StageAssembling.Number(), out.FailedStage)
	assert.Equal(t, model.StageGenerating, out.LastCompletedStage)
	assert.Contains(t, out.ErrorMessage, "bucket unavailable")

	submitted := len(h.render.Prompts())
	narrated := h.planner.NarrateCalls()

	h.artifacts.Err = nil
	out, err = h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
	assert.Equal(t, -1, out.FailedStage)
	assert.Empty(t, out.ErrorMessage)
	assert.Equal(t, submitted, len(h.render.Prompts()), "resumed run rendered again")
	assert.Equal(t, narrated, h.planner.NarrateCalls(), "resumed run planned again")
}

func TestFilmWorkflow_SafetyRetry(t *testing.T) {
	h := newHarness(t)
	blocked := forBeats(0)
	h.render.Reject = func(prompt string) error {
		if blocked(prompt) {
			return &model.ExternalJobError{Service: "render", Safety: true, Err: errors.New("blocked by safety filter")}
		}
		return nil
	}
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)

	scenes := h.scenes(t, run.Id)
	require.NotEmpty(t, scenes)
	first := scenes[0]
	assert.Equal(t, 0, first.BeatIndex)
	assert.True(t, first.SafetyRetried)
	assert.Equal(t, model.RenderReady, first.Status)
	assert.Equal(t, h.catalog.SafePrompt(out.ShotPlan[0].ActType), first.Prompt)
	assert.GreaterOrEqual(t, h.render.PromptsContaining(first.Prompt), 1)
}

func TestFilmWorkflow_SafetyRetryOnlyOnce(t *testing.T) {
	h := newHarness(t)
	safe := make(map[string]bool)
	for _, actType := range model.AllActTypes() {
		safe[h.catalog.SafePrompt(actType)] = true
	}
	h.render.Outcome = func(prompt string) model.RenderResult {
		if forBeats(0)(prompt) || safe[prompt] {
			return model.RenderResult{Status: model.RenderFailed, Error: "blocked by safety filter", Safety: true}
		}
		return model.RenderResult{}
	}
	run := h.newRun(t)

	_, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)

	first := h.scenes(t, run.Id)[0]
	assert.True(t, first.SafetyRetried)
	assert.Equal(t, model.RenderFailed, first.Status)
}

func TestFilmWorkflow_StrictQCFailsRun(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.options.Blueprint.Strict = true
	})
	seedHistory(t, h)
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.Error(t, err)
	assert.Equal(t, model.StageFailed, out.Stage)
	assert.Equal(t, model.StageBlueprint.Number(), out.FailedStage)
	assert.Equal(t, 3, h.planner.NarrateCalls())
	assert.Empty(t, h.render.Prompts())

	avoided := h.planner.Avoided()
	require.Len(t, avoided, 3)
	assert.True(t, avoided[0].Empty())
	assert.False(t, avoided[1].Empty())
}

func TestFilmWorkflow_BestEffortQCContinues(t *testing.T) {
	h := newHarness(t)
	seedHistory(t, h)
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
	require.NotNil(t, out.QCReport)
	assert.NotEmpty(t, out.QCReport.HardFailures())
}

func TestFilmWorkflow_PlannerDownUsesFallback(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.planner.UnderstandErr = errors.New("model unavailable")
		h.planner.NarrateErr = errors.New("model unavailable")
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
	require.NotNil(t, out.Structure)
	assert.Equal(t, model.TotalDurationSec, out.Structure.TotalDurationSec)
	for _, shot := range out.ShotPlan {
		assert.NotEmpty(t, shot.RenderPrompt)
	}
}

func TestFilmWorkflow_SilentNarrationAndNoMusic(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.speech.Fail = func(string) bool { return true }
		h.music.Err = errors.New("no track")
	})
	run := h.newRun(t)

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
}

func TestFilmWorkflow_SkipsRunsItCannotClaim(t *testing.T) {
	h := newHarness(t)
	run := h.newRun(t)
	_, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	prompts := len(h.render.Prompts())

	out, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.StageReady, out.Stage)
	assert.Equal(t, prompts, len(h.render.Prompts()))
}

func TestFilmWorkflow_UnknownRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.workflow.Run(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestFilmWorkflow_ScratchIsRemoved(t *testing.T) {
	h := newHarness(t)
	run := h.newRun(t)
	_, err := h.workflow.Run(context.Background(), run.Id)
	require.NoError(t, err)

	entries, err := os.ReadDir(h.options.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// seedHistory stores a fingerprint of the sample plan, which makes every
// attempt of the next plan fail the novelty check.
func seedHistory(t *testing.T, h *harness) {
	t.Helper()
	_, _, _, shots := test.SamplePlan()
	require.NoError(t, h.store.SaveFingerprint(context.Background(), model.NewRunFingerprint("earlier-run", shots)))
}
