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

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/zeebo/assert"
	"google.golang.org/genai"
)

const understandingResponse = "```json\n" + `{
  "theme": "a garden that outlived its gardener",
  "intent": "grief turning into continuity",
  "acts": [
    {"act_type": "Cosmic Opening", "duration_sec": 20, "silence_duration_sec": 4},
    {"act_type": "planetary", "duration_sec": 20},
    {"act_type": "human-scale", "duration_sec": 20},
    {"act_type": "intimate", "duration_sec": 20},
    {"act_type": "return", "duration_sec": 20, "intensity": 3}
  ]
}` + "\n```"

// scriptedModel answers every request with the next canned response.
type scriptedModel struct {
	responses []string
	prompts   []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	for _, c := range contents {
		for _, p := range c.Parts {
			m.prompts = append(m.prompts, p.Text)
		}
	}
	if len(m.responses) == 0 {
		return nil, errors.New("no more responses")
	}
	text := m.responses[0]
	m.responses = m.responses[1:]
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}}},
	}, nil
}

var _ cloud.ContentGenerator = (*scriptedModel)(nil)

func TestParseUnderstanding(t *testing.T) {
	s, err := services.ParseUnderstanding(understandingResponse)
	assert.NoError(t, err)
	assert.Equal(t, len(s.Acts), 5)
	assert.Equal(t, s.Acts[0].ActType, model.ActCosmicOpening)
	assert.Equal(t, s.Acts[2].ActType, model.ActHumanScale)
	assert.Equal(t, s.TotalDurationSec, model.TotalDurationSec)
	assert.Equal(t, s.SumActDurations(), model.TotalDurationSec)
	assert.Equal(t, s.Acts[4].Intensity, 1.0)
	assert.Equal(t, s.Acts[1].Intensity, 0.5)
	assert.Equal(t, s.Acts[1].ScaleType, "planetary")
	assert.That(t, s.Acts[0].Choreography.Motif.Valid())
}

func TestParseUnderstandingErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json",
		`{"acts": []}`,
		`{"acts": [{"act_type": "epilogue", "duration_sec": 120}]}`,
	} {
		_, err := services.ParseUnderstanding(raw)
		var parseErr *services.ParseError
		assert.That(t, errors.As(err, &parseErr))
		assert.Equal(t, parseErr.Stage, "understanding")
	}
}

func TestParseNarration(t *testing.T) {
	structure := test.SampleStructure()
	skeleton := timeline.BuildSkeleton(structure)

	fills, err := services.ParseNarration(`[{"beat_index": 0, "narration": "  Light arrives. ", "render_prompt": "stars", "motif": "Cosmos"}]`, skeleton)
	assert.NoError(t, err)
	assert.Equal(t, len(fills), 1)
	assert.Equal(t, fills[0].Narration, "Light arrives.")
	assert.Equal(t, fills[0].Motif, model.MotifCosmos)

	fills, err = services.ParseNarration(`{"beats": [{"beat_index": 1, "render_prompt": "fields", "motif": "weather"}]}`, skeleton)
	assert.NoError(t, err)
	assert.Equal(t, fills[0].Motif, model.VisualCategory(""))

	_, err = services.ParseNarration(`[{"beat_index": 999, "render_prompt": "x"}]`, skeleton)
	assert.Error(t, err)

	_, err = services.ParseNarration(`[{"beat_index": 1}, {"beat_index": 1}]`, skeleton)
	assert.Error(t, err)

	_, err = services.ParseNarration(`{"beats": []}`, skeleton)
	assert.Error(t, err)
}

func TestApplyStructureDefaultsScalesDurations(t *testing.T) {
	s := &model.DocumentaryStructure{Acts: []model.Act{
		{ActType: model.ActCosmicOpening, DurationSec: 10, SilenceDurationSec: -2},
		{ActType: model.ActIntimate, DurationSec: 10},
		{ActType: model.ActReturn, DurationSec: 20},
	}}
	services.ApplyStructureDefaults(s)
	assert.Equal(t, s.SumActDurations(), model.TotalDurationSec)
	assert.Equal(t, s.Acts[0].DurationSec, 30)
	assert.Equal(t, s.Acts[2].DurationSec, 60)
	assert.Equal(t, s.Acts[0].SilenceDurationSec, 0.0)

	// Zero durations are left alone for QC.
	s = &model.DocumentaryStructure{Acts: []model.Act{
		{ActType: model.ActCosmicOpening, DurationSec: 0},
		{ActType: model.ActReturn, DurationSec: 40},
	}}
	services.ApplyStructureDefaults(s)
	assert.Equal(t, s.Acts[0].DurationSec, 0)
	assert.Equal(t, s.Acts[1].DurationSec, 40)
}

func TestFallbackStructure(t *testing.T) {
	s := services.FallbackStructure(strings.Repeat("x", 200))
	assert.Equal(t, len(s.Acts), len(model.AllActTypes()))
	assert.Equal(t, s.SumActDurations(), model.TotalDurationSec)
	assert.Equal(t, len(s.Theme), 80)
	assert.Equal(t, s.Acts[0].SilenceDurationSec, 4.0)
	assert.Equal(t, s.Acts[len(s.Acts)-1].ActType, model.ActReturn)
}

func TestGenAIPlanner(t *testing.T) {
	ctx := context.Background()
	structure := test.SampleStructure()
	skeleton := timeline.BuildSkeleton(structure)

	gen := &scriptedModel{responses: []string{
		understandingResponse,
		`{"beats": [{"beat_index": 0, "narration": "Light arrives.", "render_prompt": "stars over a field"}]}`,
	}}
	planner, err := services.NewGenAIPlanner(gen, cloud.PromptTemplates{})
	assert.NoError(t, err)

	s, err := planner.Understand(ctx, test.SampleUserText)
	assert.NoError(t, err)
	assert.Equal(t, len(s.Acts), 5)
	assert.That(t, strings.Contains(gen.prompts[0], test.SampleUserText))

	avoid := model.NewAvoidList()
	avoid.Prompts = append(avoid.Prompts, "a prompt used before")
	fills, err := planner.Narrate(ctx, structure, skeleton, avoid)
	assert.NoError(t, err)
	assert.Equal(t, len(fills), 1)
	assert.That(t, strings.Contains(gen.prompts[1], "a prompt used before"))
	assert.That(t, strings.Contains(gen.prompts[1], "beat 0:"))
}

func TestGenAIPlannerBadTemplate(t *testing.T) {
	_, err := services.NewGenAIPlanner(&scriptedModel{}, cloud.PromptTemplates{UnderstandingPrompt: "{{ .Missing"})
	assert.Error(t, err)
}
