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

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Planner is the language model that writes the film. Its output is
// untrusted and always goes through QC.
type Planner interface {
	// Understand reads the user's text and proposes a structure.
	Understand(ctx context.Context, userText string) (*model.DocumentaryStructure, error)
	// Narrate writes narration and render prompts for the beats of a
	// skeleton timeline, avoiding what earlier attempts used.
	Narrate(ctx context.Context, structure *model.DocumentaryStructure, timeline *model.MasterTimelineData, avoid *model.AvoidList) ([]model.BeatFill, error)
}

// DefaultUnderstandingPrompt is used when [prompt_templates] has no
// understanding entry.
const DefaultUnderstandingPrompt = `You are planning a {{ .TotalDurationSec }} second short film inspired by a personal text.
Return JSON only, shaped like this example:
{{ .Example }}

Rules:
- Use between 3 and 5 acts. Act types, in order of scale: {{ join .ActTypes ", " }}. The last act must be "return".
- Act durations are whole seconds and add up to {{ .TotalDurationSec }}.
- Motifs come from: {{ join .Motifs ", " }}.

Text:
{{ .UserText }}`

// DefaultNarrationPrompt is used when [prompt_templates] has no narration
// entry.
const DefaultNarrationPrompt = `You are writing the narration and shot prompts of a short film about "{{ .Theme }}" ({{ .Intent }}).
Return JSON only: {"beats": [...]} where every element looks like one of these:
{{ .Example }}

Write one element per beat below. Narration goes only on narrated beats, one or two short sentences each.
Render prompts describe a single continuous shot and never mention text, logos or real people.
{{ range .Beats }}
- beat {{ .BeatIndex }}: act {{ .ActIndex }} ({{ .ActType }}), {{ .BeatType }}, {{ .DurationSec }}s, motif {{ .Motif }}, {{ .Camera }}, {{ .TimeOfDay }}
{{- end }}
{{ if .AvoidMotifs }}
Do not reuse these motif/setting pairs: {{ join .AvoidMotifs "; " }}
{{- end }}
{{ if .AvoidPrompts }}
Do not reuse these prompts:
{{- range .AvoidPrompts }}
- {{ . }}
{{- end }}
{{- end }}`

type understandingData struct {
	UserText         string
	Example          string
	ActTypes         []string
	Motifs           []string
	TotalDurationSec int
}

type narrationBeat struct {
	BeatIndex   int
	ActIndex    int
	ActType     model.ActType
	BeatType    model.BeatType
	DurationSec int
	Motif       model.VisualCategory
	Camera      string
	TimeOfDay   model.TimeOfDay
}

type narrationData struct {
	Theme        string
	Intent       string
	Example      string
	Beats        []narrationBeat
	AvoidMotifs  []string
	AvoidPrompts []string
}

// GenAIPlanner implements Planner on a Vertex AI model. Prompts are
// text/templates so they can be tuned from configuration.
type GenAIPlanner struct {
	model         cloud.ContentGenerator
	understanding *template.Template
	narration     *template.Template
	inputTokens   metric.Int64Counter
	outputTokens  metric.Int64Counter
	retries       metric.Int64Counter
}

// NewGenAIPlanner parses the prompt templates; empty ones use the defaults.
func NewGenAIPlanner(generator cloud.ContentGenerator, templates cloud.PromptTemplates) (*GenAIPlanner, error) {
	funcs := template.FuncMap{"join": strings.Join}
	understandingText := templates.UnderstandingPrompt
	if strings.TrimSpace(understandingText) == "" {
		understandingText = DefaultUnderstandingPrompt
	}
	narrationText := templates.NarrationPrompt
	if strings.TrimSpace(narrationText) == "" {
		narrationText = DefaultNarrationPrompt
	}
	understanding, err := template.New("understanding").Funcs(funcs).Parse(understandingText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse understanding template: %w", err)
	}
	narration, err := template.New("narration").Funcs(funcs).Parse(narrationText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse narration template: %w", err)
	}

	meter := otel.Meter(cor.MeterName)
	inputTokens, _ := meter.Int64Counter("planner.token.input")
	outputTokens, _ := meter.Int64Counter("planner.token.output")
	retries, _ := meter.Int64Counter("planner.retry")

	return &GenAIPlanner{
		model:         generator,
		understanding: understanding,
		narration:     narration,
		inputTokens:   inputTokens,
		outputTokens:  outputTokens,
		retries:       retries,
	}, nil
}

func (p *GenAIPlanner) Understand(ctx context.Context, userText string) (*model.DocumentaryStructure, error) {
	example, err := json.MarshalIndent(model.GetExampleStructure(), "", "  ")
	if err != nil {
		return nil, err
	}
	data := understandingData{
		UserText:         userText,
		Example:          string(example),
		TotalDurationSec: model.TotalDurationSec,
	}
	for _, a := range model.AllActTypes() {
		data.ActTypes = append(data.ActTypes, string(a))
	}
	for _, m := range model.AllVisualCategories() {
		data.Motifs = append(data.Motifs, string(m))
	}

	raw, err := p.generate(ctx, p.understanding, data)
	if err != nil {
		return nil, fmt.Errorf("understanding request failed: %w", err)
	}
	return ParseUnderstanding(raw)
}

func (p *GenAIPlanner) Narrate(ctx context.Context, structure *model.DocumentaryStructure, timeline *model.MasterTimelineData, avoid *model.AvoidList) ([]model.BeatFill, error) {
	example, err := json.MarshalIndent(model.GetExampleBeatFills(), "", "  ")
	if err != nil {
		return nil, err
	}
	data := narrationData{Theme: structure.Theme, Intent: structure.Intent, Example: string(example)}
	for _, b := range timeline.Beats {
		var actType model.ActType
		if b.ActIndex >= 0 && b.ActIndex < len(structure.Acts) {
			actType = structure.Acts[b.ActIndex].ActType
		}
		data.Beats = append(data.Beats, narrationBeat{
			BeatIndex:   b.BeatIndex,
			ActIndex:    b.ActIndex,
			ActType:     actType,
			BeatType:    b.BeatType,
			DurationSec: b.DurationSec,
			Motif:       b.VisualCategory,
			Camera:      fmt.Sprintf("%s %s on a %s lens", b.CameraGrammar.Motion, b.CameraGrammar.Framing, b.CameraGrammar.Lens),
			TimeOfDay:   b.Lighting.TimeOfDay,
		})
	}
	if !avoid.Empty() {
		data.AvoidMotifs = avoid.Motifs
		data.AvoidPrompts = avoid.Prompts
	}

	raw, err := p.generate(ctx, p.narration, data)
	if err != nil {
		return nil, fmt.Errorf("narration request failed: %w", err)
	}
	return ParseNarration(raw, timeline)
}

func (p *GenAIPlanner) generate(ctx context.Context, tmpl *template.Template, data interface{}) (string, error) {
	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	slog.Debug("planner request", "template", tmpl.Name(), "prompt_bytes", prompt.Len())
	return cloud.GenerateTextResponse(ctx, p.inputTokens, p.outputTokens, p.retries, p.model, cloud.NewTextPart(prompt.String()))
}
