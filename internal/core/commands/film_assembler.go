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
	"log/slog"
	"path/filepath"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FilmAssembler cuts the fetched clips, narration and music into the film
// and checks the result with the post-render QC. The report is stored on the
// run; it never fails the stage.
type FilmAssembler struct {
	StageCommand
	engine *assembly.Engine
	qc     *qc.Engine
}

func NewFilmAssembler(name string, store services.RunStore, engine *assembly.Engine, qcEngine *qc.Engine) *FilmAssembler {
	return &FilmAssembler{StageCommand: NewStageCommand(name, model.StageAssembling, store), engine: engine, qc: qcEngine}
}

func (c *FilmAssembler) IsExecutable(context cor.Context) bool {
	return c.StageCommand.IsExecutable(context) && context.Get(ParamClips) != nil
}

func (c *FilmAssembler) Execute(context cor.Context) {
	run := RunFrom(context)
	ctx := context.GetContext()
	dir := context.Get(ParamScratchDir).(string)
	clips := context.Get(ParamClips).([]assembly.Clip)
	audio, _ := context.Get(ParamNarrationAudio).([]string)
	music, _ := context.Get(ParamMusicPath).(string)
	scenes, _ := context.Get(ParamScenes).([]*model.SceneRecord)

	out, err := c.engine.Assemble(ctx, assembly.Input{
		Clips:          clips,
		Timeline:       run.Timeline,
		Structure:      run.Structure,
		Narration:      run.Narration,
		NarrationAudio: audio,
		MusicPath:      music,
		OutputPath:     filepath.Join(dir, run.Id+".mp4"),
	})
	if err != nil {
		c.fail(context, "failed to assemble film", err)
		return
	}

	windows := make([]qc.ActWindow, 0, len(out.Acts))
	for _, a := range out.Acts {
		windows = append(windows, qc.ActWindow{ActIndex: a.ActIndex, StartSec: a.StartSec, EndSec: a.EndSec})
	}
	rendered := make([]qc.RenderedClip, 0, len(out.Clips))
	for _, clip := range out.Clips {
		rendered = append(rendered, qc.RenderedClip{BeatIndex: clip.BeatIndex, SourceSec: clip.SourceSec, TargetSec: clip.DurationSec})
	}
	placed := make([]qc.PlacedNarration, 0, len(out.Placements))
	for _, p := range out.Placements {
		placed = append(placed, qc.PlacedNarration{
			Segment:     p.Segment,
			ActIndex:    run.Narration[p.Segment].ActIndex,
			StartSec:    p.StartSec,
			DurationSec: p.DurationSec,
		})
	}
	report := c.qc.PostRender(qc.PostRenderInput{
		Scenes:           scenes,
		Clips:            rendered,
		Placements:       placed,
		Timeline:         run.Timeline,
		PlannedTotalSec:  out.PlannedSec,
		RenderedTotalSec: out.DurationSec,
		Windows:          windows,
	})
	run.PostRenderReport = report

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("clips", len(clips)),
		attribute.Float64("duration", out.DurationSec),
		attribute.Int("narration.placed", len(out.Placements)),
	)
	slog.Info("film assembled", "run_id", run.Id, "clips", len(clips), "duration", out.DurationSec,
		"planned", out.PlannedSec, "post_render_hard", len(report.HardFailures()))

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(ParamFilmPath, out.Path)
}
