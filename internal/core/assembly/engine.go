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

// Package assembly stitches rendered clips, narration and music into the
// final film by driving ffmpeg.
//
// Logic Flow:
//  1. Every clip is measured and re-encoded to the uniform output format and
//     to exactly its planned beat duration, in parallel.
//  2. Clips are joined in beat order. Dissolve boundaries overlap the two
//     clips with xfade and acrossfade; cuts use the concat filter, and a film
//     without dissolves is joined by the concat demuxer.
//  3. The film is sliced at act boundaries, each act gets its grade and the
//     slices are joined again. A failure falls back to one global grade.
//  4. A final pass dips to black around every interior act boundary, places
//     the narration recordings and ducks the music under them.
//
// Every intermediate file lives in a scratch directory that is removed when
// Assemble returns.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly/envelope"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"golang.org/x/sync/errgroup"
)

// Steps reported on assembly errors.
const (
	StepInput     = "input"
	StepProbe     = "probe"
	StepNormalize = "normalize"
	StepConcat    = "concat"
	StepGrade     = "grade"
	StepMix       = "mix"
	StepOutput    = "output"
)

// Input is everything needed to assemble one film. Timeline and Structure
// are optional; without them every clip gets the default duration and cuts.
// NarrationAudio is index aligned with Narration and may contain empty
// entries for segments without a recording.
type Input struct {
	Clips          []Clip
	Timeline       *model.MasterTimelineData
	Structure      *model.DocumentaryStructure
	Narration      []model.NarrationSegment
	NarrationAudio []string
	MusicPath      string
	OutputPath     string
}

// Output describes the assembled film.
type Output struct {
	Path        string
	DurationSec float64
	PlannedSec  float64
	ClipOffsets []ClipOffset
	Clips       []NormalizedClip
	Acts        []ActSpan
	Placements  []Placement
	Grade       string
}

type Engine struct {
	runner   Runner
	settings Settings
}

// NewEngine creates an engine. Zero settings take their default values.
func NewEngine(runner Runner, settings Settings) *Engine {
	return &Engine{runner: runner, settings: settings.WithDefaults()}
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// Assemble builds the film described by in and moves it to in.OutputPath.
func (e *Engine) Assemble(ctx context.Context, in Input) (*Output, error) {
	if len(in.Clips) == 0 {
		return nil, model.NewAssemblyError(StepInput, "", errors.New("no clips to assemble"))
	}
	if in.OutputPath == "" {
		return nil, model.NewAssemblyError(StepInput, "", errors.New("no output path"))
	}
	started := time.Now()

	dir, err := os.MkdirTemp(e.settings.ScratchDir, "assembly-")
	if err != nil {
		return nil, model.NewAssemblyError(StepInput, "", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	clips := make([]Clip, len(in.Clips))
	copy(clips, in.Clips)
	sort.SliceStable(clips, func(a, b int) bool { return clips[a].BeatIndex < clips[b].BeatIndex })

	beats := make(map[int]model.TimelineBeat)
	if in.Timeline != nil {
		for _, b := range in.Timeline.Beats {
			beats[b.BeatIndex] = b
		}
	}

	normalized, err := e.normalizeAll(ctx, dir, clips, beats)
	if err != nil {
		return nil, err
	}

	transitions := make([]model.TransitionType, len(normalized))
	for i, c := range normalized {
		transitions[i] = model.TransitionCut
		if b, ok := beats[c.BeatIndex]; ok {
			transitions[i] = b.TransitionOut
		}
	}
	plan := PlanConcat(normalized, transitions, e.settings.TransitionSec)
	for i := range plan.Offsets {
		if b, ok := beats[plan.Offsets[i].BeatIndex]; ok {
			plan.Offsets[i].ActIndex = b.ActIndex
		}
	}
	joined := filepath.Join(dir, "joined.mp4")
	if err := e.concat(ctx, dir, normalized, plan, joined); err != nil {
		return nil, err
	}

	spans := ActSpans(plan.Offsets, plan.TotalSec, in.Structure)
	graded, gradeMode := e.grade(ctx, dir, joined, spans)

	placements, recordings, err := e.placeNarration(ctx, in, plan, spans)
	if err != nil {
		return nil, err
	}

	music := e.musicEnvelope(in, plan, spans, placements)
	final := filepath.Join(dir, "final.mp4")
	args := e.mixArgs(graded, final, recordings, placements, in.MusicPath, music, DipEnvelope(interiorBoundaries(spans), e.settings.DipSec), plan.TotalSec)
	if _, err := e.run(ctx, StepMix, args...); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(in.OutputPath), 0o755); err != nil {
		return nil, model.NewAssemblyError(StepOutput, "", err)
	}
	if err := MoveFile(final, in.OutputPath); err != nil {
		return nil, model.NewAssemblyError(StepOutput, "", err)
	}

	out := &Output{
		Path:        in.OutputPath,
		DurationSec: plan.TotalSec,
		PlannedSec:  plan.TotalSec,
		ClipOffsets: plan.Offsets,
		Clips:       normalized,
		Acts:        spans,
		Placements:  placements,
		Grade:       gradeMode,
	}
	if p, err := e.probe(ctx, in.OutputPath); err == nil {
		out.DurationSec = p.DurationSec
	} else {
		slog.Warn("could not measure the assembled film", "error", err)
	}
	slog.Info("film assembled",
		"clips", len(normalized),
		"planned_sec", out.PlannedSec,
		"duration_sec", out.DurationSec,
		"narration", len(placements),
		"grade", gradeMode,
		"elapsed", time.Since(started).String())
	return out, nil
}

func (e *Engine) normalizeAll(ctx context.Context, dir string, clips []Clip, beats map[int]model.TimelineBeat) ([]NormalizedClip, error) {
	out := make([]NormalizedClip, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, clip := range clips {
		g.Go(func() error {
			n, err := e.Normalize(gctx, dir, i, clip, e.targetDuration(beats, clip.BeatIndex))
			if err != nil {
				return err
			}
			out[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// placeNarration measures the recordings and places them against the real
// clip offsets. A segment tied to a beat that was not rendered is dropped
// with its clip; a segment without a beat starts with its act, and is
// dropped when the act is missing entirely.
func (e *Engine) placeNarration(ctx context.Context, in Input, plan ConcatPlan, spans []ActSpan) ([]Placement, []string, error) {
	beatStart := make(map[int]float64, len(plan.Offsets))
	for _, o := range plan.Offsets {
		beatStart[o.BeatIndex] = o.StartSec
	}
	actStart := make(map[int]float64, len(spans))
	for _, s := range spans {
		actStart[s.ActIndex] = s.StartSec
	}

	durations := make([]float64, 0)
	starts := make([]float64, 0)
	recordings := make([]string, 0)
	segments := make([]int, 0)
	for i, seg := range in.Narration {
		if i >= len(in.NarrationAudio) || in.NarrationAudio[i] == "" {
			continue
		}
		var start float64
		var ok bool
		if seg.BeatIndex != nil {
			if start, ok = beatStart[*seg.BeatIndex]; !ok {
				slog.Warn("narration segment has no rendered clip, skipping", "segment", i, "beat", *seg.BeatIndex)
				continue
			}
		} else if start, ok = actStart[seg.ActIndex]; !ok {
			slog.Warn("narration segment has no rendered act, skipping", "segment", i, "act", seg.ActIndex)
			continue
		}
		p, err := e.probe(ctx, in.NarrationAudio[i])
		if err != nil {
			return nil, nil, err
		}
		durations = append(durations, p.DurationSec)
		starts = append(starts, start)
		recordings = append(recordings, in.NarrationAudio[i])
		segments = append(segments, i)
	}

	placements := PlaceNarration(durations, starts, PlacementSettings{
		OffsetSec: e.settings.NarrationOffsetSec,
		MinGapSec: e.settings.NarrationGapSec,
	}, plan.TotalSec)
	for k := range placements {
		placements[k].Segment = segments[k]
	}
	return placements, recordings, nil
}

func (e *Engine) musicEnvelope(in Input, plan ConcatPlan, spans []ActSpan, placements []Placement) envelope.Expr {
	lastActStart := 0.0
	if len(spans) > 0 {
		lastActStart = spans[len(spans)-1].StartSec
	}
	fade := FinalFadeEnvelope(lastActStart, plan.TotalSec, e.settings.FinalFadeSec)
	if len(placements) > 0 {
		return envelope.Product{DuckingEnvelope(placements, e.settings), fade}
	}
	if in.Timeline != nil {
		return envelope.Product{BeatTableEnvelope(model.NewMusicPlan(in.Structure, in.Timeline), plan.Offsets, e.settings), fade}
	}
	return envelope.Product{envelope.New(e.settings.MusicHighVolume), fade}
}

// mixArgs builds the final pass: the dip to black on the video, narration
// delayed into place and mixed over the clip audio, and the looped music
// shaped by its envelope underneath.
func (e *Engine) mixArgs(video string, out string, recordings []string, placements []Placement, musicPath string, music envelope.Expr, dip *envelope.Envelope, totalSec float64) []string {
	s := e.settings
	args := []string{"-y", "-hide_banner", "-i", video}
	for _, r := range recordings {
		args = append(args, "-i", r)
	}
	musicInput := -1
	if musicPath != "" {
		musicInput = len(recordings) + 1
		args = append(args, "-stream_loop", "-1", "-i", musicPath)
	}

	graph := make([]string, 0)
	if len(dip.Rules) > 0 {
		graph = append(graph, "[0:v]"+dipFilter(dip)+"[vout]")
	} else {
		graph = append(graph, "[0:v]null[vout]")
	}

	audio := "[0:a]"
	if len(placements) > 0 {
		labels := make([]string, len(placements))
		for k, p := range placements {
			labels[k] = fmt.Sprintf("[n%d]", k)
			delay := int(p.StartSec * 1000)
			graph = append(graph, fmt.Sprintf("[%d:a]aformat=sample_rates=%d:channel_layouts=stereo,volume=%s,adelay=delays=%d:all=1%s",
				k+1, s.SampleRate, secs(s.NarrationVolume), delay, labels[k]))
		}
		voice := labels[0]
		if len(labels) > 1 {
			voice = "[narr]"
			graph = append(graph, fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0%s", strings.Join(labels, ""), len(labels), voice))
		}
		graph = append(graph, fmt.Sprintf("%s%samix=inputs=2:duration=first:normalize=0[voiced]", audio, voice))
		audio = "[voiced]"
	}
	if musicInput > 0 {
		graph = append(graph, fmt.Sprintf("[%d:a]aformat=sample_rates=%d:channel_layouts=stereo,volume='%s':eval=frame[bed]",
			musicInput, s.SampleRate, music.Compile("t")))
		graph = append(graph, fmt.Sprintf("%s[bed]amix=inputs=2:duration=first:normalize=0[aout]", audio))
		audio = "[aout]"
	}

	audioMap := audio
	if audio == "[0:a]" {
		audioMap = "0:a"
	}
	args = append(args, "-filter_complex", strings.Join(graph, ";"), "-map", "[vout]", "-map", audioMap, "-t", secs(totalSec))
	args = append(args, e.encodeArgs()...)
	return append(args, out)
}

// run invokes the tool and tags any failure with the step.
func (e *Engine) run(ctx context.Context, step string, args ...string) (string, error) {
	out, err := e.runner.Run(ctx, args...)
	if err != nil {
		return out, model.NewAssemblyError(step, out, err)
	}
	return out, nil
}
