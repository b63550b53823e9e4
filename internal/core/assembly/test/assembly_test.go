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

package assembly_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, runner assembly.Runner) *assembly.Engine {
	return assembly.NewEngine(runner, assembly.Settings{Workers: 2, ScratchDir: t.TempDir()})
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func twoActTimeline(first model.TransitionType) *model.MasterTimelineData {
	return &model.MasterTimelineData{
		TotalDurationSec: 16,
		Beats: []model.TimelineBeat{
			{BeatIndex: 0, ActIndex: 0, StartSec: 0, EndSec: 8, DurationSec: 8, BeatType: model.BeatBreathing, VisualCategory: model.MotifCosmos, TransitionOut: first},
			{BeatIndex: 1, ActIndex: 1, StartSec: 8, EndSec: 16, DurationSec: 8, BeatType: model.BeatNarrated, VisualCategory: model.MotifCosmos, TransitionOut: model.TransitionCut},
		},
	}
}

func TestParseProbe(t *testing.T) {
	p, err := assembly.ParseProbe("  Duration: 00:01:05.60, start: 0.000000\n  Stream #0:1(und): Audio: aac (LC)\n")
	require.NoError(t, err)
	assert.InDelta(t, 65.6, p.DurationSec, 1e-9)
	assert.True(t, p.HasAudio)

	p, err = assembly.ParseProbe("  Duration: 01:00:00.00\n  Stream #0:0: Video: h264\n")
	require.NoError(t, err)
	assert.Equal(t, 3600.0, p.DurationSec)
	assert.False(t, p.HasAudio)

	_, err = assembly.ParseProbe("No such file or directory")
	assert.Error(t, err)
}

func TestNormalizePadsShortClip(t *testing.T) {
	runner := test.NewFakeRunner(5.6)
	engine := newEngine(t, runner)

	n, err := engine.Normalize(context.Background(), t.TempDir(), 0, assembly.Clip{BeatIndex: 3, Path: "clip-3.mp4"}, 8)
	require.NoError(t, err)

	assert.Equal(t, assembly.ActionPad, n.Action)
	assert.Equal(t, 8.0, n.DurationSec)
	assert.InDelta(t, 5.6, n.SourceSec, 1e-9)
	assert.Equal(t, 3, n.BeatIndex)

	calls := runner.CallsContaining("tpad")
	require.Len(t, calls, 1)
	graph := argAfter(calls[0], "-filter_complex")
	assert.Contains(t, graph, "tpad=stop_mode=clone:stop_duration=2.4[v]")
	assert.Contains(t, graph, "[0:a]aformat=sample_rates=48000:channel_layouts=stereo,apad[a]")
	assert.Equal(t, "8", argAfter(calls[0], "-t"))
	assert.Equal(t, n.Path, calls[0][len(calls[0])-1])
}

func TestNormalizeTrimKeepAndSilence(t *testing.T) {
	runner := test.NewFakeRunner(8.02)
	runner.Durations["long.mp4"] = 9.5
	runner.Durations["silent.mp4"] = 4
	runner.Silent["silent.mp4"] = true
	engine := newEngine(t, runner)
	ctx := context.Background()
	dir := t.TempDir()

	kept, err := engine.Normalize(ctx, dir, 0, assembly.Clip{Path: "exact.mp4"}, 8)
	require.NoError(t, err)
	assert.Equal(t, assembly.ActionKeep, kept.Action)

	trimmed, err := engine.Normalize(ctx, dir, 1, assembly.Clip{Path: "long.mp4"}, 8)
	require.NoError(t, err)
	assert.Equal(t, assembly.ActionTrim, trimmed.Action)

	padded, err := engine.Normalize(ctx, dir, 2, assembly.Clip{Path: "silent.mp4"}, 6)
	require.NoError(t, err)
	assert.Equal(t, assembly.ActionPad, padded.Action)

	assert.Len(t, runner.CallsContaining("tpad"), 1)
	silent := runner.CallsContaining("anullsrc")
	require.Len(t, silent, 1)
	graph := argAfter(silent[0], "-filter_complex")
	assert.Contains(t, graph, "[1:a]aformat")
	assert.NotContains(t, graph, "apad")
}

func TestPlanConcat(t *testing.T) {
	clips := []assembly.NormalizedClip{
		{BeatIndex: 0, DurationSec: 8},
		{BeatIndex: 1, DurationSec: 8},
		{BeatIndex: 2, DurationSec: 6},
	}
	plan := assembly.PlanConcat(clips, []model.TransitionType{model.TransitionDissolve, model.TransitionCut, model.TransitionDissolve}, 0.5)

	assert.True(t, plan.HasDissolve())
	assert.Equal(t, []bool{true, false, false}, plan.Dissolves)
	assert.InDelta(t, 0, plan.Offsets[0].StartSec, 1e-9)
	assert.InDelta(t, 7.75, plan.Offsets[1].StartSec, 1e-9)
	assert.InDelta(t, 15.5, plan.Offsets[2].StartSec, 1e-9)
	assert.InDelta(t, 21.5, plan.TotalSec, 1e-9)

	cuts := assembly.PlanConcat(clips, nil, 0.5)
	assert.False(t, cuts.HasDissolve())
	assert.InDelta(t, 22, cuts.TotalSec, 1e-9)
}

func TestAssembleDissolveEmitsXfade(t *testing.T) {
	runner := test.NewFakeRunner(8)
	engine := newEngine(t, runner)
	output := filepath.Join(t.TempDir(), "films", "film.mp4")

	out, err := engine.Assemble(context.Background(), assembly.Input{
		Clips: []assembly.Clip{
			{BeatIndex: 1, Path: "beat-1.mp4"},
			{BeatIndex: 0, Path: "beat-0.mp4"},
		},
		Timeline:   twoActTimeline(model.TransitionDissolve),
		Structure:  test.SampleStructure(),
		OutputPath: output,
	})
	require.NoError(t, err)

	xfade := runner.CallsContaining("xfade")
	require.Len(t, xfade, 1)
	graph := argAfter(xfade[0], "-filter_complex")
	assert.Contains(t, graph, "[0:v][1:v]xfade=transition=fade:duration=0.5:offset=7.5[v1]")
	assert.Contains(t, graph, "[0:a][1:a]acrossfade=d=0.5[a1]")
	assert.Empty(t, runner.CallsContaining("clips.txt"))

	require.Len(t, out.ClipOffsets, 2)
	assert.Equal(t, 0, out.ClipOffsets[0].BeatIndex)
	assert.Equal(t, 1, out.ClipOffsets[1].BeatIndex)
	assert.InDelta(t, 7.75, out.ClipOffsets[1].StartSec, 1e-9)
	assert.InDelta(t, 15.5, out.PlannedSec, 1e-9)

	require.Len(t, out.Acts, 2)
	assert.Equal(t, model.ActCosmicOpening, out.Acts[0].ActType)
	assert.InDelta(t, 7.75, out.Acts[0].EndSec, 1e-9)
	assert.Equal(t, assembly.GradePerAct, out.Grade)
	assert.Len(t, runner.CallsContaining("eq=contrast="), 2)

	assert.Len(t, runner.CallsContaining("geq=lum="), 1)
	assert.FileExists(t, output)
}

func TestAssembleCutsUseConcatDemuxer(t *testing.T) {
	runner := test.NewFakeRunner(8)
	scratch := t.TempDir()
	engine := assembly.NewEngine(runner, assembly.Settings{Workers: 1, ScratchDir: scratch})

	out, err := engine.Assemble(context.Background(), assembly.Input{
		Clips:      []assembly.Clip{{BeatIndex: 0, Path: "beat-0.mp4"}, {BeatIndex: 1, Path: "beat-1.mp4"}},
		Timeline:   twoActTimeline(model.TransitionCut),
		OutputPath: filepath.Join(t.TempDir(), "film.mp4"),
	})
	require.NoError(t, err)

	assert.Empty(t, runner.CallsContaining("xfade"))
	assert.Len(t, runner.CallsContaining("clips.txt"), 1)
	assert.InDelta(t, 8, out.ClipOffsets[1].StartSec, 1e-9)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory is removed")
}

func TestAssembleFallsBackToGlobalGrade(t *testing.T) {
	runner := test.NewFakeRunner(8)
	runner.FailWhen = func(args []string) bool {
		return strings.HasSuffix(args[len(args)-1], "act-01.mp4")
	}
	engine := newEngine(t, runner)

	out, err := engine.Assemble(context.Background(), assembly.Input{
		Clips:      []assembly.Clip{{BeatIndex: 0, Path: "beat-0.mp4"}, {BeatIndex: 1, Path: "beat-1.mp4"}},
		Timeline:   twoActTimeline(model.TransitionCut),
		Structure:  test.SampleStructure(),
		OutputPath: filepath.Join(t.TempDir(), "film.mp4"),
	})
	require.NoError(t, err)
	assert.Equal(t, assembly.GradeGlobal, out.Grade)
	assert.Len(t, runner.CallsContaining("graded-global.mp4"), 2)
}

func TestAssembleMixesNarrationAndMusic(t *testing.T) {
	runner := test.NewFakeRunner(8)
	runner.Durations["narration-1.wav"] = 3
	engine := newEngine(t, runner)
	beat := 1

	out, err := engine.Assemble(context.Background(), assembly.Input{
		Clips:     []assembly.Clip{{BeatIndex: 0, Path: "beat-0.mp4"}, {BeatIndex: 1, Path: "beat-1.mp4"}},
		Timeline:  twoActTimeline(model.TransitionCut),
		Structure: test.SampleStructure(),
		Narration: []model.NarrationSegment{
			{Text: "Not recorded.", ActIndex: 0},
			{Text: "Recorded.", ActIndex: 1, BeatIndex: &beat},
		},
		NarrationAudio: []string{"", "narration-1.wav"},
		MusicPath:      "music.mp3",
		OutputPath:     filepath.Join(t.TempDir(), "film.mp4"),
	})
	require.NoError(t, err)

	require.Len(t, out.Placements, 1)
	assert.Equal(t, 1, out.Placements[0].Segment)
	assert.InDelta(t, 8.5, out.Placements[0].StartSec, 1e-9)
	assert.InDelta(t, 3, out.Placements[0].DurationSec, 1e-9)
	require.Len(t, out.Clips, 2)
	assert.InDelta(t, 8, out.Clips[1].SourceSec, 1e-9)

	mix := runner.CallsContaining("adelay")
	require.Len(t, mix, 1)
	args := mix[0]
	graph := argAfter(args, "-filter_complex")
	assert.Contains(t, graph, "adelay=delays=8500:all=1[n0]")
	assert.Contains(t, graph, "[0:a][n0]amix=inputs=2:duration=first:normalize=0[voiced]")
	assert.Contains(t, graph, "[2:a]aformat=sample_rates=48000:channel_layouts=stereo,volume='")
	assert.Contains(t, graph, "':eval=frame[bed]")
	assert.Contains(t, graph, "[voiced][bed]amix=inputs=2:duration=first:normalize=0[aout]")
	assert.Equal(t, "[aout]", args[slices.Index(args, "[vout]")+2])
	assert.Contains(t, args, "-stream_loop")
	assert.Equal(t, "16", argAfter(args, "-t"))
}

func TestAssembleDropsNarrationOfMissingBeats(t *testing.T) {
	runner := test.NewFakeRunner(8)
	runner.Durations["narration-0.wav"] = 3
	runner.Durations["narration-1.wav"] = 3
	engine := newEngine(t, runner)
	first, second := 0, 1

	out, err := engine.Assemble(context.Background(), assembly.Input{
		Clips:     []assembly.Clip{{BeatIndex: 1, Path: "beat-1.mp4"}},
		Timeline:  twoActTimeline(model.TransitionCut),
		Structure: test.SampleStructure(),
		Narration: []model.NarrationSegment{
			{Text: "Over a missing clip.", ActIndex: 0, BeatIndex: &first},
			{Text: "Over its own clip.", ActIndex: 1, BeatIndex: &second},
		},
		NarrationAudio: []string{"narration-0.wav", "narration-1.wav"},
		OutputPath:     filepath.Join(t.TempDir(), "film.mp4"),
	})
	require.NoError(t, err)

	require.Len(t, out.Placements, 1)
	assert.Equal(t, 1, out.Placements[0].Segment)
	assert.InDelta(t, 0.5, out.Placements[0].StartSec, 1e-9)
}

func TestAssembleReportsFailingStep(t *testing.T) {
	runner := test.NewFakeRunner(8)
	runner.FailWhen = func(args []string) bool {
		return strings.HasSuffix(args[len(args)-1], "final.mp4")
	}
	engine := newEngine(t, runner)

	_, err := engine.Assemble(context.Background(), assembly.Input{
		Clips:      []assembly.Clip{{BeatIndex: 0, Path: "beat-0.mp4"}},
		OutputPath: filepath.Join(t.TempDir(), "film.mp4"),
	})
	var assemblyErr *model.AssemblyError
	require.True(t, errors.As(err, &assemblyErr))
	assert.Equal(t, assembly.StepMix, assemblyErr.Step)
	assert.Contains(t, assemblyErr.Output, "Invalid argument")

	_, err = engine.Assemble(context.Background(), assembly.Input{OutputPath: "film.mp4"})
	require.True(t, errors.As(err, &assemblyErr))
	assert.Equal(t, assembly.StepInput, assemblyErr.Step)
}

func TestPlaceNarration(t *testing.T) {
	settings := assembly.PlacementSettings{OffsetSec: 0.5, MinGapSec: 0.4}

	placed := assembly.PlaceNarration([]float64{5, 5}, []float64{0, 10}, settings, 100)
	assert.InDelta(t, 0.5, placed[0].StartSec, 1e-9)
	assert.InDelta(t, 10.5, placed[1].StartSec, 1e-9)

	crowded := assembly.PlaceNarration([]float64{5, 5}, []float64{0, 2}, settings, 100)
	assert.InDelta(t, 5.9, crowded[1].StartSec, 1e-9)

	// The second recording would end at 16.5 on a 14 second runway: only its
	// own silence shrinks, the first recording stays with its clip.
	overflow := assembly.PlaceNarration([]float64{4, 4}, []float64{0, 12}, settings, 14)
	assert.InDelta(t, 0.5, overflow[0].StartSec, 1e-9)
	assert.InDelta(t, 10, overflow[1].StartSec, 1e-9)
	assert.InDelta(t, 14, overflow[1].EndSec(), 1e-9)
	assert.InDelta(t, 4, overflow[1].DurationSec, 1e-9)

	late := assembly.PlaceNarration([]float64{3, 3, 3, 20}, []float64{0, 8, 16, 24}, settings, 40)
	for i, clipStart := range []float64{0, 8, 16} {
		assert.InDelta(t, clipStart+settings.OffsetSec, late[i].StartSec, 1e-9, "segment %d", i)
	}
	assert.InDelta(t, 20, late[3].StartSec, 1e-9)
	assert.InDelta(t, 40, late[3].EndSec(), 1e-9)

	// When the tail has too little silence of its own, earlier recordings
	// give up theirs as well.
	tight := assembly.PlaceNarration([]float64{4, 4}, []float64{0, 4.5}, settings, 8)
	assert.InDelta(t, 0, tight[0].StartSec, 1e-9)
	assert.InDelta(t, 4, tight[1].StartSec, 1e-9)
	assert.InDelta(t, 8, tight[1].EndSec(), 1e-9)

	assert.Empty(t, assembly.PlaceNarration(nil, nil, settings, 10))
}

func TestMusicEnvelopes(t *testing.T) {
	s := assembly.DefaultSettings()
	duck := assembly.DuckingEnvelope([]assembly.Placement{
		{StartSec: 10, DurationSec: 5},
		{StartSec: 15.5, DurationSec: 2},
		{StartSec: 30, DurationSec: 2},
	}, s)

	assert.Equal(t, s.MusicHighVolume, duck.ValueAt(5))
	assert.Equal(t, s.MusicLowVolume, duck.ValueAt(12))
	assert.Equal(t, s.MusicLowVolume, duck.ValueAt(15.2), "close windows are merged")
	assert.Greater(t, duck.ValueAt(9.7), s.MusicLowVolume)
	assert.Less(t, duck.ValueAt(9.7), s.MusicHighVolume)
	assert.Equal(t, s.MusicHighVolume, duck.ValueAt(25))

	fade := assembly.FinalFadeEnvelope(100, 120, 4)
	assert.Equal(t, 1.0, fade.ValueAt(90))
	assert.InDelta(t, 1.0, fade.ValueAt(100), 1e-9)
	assert.InDelta(t, 0.5, fade.ValueAt(110), 1e-9)
	assert.Equal(t, 0.0, fade.ValueAt(120))

	short := assembly.FinalFadeEnvelope(118, 120, 4)
	assert.Equal(t, 1.0, short.ValueAt(115))
	assert.InDelta(t, 0.5, short.ValueAt(118), 1e-9)

	single := assembly.FinalFadeEnvelope(0, 16, 4)
	assert.Equal(t, 1.0, single.ValueAt(10))
	assert.InDelta(t, 0.5, single.ValueAt(14), 1e-9)

	structure, timeline, _, _ := test.SamplePlan()
	plan := model.NewMusicPlan(structure, timeline)
	offsets := []assembly.ClipOffset{{BeatIndex: 0, StartSec: 0, DurationSec: 8}, {BeatIndex: 1, StartSec: 8, DurationSec: 6}}
	table := assembly.BeatTableEnvelope(plan, offsets, s)
	assert.Greater(t, table.ValueAt(4), table.ValueAt(10), "breathing beats are louder than narrated ones")
}

func TestDipEnvelope(t *testing.T) {
	dip := assembly.DipEnvelope([]float64{22, 46}, 0.8)
	assert.Equal(t, 1.0, dip.ValueAt(10))
	assert.Equal(t, 0.0, dip.ValueAt(22))
	assert.InDelta(t, 0.5, dip.ValueAt(46.2), 1e-9)
	assert.Len(t, dip.Rules, 4)
}
