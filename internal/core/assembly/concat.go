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

package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// ClipOffset is where a clip starts in the assembled film. For a clip that
// dissolves in, the start is the middle of the overlap.
type ClipOffset struct {
	BeatIndex   int
	ActIndex    int
	StartSec    float64
	DurationSec float64
}

// ConcatPlan is the layout of the concatenated clips.
type ConcatPlan struct {
	Offsets   []ClipOffset
	TotalSec  float64
	Dissolves []bool
}

// PlanConcat lays out clips end to end. transitions[i] is the transition
// out of clip i; a dissolve overlaps the two clips by transitionSec, capped
// at half of the shorter clip. The last transition is ignored.
func PlanConcat(clips []NormalizedClip, transitions []model.TransitionType, transitionSec float64) ConcatPlan {
	plan := ConcatPlan{
		Offsets:   make([]ClipOffset, len(clips)),
		Dissolves: make([]bool, len(clips)),
	}
	acc := 0.0
	for i, c := range clips {
		start := acc
		if i > 0 && plan.Dissolves[i-1] {
			overlap := overlapFor(clips[i-1], c, transitionSec)
			start = acc - overlap/2
			acc = acc - overlap + c.DurationSec
		} else {
			acc += c.DurationSec
		}
		plan.Offsets[i] = ClipOffset{BeatIndex: c.BeatIndex, StartSec: start, DurationSec: c.DurationSec}
		if i < len(clips)-1 && i < len(transitions) && transitions[i] == model.TransitionDissolve && transitionSec > 0 {
			plan.Dissolves[i] = true
		}
	}
	plan.TotalSec = acc
	return plan
}

func overlapFor(a NormalizedClip, b NormalizedClip, transitionSec float64) float64 {
	return min(transitionSec, a.DurationSec/2, b.DurationSec/2)
}

// HasDissolve reports whether any boundary is a dissolve.
func (p ConcatPlan) HasDissolve() bool {
	for _, d := range p.Dissolves {
		if d {
			return true
		}
	}
	return false
}

// concat joins the normalized clips. Without dissolves the clips are copied
// through the concat demuxer; otherwise a filter graph chains xfade and
// acrossfade on dissolves and the concat filter on cuts.
func (e *Engine) concat(ctx context.Context, dir string, clips []NormalizedClip, plan ConcatPlan, out string) error {
	if !plan.HasDissolve() {
		paths := make([]string, len(clips))
		for i, c := range clips {
			paths[i] = c.Path
		}
		return e.concatCopy(ctx, dir, "clips.txt", paths, out, StepConcat)
	}

	args := []string{"-y", "-hide_banner"}
	for _, c := range clips {
		args = append(args, "-i", c.Path)
	}
	graph, vLabel, aLabel := concatFilterGraph(clips, plan, e.settings.TransitionSec)
	args = append(args, "-filter_complex", graph, "-map", vLabel, "-map", aLabel)
	args = append(args, e.encodeArgs()...)
	args = append(args, out)
	_, err := e.run(ctx, StepConcat, args...)
	return err
}

// concatFilterGraph builds the chained graph and returns it with the labels
// of the final video and audio streams.
func concatFilterGraph(clips []NormalizedClip, plan ConcatPlan, transitionSec float64) (string, string, string) {
	var b strings.Builder
	vPrev, aPrev := "[0:v]", "[0:a]"
	acc := 0.0
	if len(clips) > 0 {
		acc = clips[0].DurationSec
	}
	for i := 1; i < len(clips); i++ {
		vOut, aOut := fmt.Sprintf("[v%d]", i), fmt.Sprintf("[a%d]", i)
		if plan.Dissolves[i-1] {
			overlap := overlapFor(clips[i-1], clips[i], transitionSec)
			offset := acc - overlap
			fmt.Fprintf(&b, "%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s;", vPrev, i, secs(overlap), secs(offset), vOut)
			fmt.Fprintf(&b, "%s[%d:a]acrossfade=d=%s%s;", aPrev, i, secs(overlap), aOut)
			acc = offset + clips[i].DurationSec
		} else {
			fmt.Fprintf(&b, "%s%s[%d:v][%d:a]concat=n=2:v=1:a=1%s%s;", vPrev, aPrev, i, i, vOut, aOut)
			acc += clips[i].DurationSec
		}
		vPrev, aPrev = vOut, aOut
	}
	return strings.TrimSuffix(b.String(), ";"), vPrev, aPrev
}

// concatCopy writes a concat demuxer list and joins the files without
// re-encoding.
func (e *Engine) concatCopy(ctx context.Context, dir string, listName string, paths []string, out string, step string) error {
	var list strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	listPath := filepath.Join(dir, listName)
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return model.NewAssemblyError(step, "", fmt.Errorf("failed to write concat list: %w", err))
	}
	_, err := e.run(ctx, step, "-y", "-hide_banner", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out)
	return err
}
