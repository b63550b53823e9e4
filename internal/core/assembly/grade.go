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
	"log/slog"
	"path/filepath"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly/envelope"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// Grading modes reported on the output.
const (
	GradePerAct = "per_act"
	GradeGlobal = "global"
	GradeNone   = "none"
)

// ActSpan is the realized window of an act in the assembled film.
type ActSpan struct {
	ActIndex int
	ActType  model.ActType
	StartSec float64
	EndSec   float64
}

// ActSpans groups consecutive clips of the same act. Each span ends where
// the next one starts; the last ends at totalSec.
func ActSpans(offsets []ClipOffset, totalSec float64, structure *model.DocumentaryStructure) []ActSpan {
	spans := make([]ActSpan, 0)
	for i, o := range offsets {
		if i > 0 && offsets[i-1].ActIndex == o.ActIndex {
			continue
		}
		if len(spans) > 0 {
			spans[len(spans)-1].EndSec = o.StartSec
		}
		actType := model.ActHumanScale
		if structure != nil && o.ActIndex >= 0 && o.ActIndex < len(structure.Acts) {
			actType = structure.Acts[o.ActIndex].ActType
		}
		spans = append(spans, ActSpan{ActIndex: o.ActIndex, ActType: actType, StartSec: o.StartSec})
	}
	if len(spans) > 0 {
		spans[len(spans)-1].EndSec = totalSec
	}
	return spans
}

// grade applies the per act look slice by slice and joins the slices again.
// When any slice fails the whole film gets the global grade instead, and
// when that fails too the ungraded input is returned.
func (e *Engine) grade(ctx context.Context, dir string, in string, spans []ActSpan) (string, string) {
	slices := make([]string, 0, len(spans))
	var sliceErr error
	for i, span := range spans {
		grade, ok := e.settings.Grades[span.ActType]
		if !ok {
			grade = e.settings.Global
		}
		out := filepath.Join(dir, fmt.Sprintf("act-%02d.mp4", i))
		args := []string{"-y", "-hide_banner", "-i", in,
			"-ss", secs(span.StartSec), "-t", secs(span.EndSec - span.StartSec),
			"-vf", grade.Filter()}
		args = append(args, e.encodeArgs()...)
		if _, sliceErr = e.run(ctx, StepGrade, append(args, out)...); sliceErr != nil {
			break
		}
		slices = append(slices, out)
	}
	if sliceErr == nil {
		out := filepath.Join(dir, "graded.mp4")
		if sliceErr = e.concatCopy(ctx, dir, "acts.txt", slices, out, StepGrade); sliceErr == nil {
			return out, GradePerAct
		}
	}
	slog.Warn("per act grading failed, applying the global grade", "error", sliceErr)

	out := filepath.Join(dir, "graded-global.mp4")
	args := []string{"-y", "-hide_banner", "-i", in, "-vf", e.settings.Global.Filter()}
	args = append(args, e.encodeArgs()...)
	if _, err := e.run(ctx, StepGrade, append(args, out)...); err != nil {
		slog.Warn("global grading failed, keeping the ungraded film", "error", err)
		return in, GradeNone
	}
	return out, GradeGlobal
}

// DipEnvelope fades to black and back around every boundary over dipSec.
func DipEnvelope(boundaries []float64, dipSec float64) *envelope.Envelope {
	env := envelope.New(1)
	half := dipSec / 2
	for _, b := range boundaries {
		env.Ramp(max(0, b-half), b, 1, 0).Ramp(b, b+half, 0, 1)
	}
	return env
}

// dipFilter applies a brightness envelope to luma and chroma per frame.
func dipFilter(env envelope.Expr) string {
	expr := env.Compile("T")
	return fmt.Sprintf("geq=lum='16+(lum(X,Y)-16)*(%[1]s)':cb='128+(cb(X,Y)-128)*(%[1]s)':cr='128+(cr(X,Y)-128)*(%[1]s)'", expr)
}

func interiorBoundaries(spans []ActSpan) []float64 {
	out := make([]float64, 0, len(spans))
	for i := 1; i < len(spans); i++ {
		out = append(out, spans[i].StartSec)
	}
	return out
}
