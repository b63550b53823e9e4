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
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

var (
	durationPattern    = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	audioStreamPattern = regexp.MustCompile(`Stream #\d+:\d+\S*: Audio:`)
)

// Probe is what the media tool reports about an input file.
type Probe struct {
	DurationSec float64
	HasAudio    bool
}

// ParseProbe reads the duration and audio stream presence from the tool's
// diagnostic output.
func ParseProbe(output string) (Probe, error) {
	m := durationPattern.FindStringSubmatch(output)
	if m == nil {
		return Probe{}, errors.New("no duration in tool output")
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Probe{}, fmt.Errorf("invalid duration %q: %w", m[0], err)
	}
	return Probe{
		DurationSec: float64(hours*3600+minutes*60) + seconds,
		HasAudio:    audioStreamPattern.MatchString(output),
	}, nil
}

// probe runs the tool with an input and no output. The tool exits with an
// error in that case, so the exit status is ignored when the output parses.
func (e *Engine) probe(ctx context.Context, path string) (Probe, error) {
	out, runErr := e.runner.Run(ctx, "-hide_banner", "-i", path)
	p, err := ParseProbe(out)
	if err != nil {
		if runErr != nil {
			err = errors.Join(err, runErr)
		}
		return Probe{}, model.NewAssemblyError(StepProbe, out, fmt.Errorf("failed to probe %s: %w", path, err))
	}
	return p, nil
}
