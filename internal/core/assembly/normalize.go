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
	"math"
	"path/filepath"
	"strconv"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// Normalization actions.
const (
	ActionKeep = "keep"
	ActionTrim = "trim"
	ActionPad  = "pad"
)

// Clip is a rendered clip for one beat.
type Clip struct {
	BeatIndex int
	Path      string
}

// NormalizedClip is a clip re-encoded to the uniform output format and to
// exactly its target duration.
type NormalizedClip struct {
	BeatIndex   int
	Path        string
	SourceSec   float64
	DurationSec float64
	Action      string
}

// Normalize measures a clip and re-encodes it to targetSec: trimmed when
// longer, padded with its last frame and silence when shorter.
func (e *Engine) Normalize(ctx context.Context, dir string, index int, clip Clip, targetSec float64) (NormalizedClip, error) {
	p, err := e.probe(ctx, clip.Path)
	if err != nil {
		return NormalizedClip{}, err
	}

	action := ActionKeep
	diff := targetSec - p.DurationSec
	switch {
	case math.Abs(diff) <= e.settings.DurationEpsilon:
	case diff < 0:
		action = ActionTrim
	default:
		action = ActionPad
	}

	out := filepath.Join(dir, fmt.Sprintf("norm-%03d.mp4", index))
	args := e.normalizeArgs(clip.Path, out, p, targetSec, action)
	if _, err := e.run(ctx, StepNormalize, args...); err != nil {
		return NormalizedClip{}, err
	}
	slog.Debug("clip normalized",
		"beat", clip.BeatIndex,
		"source_sec", p.DurationSec,
		"target_sec", targetSec,
		"action", action)
	return NormalizedClip{
		BeatIndex:   clip.BeatIndex,
		Path:        out,
		SourceSec:   p.DurationSec,
		DurationSec: targetSec,
		Action:      action,
	}, nil
}

func (e *Engine) normalizeArgs(in string, out string, p Probe, targetSec float64, action string) []string {
	s := e.settings
	video := fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		s.Width, s.Height, s.Width, s.Height, s.FPS)
	audioIn := "[0:a]"
	if !p.HasAudio {
		audioIn = "[1:a]"
	}
	audio := fmt.Sprintf("%saformat=sample_rates=%d:channel_layouts=stereo", audioIn, s.SampleRate)
	if action == ActionPad {
		video += ",tpad=stop_mode=clone:stop_duration=" + secs(targetSec-p.DurationSec)
		if p.HasAudio {
			audio += ",apad"
		}
	}

	args := []string{"-y", "-hide_banner", "-i", in}
	if !p.HasAudio {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", s.SampleRate))
	}
	args = append(args,
		"-filter_complex", video+"[v];"+audio+"[a]",
		"-map", "[v]", "-map", "[a]",
		"-t", secs(targetSec))
	args = append(args, e.encodeArgs()...)
	return append(args, out)
}

func (e *Engine) encodeArgs() []string {
	s := e.settings
	return []string{
		"-c:v", s.VideoCodec, "-preset", s.Preset, "-crf", strconv.Itoa(s.CRF), "-pix_fmt", "yuv420p",
		"-c:a", s.AudioCodec, "-ar", strconv.Itoa(s.SampleRate), "-ac", "2",
	}
}

// targetDuration is the planned duration of a beat, or the default clip
// length when the beat is not in the timeline.
func (e *Engine) targetDuration(beats map[int]model.TimelineBeat, beatIndex int) float64 {
	if b, ok := beats[beatIndex]; ok && b.DurationSec > 0 {
		return float64(b.DurationSec)
	}
	return e.settings.DefaultClipSec
}
