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
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// MusicResolver fetches the music bed. The mood asked for follows the acts,
// e.g. "vast, flowing, warm, tender, resolved". Without a source, or when
// the source fails, the film has no music.
type MusicResolver struct {
	StageCommand
	source services.MusicSource
}

func NewMusicResolver(name string, store services.RunStore, source services.MusicSource) *MusicResolver {
	return &MusicResolver{StageCommand: NewStageCommand(name, model.StageAssembling, store), source: source}
}

func (c *MusicResolver) IsExecutable(context cor.Context) bool {
	return c.StageCommand.IsExecutable(context) && context.Get(ParamScratchDir) != nil
}

// Mood describes the music of a plan in act order, without repeats.
func Mood(plan *model.MusicPlan) string {
	moods := make([]string, 0, len(plan.Acts))
	seen := make(map[string]bool)
	for _, a := range plan.Acts {
		if a.Mood != "" && !seen[a.Mood] {
			seen[a.Mood] = true
			moods = append(moods, a.Mood)
		}
	}
	return strings.Join(moods, ", ")
}

func (c *MusicResolver) Execute(context cor.Context) {
	run := RunFrom(context)
	if c.source == nil {
		slog.Info("music skipped, no source", "run_id", run.Id)
		return
	}
	dir := context.Get(ParamScratchDir).(string)
	mood := Mood(model.NewMusicPlan(run.Structure, run.Timeline))
	dst := filepath.Join(dir, "music.mp3")

	if err := c.source.Track(context.GetContext(), mood, model.TotalDurationSec, dst); err != nil {
		slog.Warn("music unavailable, assembling without it", "run_id", run.Id, "mood", mood, "error", err)
		return
	}
	if err := checkAudio(dst); err != nil {
		slog.Warn("music track rejected", "run_id", run.Id, "error", err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(ParamMusicPath, dst)
}
