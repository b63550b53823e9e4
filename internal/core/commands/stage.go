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
	"fmt"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// Context keys shared by the film commands.
const (
	ParamRequest        = "__film_request__"
	ParamRun            = "__film_run__"
	ParamScratchDir     = "__scratch_dir__"
	ParamScenes         = "__ready_scenes__"
	ParamClips          = "__clips__"
	ParamNarrationAudio = "__narration_audio__"
	ParamMusicPath      = "__music_path__"
	ParamFilmPath       = "__film_path__"
)

// RunFrom returns the claimed run of the chain, or nil.
func RunFrom(context cor.Context) *model.FilmRun {
	run, _ := context.Get(ParamRun).(*model.FilmRun)
	return run
}

// StageCommand is embedded by the commands that do the work of one stage.
// Such a command only runs while the claimed run sits at its stage, so a
// resumed run skips the stages it already finished.
type StageCommand struct {
	cor.BaseCommand
	Stage model.Stage
	Store services.RunStore
}

func NewStageCommand(name string, stage model.Stage, store services.RunStore) StageCommand {
	return StageCommand{BaseCommand: *cor.NewBaseCommand(name), Stage: stage, Store: store}
}

func (c *StageCommand) IsExecutable(context cor.Context) bool {
	if context == nil || context.GetContext() == nil {
		return false
	}
	run := RunFrom(context)
	return run != nil && run.Stage == c.Stage
}

// fail counts and records err for this command.
func (c *StageCommand) fail(context cor.Context, format string, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), fmt.Errorf(format+": %w", err))
}

// save persists the run as it is.
func (c *StageCommand) save(context cor.Context, run *model.FilmRun) bool {
	if err := c.Store.Save(context.GetContext(), run); err != nil {
		c.fail(context, "failed to save run", err)
		return false
	}
	return true
}

// advance marks the stage complete, moves the run to the next stage and
// persists it.
func (c *StageCommand) advance(context cor.Context, run *model.FilmRun) bool {
	run.LastCompletedStage = c.Stage
	run.Stage = c.Stage.Next()
	run.ErrorMessage = ""
	run.FailedStage = -1
	if !c.save(context, run) {
		run.Stage = c.Stage
		return false
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	return true
}
