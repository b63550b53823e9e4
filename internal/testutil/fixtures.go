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

package test

import (
	"fmt"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
)

// SampleUserText is the personal text the sample plan was written for.
const SampleUserText = "My grandmother kept a garden for sixty years. After she died, it kept growing."

var sampleNarration = []string{
	"Every garden begins as light that travelled a long way to get here.",
	"The seasons turned over the valley, one after another.",
	"Rain came, and the soil remembered it.",
	"She walked the same street every morning with seeds in her pocket.",
	"Neighbours learned her name from the tomatoes she gave away.",
	"The corner shop kept a jar of her marigold seeds by the till.",
	"Her hands knew the soil better than any map.",
	"She talked to the plants when she thought nobody listened.",
	"Some lessons were only ever taught by example.",
	"Now the garden blooms for someone else.",
	"The light that fed her roses still arrives each morning.",
	"Nothing she planted has stopped growing.",
}

var samplePrompts = map[model.ActType][]string{
	model.ActCosmicOpening: {
		"slow drift through a dense starfield turning into floating pollen",
		"nebula clouds glowing blue over a dark horizon",
		"light rays crossing empty space toward a small blue planet",
		"aerial view of clouds parting above a blue planet",
	},
	model.ActPlanetary: {
		"aerial pull back over patchwork farmland at dawn",
		"time lapse of seasons changing over a river valley",
		"rain falling on dark soil in a wide field",
		"mist rolling across terraced hills",
	},
	model.ActHumanScale: {
		"elderly woman walking down a tree lined street in the morning",
		"neighbours exchanging vegetables over a garden fence",
		"small corner shop with a jar of seeds on the counter",
		"children running past flower boxes on a narrow street",
	},
	model.ActIntimate: {
		"close up of weathered hands pressing seeds into soil",
		"macro shot of water drops on rose petals",
		"old notebook with handwritten planting notes",
		"a cup of tea cooling on a garden bench",
	},
	model.ActReturn: {
		"young woman watering a blooming garden at dusk",
		"pull back from the garden to the rooftops of the town",
		"sunset light spreading across the whole valley",
		"the first star appearing above a quiet garden",
	},
}

// SampleStructure returns a fresh copy of the five act example structure.
func SampleStructure() *model.DocumentaryStructure {
	return model.GetExampleStructure()
}

// SampleFills returns planner output for every beat of t. Narrated beats get
// one sentence each and every beat gets a distinct render prompt.
func SampleFills(structure *model.DocumentaryStructure, t *model.MasterTimelineData) []model.BeatFill {
	fills := make([]model.BeatFill, 0, len(t.Beats))
	line := 0
	used := make(map[model.ActType]int)
	for _, b := range t.Beats {
		actType := structure.Acts[b.ActIndex].ActType
		prompts := samplePrompts[actType]
		prompt := fmt.Sprintf("%s, beat %d", prompts[used[actType]%len(prompts)], b.BeatIndex)
		used[actType]++
		fill := model.BeatFill{BeatIndex: b.BeatIndex, RenderPrompt: prompt}
		if b.BeatType == model.BeatNarrated {
			fill.Narration = sampleNarration[line%len(sampleNarration)]
			line++
		}
		fills = append(fills, fill)
	}
	return fills
}

// SamplePlan builds a complete plan the way the blueprint stage does: a
// skeleton from the sample structure, filled with SampleFills. The plan
// passes every quality check without repairs.
func SamplePlan() (*model.DocumentaryStructure, *model.MasterTimelineData, []model.NarrationSegment, []model.ShotPlanEntry) {
	structure := SampleStructure()
	t := timeline.BuildSkeleton(structure)
	fills := SampleFills(structure, t)
	timeline.Fill(t, fills)
	return structure, t, timeline.NarrationSegments(t), timeline.ShotPlan(structure, t, fills)
}
