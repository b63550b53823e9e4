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

package model

// ActMood is the music intent for one act.
type ActMood struct {
	ActIndex  int     `json:"act_index"`
	ActType   ActType `json:"act_type"`
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity"`
	StartSec  float64 `json:"start_sec"`
	EndSec    float64 `json:"end_sec"`
}

// BeatCue tells the mixer whether a beat carries narration.
type BeatCue struct {
	BeatIndex    int      `json:"beat_index"`
	ActIndex     int      `json:"act_index"`
	BeatType     BeatType `json:"beat_type"`
	HasNarration bool     `json:"has_narration"`
	StartSec     float64  `json:"start_sec"`
	EndSec       float64  `json:"end_sec"`
}

// MusicPlan is a read-only view over the structure and timeline used to
// shape the music bed.
type MusicPlan struct {
	Acts  []ActMood `json:"acts"`
	Beats []BeatCue `json:"beats"`
}

var defaultMoods = map[ActType]string{
	ActCosmicOpening: "vast",
	ActPlanetary:     "flowing",
	ActHumanScale:    "warm",
	ActIntimate:      "tender",
	ActReturn:        "resolved",
}

// NewMusicPlan derives the plan. Either argument may be nil.
func NewMusicPlan(structure *DocumentaryStructure, timeline *MasterTimelineData) *MusicPlan {
	plan := &MusicPlan{Acts: make([]ActMood, 0), Beats: make([]BeatCue, 0)}
	if structure != nil {
		offset := 0.0
		for i, act := range structure.Acts {
			mood := act.Mood
			if mood == "" {
				mood = defaultMoods[act.ActType]
			}
			intensity := act.Intensity
			if intensity <= 0 {
				intensity = 0.5
			}
			start, end := offset, offset+float64(act.DurationSec)
			if timeline != nil {
				if s, e, ok := timeline.ActWindow(i); ok {
					start, end = s, e
				}
			}
			plan.Acts = append(plan.Acts, ActMood{
				ActIndex:  i,
				ActType:   act.ActType,
				Mood:      mood,
				Intensity: intensity,
				StartSec:  start,
				EndSec:    end,
			})
			offset = end
		}
	}
	if timeline != nil {
		for _, b := range timeline.Beats {
			plan.Beats = append(plan.Beats, BeatCue{
				BeatIndex:    b.BeatIndex,
				ActIndex:     b.ActIndex,
				BeatType:     b.BeatType,
				HasNarration: b.BeatType == BeatNarrated && b.Narration() != "",
				StartSec:     b.StartSec,
				EndSec:       b.EndSec,
			})
		}
	}
	return plan
}
