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

// The examples below are embedded in planner prompts as "few-shot" samples.
// Showing the model a concrete instance of the JSON we expect keeps its
// output consistent and easy to parse.

// GetExampleStructure creates a sample DocumentaryStructure for the
// understanding prompt. Act durations add up to TotalDurationSec.
//
// Outputs:
//   - *DocumentaryStructure: A hardcoded five act structure.
func GetExampleStructure() *DocumentaryStructure {
	return &DocumentaryStructure{
		Theme:    "a grandmother's garden that outlived her",
		Intent:   "remember how small acts of care keep growing",
		Keywords: []string{"garden", "grandmother", "seasons"},
		Acts: []Act{
			{
				ActType: ActCosmicOpening, Title: "Seeds of light", DurationSec: 22, ScaleType: "cosmic",
				SilenceDurationSec: 4, Mood: "vast", Intensity: 0.4,
				Choreography: Choreography{CameraMotion: CameraDrift, Framing: FramingExtremeWide, Lens: LensWide, TimeOfDay: TimeNight, Contrast: ContrastHigh, Motif: MotifCosmos},
			},
			{
				ActType: ActPlanetary, Title: "Turning seasons", DurationSec: 24, ScaleType: "planetary",
				SilenceDurationSec: 1, Mood: "flowing", Intensity: 0.5,
				Choreography: Choreography{CameraMotion: CameraPullBack, Framing: FramingWide, Lens: LensWide, TimeOfDay: TimeDawn, Contrast: ContrastMedium, Motif: MotifEarth},
			},
			{
				ActType: ActHumanScale, Title: "The street she walked", DurationSec: 26, ScaleType: "human",
				SilenceDurationSec: 1, Mood: "warm", Intensity: 0.6,
				Choreography: Choreography{CameraMotion: CameraHandheld, Framing: FramingMedium, Lens: LensStandard, TimeOfDay: TimeGoldenHour, Contrast: ContrastMedium, Motif: MotifCity},
			},
			{
				ActType: ActIntimate, Title: "Soil under fingernails", DurationSec: 28, ScaleType: "intimate",
				SilenceDurationSec: 1, Mood: "tender", Intensity: 0.7,
				Choreography: Choreography{CameraMotion: CameraSlowPush, Framing: FramingCloseUp, Lens: LensMacro, TimeOfDay: TimeMorning, Contrast: ContrastLow, Motif: MotifHuman},
			},
			{
				ActType: ActReturn, Title: "Still blooming", DurationSec: 20, ScaleType: "cosmic",
				SilenceDurationSec: 2, Mood: "resolved", Intensity: 0.4,
				Choreography: Choreography{CameraMotion: CameraPullBack, Framing: FramingExtremeWide, Lens: LensWide, TimeOfDay: TimeDusk, Contrast: ContrastMedium, Motif: MotifLight},
			},
		},
		TotalDurationSec: TotalDurationSec,
	}
}

// GetExampleBeatFills creates sample narration output for the narration
// prompt.
//
// Outputs:
//   - []BeatFill: Two filled beats, one narrated and one without narration.
func GetExampleBeatFills() []BeatFill {
	return []BeatFill{
		{
			BeatIndex:    1,
			Narration:    "Every garden begins as light that travelled a long way to get here.",
			RenderPrompt: "slow drift through a field of stars resolving into pollen grains, deep blue night, cinematic",
			Setting:      "starfield",
			Motif:        MotifCosmos,
		},
		{
			BeatIndex:    2,
			Narration:    "",
			RenderPrompt: "aerial pull back over patchwork farmland at dawn, mist in the valleys",
			Setting:      "farmland",
			Motif:        MotifEarth,
		},
	}
}
