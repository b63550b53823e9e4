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

// Choreography carries the per-act shooting hints the skeleton builder turns
// into camera grammar and lighting for every beat of the act.
type Choreography struct {
	CameraMotion CameraMotion   `json:"camera_motion" yaml:"camera_motion"`
	Framing      Framing        `json:"framing" yaml:"framing"`
	Lens         Lens           `json:"lens" yaml:"lens"`
	TimeOfDay    TimeOfDay      `json:"time_of_day" yaml:"time_of_day"`
	Contrast     Contrast       `json:"contrast" yaml:"contrast"`
	Motif        VisualCategory `json:"motif" yaml:"motif"`
}

// Act is one named narrative section of the film.
type Act struct {
	ActType            ActType      `json:"act_type"`
	Title              string       `json:"title,omitempty"`
	DurationSec        int          `json:"duration_sec"`
	ScaleType          string       `json:"scale_type"`
	SilenceDurationSec float64      `json:"silence_duration_sec"`
	Mood               string       `json:"mood,omitempty"`
	Intensity          float64      `json:"intensity,omitempty"`
	Choreography       Choreography `json:"choreography"`
}

// DocumentaryStructure is the ordered list of acts for a run along with the
// planner's understanding of the user's text.
type DocumentaryStructure struct {
	Theme            string   `json:"theme"`
	Intent           string   `json:"intent"`
	Keywords         []string `json:"keywords,omitempty"`
	Acts             []Act    `json:"acts"`
	TotalDurationSec int      `json:"total_duration_sec"`
}

// Clone deep copies the structure.
func (d *DocumentaryStructure) Clone() *DocumentaryStructure {
	if d == nil {
		return nil
	}
	out := *d
	out.Keywords = append([]string(nil), d.Keywords...)
	out.Acts = append([]Act(nil), d.Acts...)
	return &out
}

// MaxActIndex is the largest valid actIndex for beats of this structure.
func (d *DocumentaryStructure) MaxActIndex() int {
	return len(d.Acts) - 1
}

// SumActDurations adds up the act durations.
func (d *DocumentaryStructure) SumActDurations() int {
	total := 0
	for _, a := range d.Acts {
		total += a.DurationSec
	}
	return total
}

var defaultChoreography = map[ActType]Choreography{
	ActCosmicOpening: {CameraMotion: CameraDrift, Framing: FramingExtremeWide, Lens: LensWide, TimeOfDay: TimeNight, Contrast: ContrastHigh, Motif: MotifCosmos},
	ActPlanetary:     {CameraMotion: CameraPullBack, Framing: FramingWide, Lens: LensWide, TimeOfDay: TimeDawn, Contrast: ContrastMedium, Motif: MotifEarth},
	ActHumanScale:    {CameraMotion: CameraHandheld, Framing: FramingMedium, Lens: LensStandard, TimeOfDay: TimeGoldenHour, Contrast: ContrastMedium, Motif: MotifCity},
	ActIntimate:      {CameraMotion: CameraSlowPush, Framing: FramingCloseUp, Lens: LensMacro, TimeOfDay: TimeMorning, Contrast: ContrastLow, Motif: MotifHuman},
	ActReturn:        {CameraMotion: CameraPullBack, Framing: FramingExtremeWide, Lens: LensWide, TimeOfDay: TimeDusk, Contrast: ContrastMedium, Motif: MotifLight},
}

// DefaultChoreography returns the shooting hints used for an act type when
// the planner leaves them out.
func DefaultChoreography(actType ActType) Choreography {
	if c, ok := defaultChoreography[actType]; ok {
		return c
	}
	return defaultChoreography[ActHumanScale]
}

// WithDefaults fills every blank or invalid field from DefaultChoreography.
func (c Choreography) WithDefaults(actType ActType) Choreography {
	d := DefaultChoreography(actType)
	if !c.CameraMotion.Valid() {
		c.CameraMotion = d.CameraMotion
	}
	if !c.Framing.Valid() {
		c.Framing = d.Framing
	}
	if !c.Lens.Valid() {
		c.Lens = d.Lens
	}
	if !c.TimeOfDay.Valid() {
		c.TimeOfDay = d.TimeOfDay
	}
	if !c.Contrast.Valid() {
		c.Contrast = d.Contrast
	}
	if !c.Motif.Valid() {
		c.Motif = d.Motif
	}
	return c
}
