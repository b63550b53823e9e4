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

// Package model defines the data structures shared by every stage of a film
// run. This file holds the closed enumerations. Producers (the planner parser,
// the skeleton builder) and consumers (the validator, QC, assembly) all refer
// to these types so a new value only has to be added in one place.
package model

// BeatType classifies what a beat does on screen.
type BeatType string

const (
	BeatNarrated   BeatType = "narrated"
	BeatBreathing  BeatType = "breathing"
	BeatTransition BeatType = "transition"
)

// AllBeatTypes lists every BeatType.
func AllBeatTypes() []BeatType {
	return []BeatType{BeatNarrated, BeatBreathing, BeatTransition}
}

func (b BeatType) Valid() bool {
	return contains(AllBeatTypes(), b)
}

// TransitionType is how a beat hands over to the next one.
type TransitionType string

const (
	TransitionCut      TransitionType = "cut"
	TransitionDissolve TransitionType = "dissolve"
	TransitionMatchCut TransitionType = "match_cut"
)

func AllTransitionTypes() []TransitionType {
	return []TransitionType{TransitionCut, TransitionDissolve, TransitionMatchCut}
}

func (t TransitionType) Valid() bool {
	return contains(AllTransitionTypes(), t)
}

// ActType names a narrative section. The film always moves from the largest
// scale down to the most personal one and closes on ActReturn.
type ActType string

const (
	ActCosmicOpening ActType = "cosmic_opening"
	ActPlanetary     ActType = "planetary"
	ActHumanScale    ActType = "human_scale"
	ActIntimate      ActType = "intimate"
	ActReturn        ActType = "return"
)

func AllActTypes() []ActType {
	return []ActType{ActCosmicOpening, ActPlanetary, ActHumanScale, ActIntimate, ActReturn}
}

func (a ActType) Valid() bool {
	return contains(AllActTypes(), a)
}

// VisualCategory is the visual motif of a beat or shot.
type VisualCategory string

const (
	MotifCosmos VisualCategory = "cosmos"
	MotifEarth  VisualCategory = "earth"
	MotifOcean  VisualCategory = "ocean"
	MotifCity   VisualCategory = "city"
	MotifHuman  VisualCategory = "human"
	MotifMemory VisualCategory = "memory"
	MotifLight  VisualCategory = "light"
	MotifNature VisualCategory = "nature"
)

func AllVisualCategories() []VisualCategory {
	return []VisualCategory{MotifCosmos, MotifEarth, MotifOcean, MotifCity, MotifHuman, MotifMemory, MotifLight, MotifNature}
}

func (v VisualCategory) Valid() bool {
	return contains(AllVisualCategories(), v)
}

type CameraMotion string

const (
	CameraStatic   CameraMotion = "static"
	CameraSlowPush CameraMotion = "slow_push"
	CameraPullBack CameraMotion = "pull_back"
	CameraDrift    CameraMotion = "drift"
	CameraOrbit    CameraMotion = "orbit"
	CameraHandheld CameraMotion = "handheld"
)

func AllCameraMotions() []CameraMotion {
	return []CameraMotion{CameraStatic, CameraSlowPush, CameraPullBack, CameraDrift, CameraOrbit, CameraHandheld}
}

func (c CameraMotion) Valid() bool {
	return contains(AllCameraMotions(), c)
}

type Framing string

const (
	FramingExtremeWide Framing = "extreme_wide"
	FramingWide        Framing = "wide"
	FramingMedium      Framing = "medium"
	FramingCloseUp     Framing = "close_up"
	FramingMacro       Framing = "macro"
)

func AllFramings() []Framing {
	return []Framing{FramingExtremeWide, FramingWide, FramingMedium, FramingCloseUp, FramingMacro}
}

func (f Framing) Valid() bool {
	return contains(AllFramings(), f)
}

type Lens string

const (
	LensWide     Lens = "wide"
	LensStandard Lens = "standard"
	LensTele     Lens = "telephoto"
	LensMacro    Lens = "macro"
)

func AllLenses() []Lens {
	return []Lens{LensWide, LensStandard, LensTele, LensMacro}
}

func (l Lens) Valid() bool {
	return contains(AllLenses(), l)
}

type TimeOfDay string

const (
	TimeDawn       TimeOfDay = "dawn"
	TimeMorning    TimeOfDay = "morning"
	TimeNoon       TimeOfDay = "noon"
	TimeGoldenHour TimeOfDay = "golden_hour"
	TimeDusk       TimeOfDay = "dusk"
	TimeNight      TimeOfDay = "night"
)

func AllTimesOfDay() []TimeOfDay {
	return []TimeOfDay{TimeDawn, TimeMorning, TimeNoon, TimeGoldenHour, TimeDusk, TimeNight}
}

func (t TimeOfDay) Valid() bool {
	return contains(AllTimesOfDay(), t)
}

type Contrast string

const (
	ContrastLow    Contrast = "low"
	ContrastMedium Contrast = "medium"
	ContrastHigh   Contrast = "high"
)

func AllContrasts() []Contrast {
	return []Contrast{ContrastLow, ContrastMedium, ContrastHigh}
}

func (c Contrast) Valid() bool {
	return contains(AllContrasts(), c)
}

// ShotSource says where the footage for a shot comes from.
type ShotSource string

const (
	SourceGenerated ShotSource = "GEN"
	SourceStock     ShotSource = "STOCK"
	SourceHold      ShotSource = "HOLD"
)

func AllShotSources() []ShotSource {
	return []ShotSource{SourceGenerated, SourceStock, SourceHold}
}

func (s ShotSource) Valid() bool {
	return contains(AllShotSources(), s)
}

// RenderStatus is the internal status of a per-beat render job. Remote
// services report richer states that are mapped onto these four.
type RenderStatus string

const (
	RenderPending    RenderStatus = "pending"
	RenderProcessing RenderStatus = "processing"
	RenderReady      RenderStatus = "ready"
	RenderFailed     RenderStatus = "failed"
)

func (r RenderStatus) Terminal() bool {
	return r == RenderReady || r == RenderFailed
}

// Stage is a state of the run state machine.
type Stage string

const (
	StagePending       Stage = "pending"
	StageUnderstanding Stage = "understanding"
	StageBlueprint     Stage = "blueprint"
	StageGenerating    Stage = "generating"
	StageAssembling    Stage = "assembling"
	StageReady         Stage = "ready"
	StageFailed        Stage = "failed"
)

var stageNumbers = map[Stage]int{
	StagePending:       0,
	StageUnderstanding: 1,
	StageBlueprint:     2,
	StageGenerating:    3,
	StageAssembling:    4,
	StageReady:         5,
	StageFailed:        6,
}

// AllStages lists the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{StagePending, StageUnderstanding, StageBlueprint, StageGenerating, StageAssembling, StageReady, StageFailed}
}

func (s Stage) Valid() bool {
	_, ok := stageNumbers[s]
	return ok
}

// Number is the stable numeric id reported as the failing stage.
func (s Stage) Number() int {
	if n, ok := stageNumbers[s]; ok {
		return n
	}
	return -1
}

// Next returns the stage that follows s in the happy path.
func (s Stage) Next() Stage {
	switch s {
	case StagePending:
		return StageUnderstanding
	case StageUnderstanding:
		return StageBlueprint
	case StageBlueprint:
		return StageGenerating
	case StageGenerating:
		return StageAssembling
	case StageAssembling:
		return StageReady
	}
	return s
}

// InProgress is true for the stages a worker owns while it runs.
func (s Stage) InProgress() bool {
	switch s {
	case StageUnderstanding, StageBlueprint, StageGenerating, StageAssembling:
		return true
	}
	return false
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
