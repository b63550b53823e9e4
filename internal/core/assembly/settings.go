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
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	workerMemoryBytes = 512 << 20
	maxWorkers        = 8
)

// Grade is a color grade made of the eq, curves and noise filters.
type Grade struct {
	Saturation float64 `toml:"saturation"`
	Contrast   float64 `toml:"contrast"`
	Brightness float64 `toml:"brightness"`
	Curves     string  `toml:"curves"`
	Grain      int     `toml:"grain"`
}

// Filter renders the grade as a video filter chain.
func (g Grade) Filter() string {
	saturation, contrast := g.Saturation, g.Contrast
	if saturation <= 0 {
		saturation = 1
	}
	if contrast <= 0 {
		contrast = 1
	}
	parts := []string{fmt.Sprintf("eq=contrast=%s:brightness=%s:saturation=%s", secs(contrast), secs(g.Brightness), secs(saturation))}
	if g.Curves != "" {
		parts = append(parts, "curves=preset="+g.Curves)
	}
	if g.Grain > 0 {
		parts = append(parts, fmt.Sprintf("noise=alls=%d:allf=t+u", g.Grain))
	}
	return strings.Join(parts, ",")
}

// Settings controls the output format and the timing of the assembly.
type Settings struct {
	Width          int
	Height         int
	FPS            int
	SampleRate     int
	VideoCodec     string
	Preset         string
	CRF            int
	AudioCodec     string
	DefaultClipSec float64

	// DurationEpsilon is how far a clip may be from its target and still be
	// kept as is.
	DurationEpsilon float64
	TransitionSec   float64
	DipSec          float64

	NarrationOffsetSec float64
	NarrationGapSec    float64
	NarrationVolume    float64

	MusicHighVolume float64
	MusicLowVolume  float64
	DuckFadeSec     float64
	FinalFadeSec    float64

	Workers    int
	ScratchDir string
	Grades     map[model.ActType]Grade
	Global     Grade
}

// DefaultGrades is the per act type look of the film.
func DefaultGrades() map[model.ActType]Grade {
	return map[model.ActType]Grade{
		model.ActCosmicOpening: {Saturation: 0.85, Contrast: 1.1, Brightness: -0.02, Curves: "darker", Grain: 4},
		model.ActPlanetary:     {Saturation: 1.05, Contrast: 1.05, Curves: "medium_contrast", Grain: 2},
		model.ActHumanScale:    {Saturation: 1.1, Contrast: 1.0, Brightness: 0.02, Grain: 3},
		model.ActIntimate:      {Saturation: 0.95, Contrast: 0.95, Brightness: 0.03, Curves: "vintage", Grain: 6},
		model.ActReturn:        {Saturation: 1.0, Contrast: 1.05, Curves: "increase_contrast", Grain: 2},
	}
}

func DefaultSettings() Settings {
	return Settings{
		Width:              1920,
		Height:             1080,
		FPS:                24,
		SampleRate:         48000,
		VideoCodec:         "libx264",
		Preset:             "veryfast",
		CRF:                20,
		AudioCodec:         "aac",
		DefaultClipSec:     model.LongBeatSec,
		DurationEpsilon:    0.05,
		TransitionSec:      0.5,
		DipSec:             0.8,
		NarrationOffsetSec: 0.5,
		NarrationGapSec:    0.4,
		NarrationVolume:    1.0,
		MusicHighVolume:    0.35,
		MusicLowVolume:     0.12,
		DuckFadeSec:        0.6,
		FinalFadeSec:       4,
		Workers:            DefaultWorkers(),
		Grades:             DefaultGrades(),
		Global:             Grade{Saturation: 1.0, Contrast: 1.05, Grain: 2},
	}
}

// WithDefaults fills every zero field from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setFloat := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	setString := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setInt(&s.Width, d.Width)
	setInt(&s.Height, d.Height)
	setInt(&s.FPS, d.FPS)
	setInt(&s.SampleRate, d.SampleRate)
	setInt(&s.CRF, d.CRF)
	setInt(&s.Workers, d.Workers)
	setString(&s.VideoCodec, d.VideoCodec)
	setString(&s.Preset, d.Preset)
	setString(&s.AudioCodec, d.AudioCodec)
	setFloat(&s.DefaultClipSec, d.DefaultClipSec)
	setFloat(&s.DurationEpsilon, d.DurationEpsilon)
	setFloat(&s.TransitionSec, d.TransitionSec)
	setFloat(&s.DipSec, d.DipSec)
	setFloat(&s.NarrationOffsetSec, d.NarrationOffsetSec)
	setFloat(&s.NarrationGapSec, d.NarrationGapSec)
	setFloat(&s.NarrationVolume, d.NarrationVolume)
	setFloat(&s.MusicHighVolume, d.MusicHighVolume)
	setFloat(&s.MusicLowVolume, d.MusicLowVolume)
	setFloat(&s.DuckFadeSec, d.DuckFadeSec)
	setFloat(&s.FinalFadeSec, d.FinalFadeSec)
	if s.Grades == nil {
		s.Grades = d.Grades
	}
	if s.Global == (Grade{}) {
		s.Global = d.Global
	}
	return s
}

// DefaultWorkers sizes the normalization pool from the logical CPU count,
// bounded by the memory currently available.
func DefaultWorkers() int {
	workers := runtime.NumCPU()
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		workers = n
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		if byMemory := int(vm.Available / workerMemoryBytes); byMemory < workers {
			workers = byMemory
		}
	} else if err != nil {
		slog.Debug("memory probe failed, sizing workers by cpu only", "error", err)
	}
	return max(1, min(workers, maxWorkers))
}

// secs formats a duration in seconds for the tool, rounded to milliseconds.
func secs(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
