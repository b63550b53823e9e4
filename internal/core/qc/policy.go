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

package qc

// Policy holds the thresholds of every check.
type Policy struct {
	MinOpeningSilenceSec      float64
	MaxSegmentWords           int
	NoveltyThreshold          float64
	MaxConsecutiveSameAct     int
	MaxConsecutiveSameSetting int
	MinDistinctMotifs         int
	MinAvgBeatSec             float64
	MaxConsecutiveShortBeats  int
	DurationToleranceSec      float64
	NarrationGapSec           float64
}

// DefaultPolicy returns the thresholds used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinOpeningSilenceSec:      3,
		MaxSegmentWords:           28,
		NoveltyThreshold:          0.3,
		MaxConsecutiveSameAct:     5,
		MaxConsecutiveSameSetting: 3,
		MinDistinctMotifs:         4,
		MinAvgBeatSec:             6.5,
		MaxConsecutiveShortBeats:  2,
		DurationToleranceSec:      2,
		NarrationGapSec:           0.5,
	}
}

// WithDefaults replaces zero thresholds with the default ones.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.MinOpeningSilenceSec <= 0 {
		p.MinOpeningSilenceSec = d.MinOpeningSilenceSec
	}
	if p.MaxSegmentWords <= 0 {
		p.MaxSegmentWords = d.MaxSegmentWords
	}
	if p.NoveltyThreshold <= 0 {
		p.NoveltyThreshold = d.NoveltyThreshold
	}
	if p.MaxConsecutiveSameAct <= 0 {
		p.MaxConsecutiveSameAct = d.MaxConsecutiveSameAct
	}
	if p.MaxConsecutiveSameSetting <= 0 {
		p.MaxConsecutiveSameSetting = d.MaxConsecutiveSameSetting
	}
	if p.MinDistinctMotifs <= 0 {
		p.MinDistinctMotifs = d.MinDistinctMotifs
	}
	if p.MinAvgBeatSec <= 0 {
		p.MinAvgBeatSec = d.MinAvgBeatSec
	}
	if p.MaxConsecutiveShortBeats <= 0 {
		p.MaxConsecutiveShortBeats = d.MaxConsecutiveShortBeats
	}
	if p.DurationToleranceSec <= 0 {
		p.DurationToleranceSec = d.DurationToleranceSec
	}
	if p.NarrationGapSec <= 0 {
		p.NarrationGapSec = d.NarrationGapSec
	}
	return p
}
