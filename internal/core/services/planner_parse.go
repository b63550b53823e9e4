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

package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// ParseError reports planner output that could not be turned into the typed
// model. Raw keeps the offending text for the logs.
type ParseError struct {
	Stage string // "understanding" or "narration"
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("unparseable %s response: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("unparseable %s response at %s: %v", e.Stage, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseUnderstanding turns the understanding response into a structure.
// Unknown fields are ignored, act types are matched loosely ("Cosmic
// Opening" is cosmic_opening) and everything else that is missing is filled
// by ApplyStructureDefaults.
func ParseUnderstanding(raw string) (*model.DocumentaryStructure, error) {
	body := cloud.StripCodeFence(raw)
	if body == "" {
		return nil, &ParseError{Stage: "understanding", Raw: raw, Err: fmt.Errorf("empty response")}
	}
	out := &model.DocumentaryStructure{}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return nil, &ParseError{Stage: "understanding", Raw: raw, Err: err}
	}
	if len(out.Acts) == 0 {
		return nil, &ParseError{Stage: "understanding", Field: "acts", Raw: raw, Err: fmt.Errorf("no acts")}
	}
	for i := range out.Acts {
		act := &out.Acts[i]
		act.ActType = model.ActType(normalizeEnum(string(act.ActType)))
		if !act.ActType.Valid() {
			return nil, &ParseError{Stage: "understanding", Field: fmt.Sprintf("acts[%d].act_type", i), Raw: raw,
				Err: fmt.Errorf("unknown act type %q", act.ActType)}
		}
		c := &act.Choreography
		c.CameraMotion = model.CameraMotion(normalizeEnum(string(c.CameraMotion)))
		c.Framing = model.Framing(normalizeEnum(string(c.Framing)))
		c.Lens = model.Lens(normalizeEnum(string(c.Lens)))
		c.TimeOfDay = model.TimeOfDay(normalizeEnum(string(c.TimeOfDay)))
		c.Contrast = model.Contrast(normalizeEnum(string(c.Contrast)))
		c.Motif = model.VisualCategory(normalizeEnum(string(c.Motif)))
	}
	ApplyStructureDefaults(out)
	return out, nil
}

// narrationResponse accepts {"beats": [...]}; a bare array is handled by
// ParseNarration.
type narrationResponse struct {
	Beats []model.BeatFill `json:"beats"`
}

// ParseNarration turns the narration response into beat fills. Fills must
// reference distinct beats of t. Invalid motifs are dropped so the beat keeps
// the motif of its act.
func ParseNarration(raw string, t *model.MasterTimelineData) ([]model.BeatFill, error) {
	body := cloud.StripCodeFence(raw)
	if body == "" {
		return nil, &ParseError{Stage: "narration", Raw: raw, Err: fmt.Errorf("empty response")}
	}
	var fills []model.BeatFill
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &fills); err != nil {
			return nil, &ParseError{Stage: "narration", Raw: raw, Err: err}
		}
	} else {
		var resp narrationResponse
		dec := json.NewDecoder(bytes.NewReader([]byte(body)))
		if err := dec.Decode(&resp); err != nil {
			return nil, &ParseError{Stage: "narration", Raw: raw, Err: err}
		}
		fills = resp.Beats
	}
	if len(fills) == 0 {
		return nil, &ParseError{Stage: "narration", Field: "beats", Raw: raw, Err: fmt.Errorf("no beats")}
	}

	seen := make(map[int]bool, len(fills))
	for i := range fills {
		f := &fills[i]
		field := fmt.Sprintf("beats[%d].beat_index", i)
		if t != nil && (f.BeatIndex < 0 || f.BeatIndex >= len(t.Beats)) {
			return nil, &ParseError{Stage: "narration", Field: field, Raw: raw,
				Err: fmt.Errorf("beat %d outside a timeline of %d beats", f.BeatIndex, len(t.Beats))}
		}
		if seen[f.BeatIndex] {
			return nil, &ParseError{Stage: "narration", Field: field, Raw: raw, Err: fmt.Errorf("beat %d repeated", f.BeatIndex)}
		}
		seen[f.BeatIndex] = true
		f.Narration = strings.TrimSpace(f.Narration)
		f.RenderPrompt = strings.TrimSpace(f.RenderPrompt)
		f.Setting = strings.TrimSpace(f.Setting)
		f.Motif = model.VisualCategory(normalizeEnum(string(f.Motif)))
		if !f.Motif.Valid() {
			f.Motif = ""
		}
	}
	return fills, nil
}

// ApplyStructureDefaults is the single place where a planner structure gets
// its defaults:
//   - choreography fields missing or invalid come from the act type
//   - scale type defaults to the act type, intensity to 0.5 (clamped to 1)
//   - negative silences become zero
//   - positive act durations that do not add up to model.TotalDurationSec are
//     scaled to it; zero durations are left for QC to replace
//   - the total is always model.TotalDurationSec
func ApplyStructureDefaults(s *model.DocumentaryStructure) {
	s.Theme = strings.TrimSpace(s.Theme)
	s.Intent = strings.TrimSpace(s.Intent)
	if s.Keywords == nil {
		s.Keywords = make([]string, 0)
	}
	allPositive := len(s.Acts) > 0
	sum := 0
	for i := range s.Acts {
		act := &s.Acts[i]
		act.Choreography = act.Choreography.WithDefaults(act.ActType)
		if act.ScaleType == "" {
			act.ScaleType = string(act.ActType)
		}
		if act.Intensity <= 0 {
			act.Intensity = 0.5
		}
		act.Intensity = math.Min(act.Intensity, 1)
		act.SilenceDurationSec = math.Max(act.SilenceDurationSec, 0)
		if act.DurationSec <= 0 {
			allPositive = false
		}
		sum += act.DurationSec
	}
	if allPositive && sum != model.TotalDurationSec {
		scaled := 0
		for i := range s.Acts {
			if i == len(s.Acts)-1 {
				s.Acts[i].DurationSec = model.TotalDurationSec - scaled
				break
			}
			d := int(math.Round(float64(s.Acts[i].DurationSec) * model.TotalDurationSec / float64(sum)))
			s.Acts[i].DurationSec = max(d, 1)
			scaled += s.Acts[i].DurationSec
		}
	}
	s.TotalDurationSec = model.TotalDurationSec
}

var fallbackDurations = map[model.ActType]int{
	model.ActCosmicOpening: 22,
	model.ActPlanetary:     24,
	model.ActHumanScale:    26,
	model.ActIntimate:      28,
	model.ActReturn:        20,
}

// FallbackStructure is the deterministic structure used when the planner
// cannot produce one: the five act types in order with their default
// choreography.
func FallbackStructure(userText string) *model.DocumentaryStructure {
	theme := strings.TrimSpace(userText)
	if len(theme) > 80 {
		theme = strings.TrimSpace(theme[:80])
	}
	s := &model.DocumentaryStructure{
		Theme:    theme,
		Intent:   "a journey from the vast to the personal and back",
		Keywords: make([]string, 0),
		Acts:     make([]model.Act, 0, len(model.AllActTypes())),
	}
	for i, actType := range model.AllActTypes() {
		act := model.Act{
			ActType:      actType,
			DurationSec:  fallbackDurations[actType],
			Choreography: model.DefaultChoreography(actType),
		}
		if i == 0 {
			act.SilenceDurationSec = 4
		}
		s.Acts = append(s.Acts, act)
	}
	ApplyStructureDefaults(s)
	return s
}

func normalizeEnum(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "-", "_")
	return strings.Join(strings.Fields(v), "_")
}
