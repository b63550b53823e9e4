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

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the hand-authored content the checks repair with.
type Catalog struct {
	BannedPhrases       []string                               `yaml:"banned_phrases"`
	BannedPatterns      []string                               `yaml:"banned_patterns"`
	FallbackNarration   map[model.ActType]string               `yaml:"fallback_narration"`
	SafePrompts         map[model.ActType]string               `yaml:"safe_prompts"`
	RequiredMotifs      map[model.ActType]model.VisualCategory `yaml:"required_motifs"`
	DefaultDurations    map[model.ActType]int                  `yaml:"default_durations"`
	NarrationQuotas     map[model.ActType]int                  `yaml:"narration_quotas"`
	TimeOfDayVariations []string                               `yaml:"time_of_day_variations"`
	SettingVariations   []string                               `yaml:"setting_variations"`

	patterns []*regexp.Regexp
}

// DefaultCatalog parses the catalog embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from disk. An empty path returns the embedded
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and compiles a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) compile() error {
	c.patterns = make([]*regexp.Regexp, 0, len(c.BannedPatterns))
	for _, p := range c.BannedPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("invalid banned pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	if len(c.TimeOfDayVariations) == 0 {
		c.TimeOfDayVariations = []string{"at dawn", "at dusk"}
	}
	if len(c.SettingVariations) == 0 {
		c.SettingVariations = []string{"seen from a distance", "from a low angle"}
	}
	return nil
}

// IsBanned reports whether text contains a banned phrase or matches a banned
// pattern, ignoring case.
func (c *Catalog) IsBanned(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range c.BannedPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Fallback returns the hand-authored narration line for an act type.
func (c *Catalog) Fallback(actType model.ActType) string {
	if line, ok := c.FallbackNarration[actType]; ok && line != "" {
		return line
	}
	return "The light moves on."
}

// SafePrompt returns the render prompt used when a generated prompt is
// rejected or missing.
func (c *Catalog) SafePrompt(actType model.ActType) string {
	if p, ok := c.SafePrompts[actType]; ok && p != "" {
		return p
	}
	return "slow cinematic drift across a quiet landscape, soft natural light"
}

// RequiredMotif returns the motif every act of the given type must show.
func (c *Catalog) RequiredMotif(actType model.ActType) model.VisualCategory {
	if m, ok := c.RequiredMotifs[actType]; ok && m.Valid() {
		return m
	}
	return model.DefaultChoreography(actType).Motif
}

func (c *Catalog) DefaultDuration(actType model.ActType) int {
	if d, ok := c.DefaultDurations[actType]; ok && d > 0 {
		return d
	}
	return model.TotalDurationSec / len(model.AllActTypes())
}

func (c *Catalog) Quota(actType model.ActType) int {
	if q, ok := c.NarrationQuotas[actType]; ok && q >= 0 {
		return q
	}
	return 1
}
