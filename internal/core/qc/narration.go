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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/timeline"
)

const (
	checkNarrationActIndex    = "narration.act_index"
	checkNarrationBanned      = "narration.banned"
	checkNarrationEmpty       = "narration.empty"
	checkNarrationLength      = "narration.length"
	checkNarrationPunctuation = "narration.punctuation"
	checkNarrationAlignment   = "narration.alignment"
)

// CleanSentences removes every sentence that contains banned content. It
// returns the surviving text and how many sentences were dropped.
func (c *Catalog) CleanSentences(text string) (string, int) {
	kept := make([]string, 0)
	removed := 0
	for _, s := range SplitSentences(text) {
		if c.IsBanned(s) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " "), removed
}

func (e *Engine) repairNarration(out *PreRenderResult) {
	t := newTally(out.Report, CategoryNarration)
	acts := len(out.Structure.Acts)

	for i := range out.Narration {
		seg := &out.Narration[i]
		if clamped := clampAct(seg.ActIndex, acts); clamped != seg.ActIndex {
			t.fix(checkNarrationActIndex, fmt.Sprintf("segment %d references act %d", i, seg.ActIndex), strconv.Itoa(seg.ActIndex), strconv.Itoa(clamped))
			seg.ActIndex = clamped
		}
		seg.Text = e.cleanText(t, i, seg.Text, actTypeAt(out.Structure, seg.ActIndex))
	}

	quotas := e.quotas(out.Structure, out.Timeline)
	if !aligned(out.Narration, quotas) {
		before := describeCounts(out.Narration, acts)
		out.Narration = e.rebuild(out.Narration, out.Structure, quotas)
		t.fix(checkNarrationAlignment, "segments reallocated across acts", before, describeCounts(out.Narration, acts))
	}

	sort.SliceStable(out.Narration, func(a, b int) bool {
		return out.Narration[a].ActIndex < out.Narration[b].ActIndex
	})
	e.deriveTiming(out)

	t.done(checkNarrationActIndex, checkNarrationBanned, checkNarrationEmpty, checkNarrationLength, checkNarrationPunctuation, checkNarrationAlignment)
}

// cleanText applies the sentence level repairs to one segment.
func (e *Engine) cleanText(t *tally, index int, text string, actType model.ActType) string {
	original := strings.TrimSpace(text)
	if original == "" {
		fallback := e.catalog.Fallback(actType)
		t.fix(checkNarrationEmpty, fmt.Sprintf("segment %d is empty", index), "", fallback)
		return fallback
	}

	cleaned, removed := e.catalog.CleanSentences(original)
	if removed > 0 {
		if cleaned == "" {
			cleaned = e.catalog.Fallback(actType)
		}
		t.fix(checkNarrationBanned, fmt.Sprintf("segment %d: removed %d sentence(s) with banned content", index, removed), original, cleaned)
	}

	if n := model.CountWords(cleaned); n > e.policy.MaxSegmentWords {
		trimmed := TrimToWords(cleaned, e.policy.MaxSegmentWords)
		if trimmed == "" {
			trimmed = e.catalog.Fallback(actType)
		}
		t.fix(checkNarrationLength, fmt.Sprintf("segment %d has %d words", index, n), cleaned, trimmed)
		cleaned = trimmed
	}

	if !EndsWithTerminal(cleaned) {
		terminated := Terminate(cleaned)
		t.fix(checkNarrationPunctuation, fmt.Sprintf("segment %d ends mid-clause", index), cleaned, terminated)
		cleaned = terminated
	}
	return cleaned
}

// quotas is the number of segments each act must own: its narrated beats
// when a timeline exists, otherwise the catalog quota of its type.
func (e *Engine) quotas(structure *model.DocumentaryStructure, t *model.MasterTimelineData) []int {
	out := make([]int, len(structure.Acts))
	if t != nil {
		for _, b := range t.Beats {
			if b.BeatType == model.BeatNarrated && b.ActIndex >= 0 && b.ActIndex < len(out) {
				out[b.ActIndex]++
			}
		}
		return out
	}
	for i, act := range structure.Acts {
		out[i] = e.catalog.Quota(act.ActType)
	}
	return out
}

func aligned(segments []model.NarrationSegment, quotas []int) bool {
	counts := make([]int, len(quotas))
	for _, s := range segments {
		if s.ActIndex < 0 || s.ActIndex >= len(counts) {
			return false
		}
		counts[s.ActIndex]++
	}
	for i := range quotas {
		if counts[i] != quotas[i] {
			return false
		}
	}
	return true
}

// rebuild pools the sentences of every act and spreads them over exactly
// quota segments. Acts without enough sentences get the fallback line.
func (e *Engine) rebuild(segments []model.NarrationSegment, structure *model.DocumentaryStructure, quotas []int) []model.NarrationSegment {
	pool := make([][]string, len(quotas))
	for _, s := range segments {
		a := clampAct(s.ActIndex, len(quotas))
		if a < len(pool) {
			pool[a] = append(pool[a], SplitSentences(s.Text)...)
		}
	}

	out := make([]model.NarrationSegment, 0)
	for a, q := range quotas {
		actType := actTypeAt(structure, a)
		for _, chunk := range chunkSentences(pool[a], q) {
			text := strings.Join(chunk, " ")
			if text == "" {
				text = e.catalog.Fallback(actType)
			}
			if model.CountWords(text) > e.policy.MaxSegmentWords {
				text = TrimToWords(text, e.policy.MaxSegmentWords)
				if text == "" {
					text = e.catalog.Fallback(actType)
				}
			}
			out = append(out, model.NarrationSegment{Text: Terminate(text), ActIndex: a})
		}
	}
	return out
}

// chunkSentences splits sentences into n contiguous groups of nearly equal
// size. Groups past the number of sentences are empty.
func chunkSentences(sentences []string, n int) [][]string {
	out := make([][]string, n)
	if n == 0 {
		return out
	}
	size := len(sentences) / n
	extra := len(sentences) % n
	pos := 0
	for i := 0; i < n; i++ {
		take := size
		if i < extra {
			take++
		}
		out[i] = sentences[pos : pos+take]
		pos += take
	}
	return out
}

// deriveTiming recomputes the derived segment fields. It records no fixes
// because every value follows from the text and the plan.
func (e *Engine) deriveTiming(out *PreRenderResult) {
	if out.Timeline != nil {
		narrated := make([][]int, len(out.Structure.Acts))
		for i, b := range out.Timeline.Beats {
			if b.BeatType == model.BeatNarrated && b.ActIndex >= 0 && b.ActIndex < len(narrated) {
				narrated[b.ActIndex] = append(narrated[b.ActIndex], i)
			}
		}
		used := make([]int, len(narrated))
		for i := range out.Narration {
			seg := &out.Narration[i]
			a := seg.ActIndex
			seg.WordCount = model.CountWords(seg.Text)
			if a >= len(narrated) || used[a] >= len(narrated[a]) {
				seg.BeatIndex = nil
				continue
			}
			beat := &out.Timeline.Beats[narrated[a][used[a]]]
			used[a]++
			idx := beat.BeatIndex
			seg.BeatIndex = &idx
			text := seg.Text
			beat.NarrationText = &text
			seg.StartTime = beat.StartSec + timeline.NarrationLeadSec
			seg.Duration = math.Min(model.EstimateDuration(seg.Text), beat.EndSec-seg.StartTime)
			seg.PauseAfter = math.Max(0, beat.EndSec-(seg.StartTime+seg.Duration))
		}
		return
	}

	actStart := make([]float64, len(out.Structure.Acts))
	offset := 0.0
	for i, act := range out.Structure.Acts {
		actStart[i] = offset
		offset += float64(act.DurationSec)
	}
	cursor := make([]float64, len(actStart))
	for i := range cursor {
		cursor[i] = actStart[i] + out.Structure.Acts[i].SilenceDurationSec
	}
	for i := range out.Narration {
		seg := &out.Narration[i]
		a := clampAct(seg.ActIndex, len(cursor))
		seg.WordCount = model.CountWords(seg.Text)
		seg.BeatIndex = nil
		if a >= len(cursor) {
			continue
		}
		seg.StartTime = cursor[a]
		seg.Duration = model.EstimateDuration(seg.Text)
		seg.PauseAfter = e.policy.NarrationGapSec
		cursor[a] = seg.StartTime + seg.Duration + seg.PauseAfter
	}
}

func describeCounts(segments []model.NarrationSegment, acts int) string {
	counts := make([]int, max(acts, 1))
	for _, s := range segments {
		counts[clampAct(s.ActIndex, len(counts))]++
	}
	return fmt.Sprint(counts)
}
