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

package qc_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	test "github.com/jaycherian/gcp-go-short-film/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *qc.Engine {
	engine, err := qc.NewEngine(qc.DefaultPolicy(), nil)
	require.NoError(t, err)
	return engine
}

func hasViolation(violations []model.QCViolation, id string) bool {
	for _, v := range violations {
		if v.CheckID == id {
			return true
		}
	}
	return false
}

func TestSamplePlanPassesWithoutFixes(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()

	out := engine.PreRender(qc.PreRenderInput{
		Structure: structure,
		Narration: narration,
		Shots:     shots,
		Timeline:  timeline,
	})

	assert.True(t, out.Passed, "hard failures: %v", out.HardFailures)
	assert.Empty(t, out.Report.FixesApplied)
	assert.Equal(t, 0, out.Report.Summary.Fixes)
	assert.True(t, out.Report.Finalized)
	assert.Equal(t, 1.0, out.Novelty)
}

func TestPreRenderFixedPoint(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()

	structure.Acts[0].SilenceDurationSec = 0
	structure.Acts[4].ActType = model.ActIntimate
	narration[0].Text = "In a world where stars burn out. Every garden begins as light"
	narration[1].Text = ""
	narration = narration[:len(narration)-1]
	shots[3].RenderPrompt = shots[1].RenderPrompt
	for i := range shots {
		if shots[i].ActIndex == 1 {
			shots[i].Motif = model.MotifOcean
		}
	}

	first := engine.PreRender(qc.PreRenderInput{
		Structure: structure,
		Narration: narration,
		Shots:     shots,
		Timeline:  timeline,
	})
	require.True(t, first.Passed, "hard failures: %v", first.HardFailures)
	assert.Greater(t, first.Report.Summary.Fixes, 0)

	// The input is left untouched.
	assert.Equal(t, "", narration[1].Text)
	assert.Equal(t, model.ActIntimate, structure.Acts[4].ActType)

	assert.Equal(t, model.ActReturn, first.Structure.Acts[4].ActType)
	assert.Equal(t, 3.0, first.Structure.Acts[0].SilenceDurationSec)
	assert.NotEqual(t, first.Shots[1].RenderPrompt, first.Shots[3].RenderPrompt)

	second := engine.PreRender(qc.PreRenderInput{
		Structure: first.Structure,
		Narration: first.Narration,
		Shots:     first.Shots,
		Timeline:  first.Timeline,
	})
	assert.True(t, second.Passed)
	assert.Empty(t, second.Report.FixesApplied)
	assert.Equal(t, first.Narration, second.Narration)
	assert.Equal(t, first.Shots, second.Shots)
}

func TestNarrationRepairs(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()

	narration[0].Text = "In a world where stars burn out. Every garden begins as light"
	narration[1].Text = ""
	narration[2].Text = "Subscribe for more. Rain came, and the soil remembered it"

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Narration: narration, Shots: shots, Timeline: timeline})

	assert.Equal(t, "Every garden begins as light.", out.Narration[0].Text)
	assert.Equal(t, engine.Catalog().Fallback(model.ActPlanetary), out.Narration[1].Text)
	assert.Equal(t, "Rain came, and the soil remembered it.", out.Narration[2].Text)
	for _, seg := range out.Narration {
		assert.True(t, qc.EndsWithTerminal(seg.Text), seg.Text)
		assert.False(t, engine.Catalog().IsBanned(seg.Text), seg.Text)
		require.NotNil(t, seg.BeatIndex)
		beat := out.Timeline.Beats[*seg.BeatIndex]
		assert.Equal(t, seg.Text, beat.Narration())
		assert.GreaterOrEqual(t, seg.StartTime, beat.StartSec)
		assert.LessOrEqual(t, seg.StartTime+seg.Duration, beat.EndSec+model.TimelineEpsilon)
	}
}

func TestOverlongSentenceUsesFallback(t *testing.T) {
	long := "From the small window of the kitchen where my grandmother kept her jars of preserved summer fruit " +
		"the light came in slow and golden every evening and settled over the table where we sat and talked until the stars came out"
	require.Greater(t, model.CountWords(long), 28)

	assert.Equal(t, "", qc.TrimToWords(long, 28))
	assert.Equal(t, "The rain came late that year, the soil was dry.",
		qc.TrimToWords("The rain came late that year, the soil was dry; we waited at the gate while the sky turned to copper and then to ash and then to nothing at all", 10))

	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()
	narration[0].Text = long

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Narration: narration, Shots: shots, Timeline: timeline})

	assert.Equal(t, engine.Catalog().Fallback(out.Structure.Acts[out.Narration[0].ActIndex].ActType), out.Narration[0].Text)
	for _, seg := range out.Narration {
		assert.LessOrEqual(t, model.CountWords(seg.Text), engine.Policy().MaxSegmentWords, seg.Text)
		assert.True(t, qc.EndsWithTerminal(seg.Text), seg.Text)
	}
}

func TestNarrationRebuiltWithoutTimeline(t *testing.T) {
	engine := newEngine(t)
	structure := test.SampleStructure()
	narration := []model.NarrationSegment{
		{Text: "Stars first. Then the dust.", ActIndex: 0},
		{Text: "Oceans formed. Continents drifted. Rain fell for a million years", ActIndex: 1},
		{Text: "A garden grew.", ActIndex: 9},
	}

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Narration: narration})

	counts := make(map[int]int)
	for _, seg := range out.Narration {
		counts[seg.ActIndex]++
		assert.True(t, qc.EndsWithTerminal(seg.Text), seg.Text)
		assert.Nil(t, seg.BeatIndex)
	}
	for i, act := range out.Structure.Acts {
		assert.Equal(t, engine.Catalog().Quota(act.ActType), counts[i], "act %d", i)
	}
	assert.Equal(t, structure.Acts[0].SilenceDurationSec, out.Narration[0].StartTime)
}

func TestSentenceHelpers(t *testing.T) {
	assert.Equal(t, []string{"It cost 3.5 dollars.", "Then it rained"}, qc.SplitSentences("It cost 3.5 dollars. Then it rained"))
	assert.Equal(t, []string{"Really?", "Yes!", "\"Fine.\""}, qc.SplitSentences("Really? Yes! \"Fine.\""))

	assert.Equal(t, "one two three.", qc.TrimToWords("one two three, four five six seven", 5))
	assert.Equal(t, "First one. Second one.", qc.TrimToWords("First one. Second one. Third sentence is long.", 5))

	assert.Equal(t, "ends here.", qc.Terminate("ends here,"))
	assert.Equal(t, "Already done!", qc.Terminate("Already done!"))

	cleaned, removed := engineCatalog(t).CleanSentences("Since the dawn of time, people planted seeds. She planted hers in spring. Visit www.example.com today.")
	assert.Equal(t, "She planted hers in spring.", cleaned)
	assert.Equal(t, 2, removed)
}

func engineCatalog(t *testing.T) *qc.Catalog {
	c, err := qc.DefaultCatalog()
	require.NoError(t, err)
	return c
}

func TestNoveltyScore(t *testing.T) {
	_, _, _, shots := test.SamplePlan()

	assert.Equal(t, 0.0, qc.NoveltyScore(nil, nil))
	assert.Equal(t, 1.0, qc.NoveltyScore(shots, nil))

	same := model.NewRunFingerprint("previous", shots)
	assert.Equal(t, 0.0, qc.NoveltyScore(shots, []*model.RunFingerprint{same}))

	half := model.NewRunFingerprint("partial", shots[:len(shots)/2])
	score := qc.NoveltyScore(shots, []*model.RunFingerprint{nil, half})
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

func TestRepeatedPlanFailsNovelty(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()
	history := []*model.RunFingerprint{model.NewRunFingerprint("previous", shots)}

	out := engine.PreRender(qc.PreRenderInput{
		Structure: structure, Narration: narration, Shots: shots, Timeline: timeline, History: history,
	})

	assert.False(t, out.Passed)
	assert.True(t, hasViolation(out.HardFailures, "novelty.score"))
	assert.Equal(t, 0.0, out.Novelty)
}

func TestDiversityHardFailures(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()
	for i := range shots {
		shots[i].Setting = "Forest "
	}

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Narration: narration, Shots: shots, Timeline: timeline})

	assert.False(t, out.Passed)
	assert.True(t, hasViolation(out.HardFailures, "diversity.setting_run"))
	assert.False(t, hasViolation(out.HardFailures, "diversity.act_run"))
	assert.Equal(t, out.Report.Summary.Hard, len(out.HardFailures))
}

func TestTimelineHardFailures(t *testing.T) {
	engine := newEngine(t)
	structure, timeline, narration, shots := test.SamplePlan()
	timeline.Beats[4].Lighting.TimeOfDay = model.TimeNight
	for i := range timeline.Beats {
		timeline.Beats[i].BeatType = model.BeatNarrated
	}

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Narration: narration, Shots: shots, Timeline: timeline})

	assert.False(t, out.Passed)
	assert.True(t, hasViolation(out.HardFailures, "timeline.valid"))
	assert.True(t, hasViolation(out.HardFailures, "timeline.breathing"))
	assert.True(t, hasViolation(out.HardFailures, "timeline.act_uniformity"))
}

func TestShotRepairs(t *testing.T) {
	engine := newEngine(t)
	structure := test.SampleStructure()
	shots := []model.ShotPlanEntry{
		{BeatIndex: 0, ActIndex: 0, DurationSec: 7, Setting: "stars", Motif: model.MotifCosmos, RenderPrompt: "a starfield", Source: model.SourceGenerated},
		{BeatIndex: 1, ActIndex: 1, DurationSec: 8, Setting: "hills", Motif: model.MotifEarth, RenderPrompt: "A  Starfield", Source: "AI"},
		{BeatIndex: 2, ActIndex: 2, DurationSec: 5, Setting: "street", Motif: model.MotifNature, RenderPrompt: "", Source: model.SourceStock},
		{BeatIndex: 3, ActIndex: 3, DurationSec: 6, Setting: "kitchen", Motif: model.MotifHuman, RenderPrompt: "hands", Source: model.SourceGenerated},
	}
	avoid := &model.AvoidList{Prompts: []string{"hands"}}

	out := engine.PreRender(qc.PreRenderInput{Structure: structure, Shots: shots, Avoid: avoid})

	require.Len(t, out.Shots, 5)
	assert.Equal(t, model.LongBeatSec, out.Shots[0].DurationSec)
	assert.Equal(t, model.ShortBeatSec, out.Shots[2].DurationSec)
	assert.Equal(t, model.SourceGenerated, out.Shots[1].Source)

	// The act without its motif is taken over by the safe prompt.
	assert.Equal(t, model.MotifCity, out.Shots[2].Motif)
	assert.Equal(t, engine.Catalog().SafePrompt(model.ActHumanScale), out.Shots[2].RenderPrompt)

	// The act without shots gets one injected.
	assert.Equal(t, 4, out.Shots[4].ActIndex)
	assert.Equal(t, model.MotifLight, out.Shots[4].Motif)
	assert.Equal(t, 4, out.Shots[4].BeatIndex)

	assert.NotEqual(t, "A  Starfield", out.Shots[1].RenderPrompt)
	assert.Contains(t, out.Shots[1].RenderPrompt, "A  Starfield, ")
	assert.NotEqual(t, "hands", out.Shots[3].RenderPrompt)

	seen := make(map[string]bool)
	for _, s := range out.Shots {
		assert.False(t, seen[s.RenderPrompt], s.RenderPrompt)
		seen[s.RenderPrompt] = true
	}
}

func TestPostRender(t *testing.T) {
	engine := newEngine(t)
	_, timeline, narration, _ := test.SamplePlan()
	scenes := []*model.SceneRecord{
		{BeatIndex: 0, DurationSec: 8, Status: model.RenderReady, Url: "gs://bucket/clip-0.mp4"},
		{BeatIndex: 1, DurationSec: 8, Status: model.RenderReady},
		{BeatIndex: 2, DurationSec: 8, Status: model.RenderFailed},
	}
	placements := make([]qc.PlacedNarration, 0, len(narration))
	for i, seg := range narration {
		placements = append(placements, qc.PlacedNarration{Segment: i, ActIndex: seg.ActIndex, StartSec: seg.StartTime, DurationSec: seg.Duration})
	}

	report := engine.PostRender(qc.PostRenderInput{
		Scenes: scenes,
		Clips: []qc.RenderedClip{
			{BeatIndex: 0, SourceSec: 8.02, TargetSec: 8},
			{BeatIndex: 1, SourceSec: 0, TargetSec: 8},
			{BeatIndex: 3, SourceSec: 5.6, TargetSec: 8},
		},
		Placements:       placements,
		Timeline:         timeline,
		PlannedTotalSec:  120,
		RenderedTotalSec: 118.5,
	})

	assert.True(t, report.Finalized)
	assert.Empty(t, report.FixesApplied)
	failed := make(map[string]string)
	for _, c := range report.Checks {
		if !c.Passed {
			failed[c.ID] = c.Message
		}
	}
	assert.Contains(t, failed, "render.scene_url")
	assert.Contains(t, failed["render.scene_duration"], "beat 1")
	assert.NotContains(t, failed["render.scene_duration"], "beat 0")
	assert.Contains(t, failed["render.scene_drift"], "beat 3")
	assert.NotContains(t, failed, "render.total_duration")
	assert.NotContains(t, failed, "render.narration_window")

	late := engine.PostRender(qc.PostRenderInput{
		Timeline:         timeline,
		RenderedTotalSec: 100,
		Windows:          []qc.ActWindow{{ActIndex: 0, StartSec: 10, EndSec: 20}},
		Placements: []qc.PlacedNarration{
			{Segment: 0, ActIndex: 0, StartSec: 2, DurationSec: 3},
			{Segment: 1, ActIndex: 0, StartSec: 12, DurationSec: 3},
		},
	})
	assert.Equal(t, 2, late.Summary.Failed)
	assert.Equal(t, 0, late.Summary.Hard)
	for _, c := range late.Checks {
		if c.ID == "render.narration_window" {
			assert.Contains(t, c.Message, "segment 0")
			assert.NotContains(t, c.Message, "segment 1")
		}
	}
}

func TestCatalogOverride(t *testing.T) {
	c, err := qc.ParseCatalog([]byte("banned_phrases: [\"garden\"]\nbanned_patterns: ['\\bweeds?\\b']\n"))
	require.NoError(t, err)

	assert.True(t, c.IsBanned("The GARDEN grows"))
	assert.True(t, c.IsBanned("pulling weeds"))
	assert.False(t, c.IsBanned("the orchard"))
	assert.Equal(t, "The light moves on.", c.Fallback(model.ActIntimate))
	assert.NotEmpty(t, c.TimeOfDayVariations)

	_, err = qc.ParseCatalog([]byte("banned_patterns: ['(']\n"))
	assert.Error(t, err)

	_, err = qc.LoadCatalog("does-not-exist.yaml")
	assert.Error(t, err)

	embedded, err := qc.LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, model.MotifCosmos, embedded.RequiredMotif(model.ActCosmicOpening))
}
