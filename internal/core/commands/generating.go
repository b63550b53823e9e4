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

package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/qc"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// GeneratingOptions bounds the render stage.
type GeneratingOptions struct {
	Concurrency       int           // parallel submissions
	PollInterval      time.Duration // wait between polling rounds
	Timeout           time.Duration // wall clock budget for all scenes
	MaxPollIterations int           // polling rounds before giving up, 0 for no limit
}

func (o GeneratingOptions) withDefaults() GeneratingOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	return o
}

// Generating renders one clip per scene.
//
// Logic Flow:
//  1. Scenes are grouped by prompt so an identical prompt is submitted once;
//     the RenderCache also carries the jobs of an earlier, interrupted
//     attempt.
//  2. Pending scenes are claimed and submitted in parallel, bounded by
//     Concurrency. A scene that is already processing with a job is only
//     polled.
//  3. All open jobs are polled every PollInterval until every scene is
//     ready or failed, the Timeout passes or MaxPollIterations runs out.
//  4. A safety rejection, at submission or while rendering, is retried once
//     with the act's safe prompt. Other failures drop the scene.
//  5. The stage fails with model.ErrRenderTimeout when scenes are still open
//     and with model.ErrNoScenesRendered when none is ready. Otherwise the
//     ready subset moves on to assembly.
type Generating struct {
	StageCommand
	render  services.RenderService
	catalog *qc.Catalog
	options GeneratingOptions
}

func NewGenerating(name string, store services.RunStore, render services.RenderService, catalog *qc.Catalog, options GeneratingOptions) *Generating {
	return &Generating{
		StageCommand: NewStageCommand(name, model.StageGenerating, store),
		render:       render,
		catalog:      catalog,
		options:      options.withDefaults(),
	}
}

// sceneGroup is the set of scenes sharing one prompt.
type sceneGroup struct {
	prompt string
	scenes []*model.SceneRecord
}

func (c *Generating) Execute(context cor.Context) {
	run := RunFrom(context)
	ctx := context.GetContext()

	scenes, err := c.Store.ListScenes(ctx, run.Id)
	if err != nil {
		c.fail(context, "failed to list scenes", err)
		return
	}
	if len(scenes) == 0 {
		c.fail(context, fmt.Sprintf("run %s", run.Id), model.ErrNoScenesRendered)
		return
	}

	actTypes := make(map[int]model.ActType, len(run.ShotPlan))
	for _, shot := range run.ShotPlan {
		actTypes[shot.BeatIndex] = shot.ActType
	}

	cache := services.NewRenderCache()
	cache.Seed(scenes)

	deadline := time.Now().Add(c.options.Timeout)
	if err := c.submitAll(ctx, scenes, cache, actTypes); err != nil {
		c.fail(context, "failed to submit scenes", err)
		return
	}
	if err := c.pollAll(ctx, scenes, cache, actTypes, deadline); err != nil {
		c.fail(context, "render interrupted", err)
		return
	}

	ready, failed, open := 0, 0, 0
	for _, s := range scenes {
		switch s.Status {
		case model.RenderReady:
			ready++
		case model.RenderFailed:
			failed++
		default:
			open++
		}
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("scenes.ready", ready),
		attribute.Int("scenes.failed", failed),
		attribute.Int("scenes.open", open),
	)
	slog.Info("render finished", "run_id", run.Id, "ready", ready, "failed", failed, "open", open)

	if open > 0 {
		c.fail(context, fmt.Sprintf("%d of %d scenes", open, len(scenes)), model.ErrRenderTimeout)
		return
	}
	if ready == 0 {
		c.fail(context, fmt.Sprintf("%d scenes failed", failed), model.ErrNoScenesRendered)
		return
	}
	c.advance(context, run)
}

// submitAll claims and submits every scene that has no job yet.
func (c *Generating) submitAll(ctx goctx.Context, scenes []*model.SceneRecord, cache *services.RenderCache, actTypes map[int]model.ActType) error {
	groups := make([]*sceneGroup, 0)
	byPrompt := make(map[string]*sceneGroup)
	for _, s := range scenes {
		needsJob := s.Status == model.RenderPending || (s.Status == model.RenderProcessing && s.JobId == "")
		if !needsJob {
			continue
		}
		g, ok := byPrompt[s.Prompt]
		if !ok {
			g = &sceneGroup{prompt: s.Prompt}
			byPrompt[s.Prompt] = g
			groups = append(groups, g)
		}
		g.scenes = append(g.scenes, s)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.options.Concurrency)
	for _, g := range groups {
		eg.Go(func() error {
			return c.submitGroup(egCtx, g, cache, actTypes)
		})
	}
	return eg.Wait()
}

func (c *Generating) submitGroup(ctx goctx.Context, g *sceneGroup, cache *services.RenderCache, actTypes map[int]model.ActType) error {
	claimed := make([]*model.SceneRecord, 0, len(g.scenes))
	for _, s := range g.scenes {
		if s.Status == model.RenderPending {
			fresh, err := c.Store.ClaimScene(ctx, s.RunId, s.BeatIndex)
			if errors.Is(err, model.ErrRunNotClaimable) {
				continue
			}
			if err != nil {
				return err
			}
			*s = *fresh
		}
		claimed = append(claimed, s)
	}
	if len(claimed) == 0 {
		return nil
	}

	jobId, ok := cache.Get(g.prompt)
	var submitErr error
	if !ok {
		jobId, submitErr = c.render.Submit(ctx, g.prompt, claimed[0].DurationSec)
		if submitErr == nil {
			cache.Put(g.prompt, jobId)
		}
	}

	for _, s := range claimed {
		s.Attempts++
		if submitErr != nil {
			c.rejected(ctx, s, submitErr, cache, actTypes)
		} else {
			s.JobId = jobId
			s.Status = model.RenderProcessing
		}
		if err := c.Store.SaveScene(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// rejected handles a failed submission or job. A first safety rejection is
// resubmitted with the safe prompt of the scene's act.
func (c *Generating) rejected(ctx goctx.Context, s *model.SceneRecord, cause error, cache *services.RenderCache, actTypes map[int]model.ActType) {
	var jobErr *model.ExternalJobError
	safety := errors.As(cause, &jobErr) && jobErr.Safety
	if !safety || s.SafetyRetried || c.catalog == nil {
		s.Status = model.RenderFailed
		s.Error = cause.Error()
		slog.Warn("scene dropped", "run_id", s.RunId, "beat", s.BeatIndex, "error", cause)
		return
	}

	s.SafetyRetried = true
	s.Prompt = c.catalog.SafePrompt(actTypes[s.BeatIndex])
	s.Attempts++
	slog.Info("retrying scene with safe prompt", "run_id", s.RunId, "beat", s.BeatIndex, "cause", cause)

	jobId, ok := cache.Get(s.Prompt)
	if !ok {
		var err error
		jobId, err = c.render.Submit(ctx, s.Prompt, s.DurationSec)
		if err != nil {
			s.Status = model.RenderFailed
			s.Error = err.Error()
			slog.Warn("scene dropped after safe retry", "run_id", s.RunId, "beat", s.BeatIndex, "error", err)
			return
		}
		cache.Put(s.Prompt, jobId)
	}
	s.JobId = jobId
	s.Status = model.RenderProcessing
	s.Error = ""
}

// pollAll polls the open jobs until they settle, the deadline passes or the
// iterations run out. Only cancellation is returned as an error.
func (c *Generating) pollAll(ctx goctx.Context, scenes []*model.SceneRecord, cache *services.RenderCache, actTypes map[int]model.ActType, deadline time.Time) error {
	for iteration := 1; ; iteration++ {
		open := make(map[string][]*model.SceneRecord)
		for _, s := range scenes {
			if s.Status == model.RenderProcessing && s.JobId != "" {
				open[s.JobId] = append(open[s.JobId], s)
			}
		}
		if len(open) == 0 {
			return nil
		}

		results := c.pollJobs(ctx, open)
		for jobId, res := range results {
			for _, s := range open[jobId] {
				if !c.apply(ctx, s, res, cache, actTypes) {
					continue
				}
				if err := c.Store.SaveScene(ctx, s); err != nil {
					return err
				}
			}
		}

		if c.options.MaxPollIterations > 0 && iteration >= c.options.MaxPollIterations {
			slog.Warn("render polling stopped after max iterations", "iterations", iteration)
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := min(c.options.PollInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// pollJobs polls every job once, in parallel.
func (c *Generating) pollJobs(ctx goctx.Context, open map[string][]*model.SceneRecord) map[string]model.RenderResult {
	var mu sync.Mutex
	results := make(map[string]model.RenderResult, len(open))
	eg := errgroup.Group{}
	eg.SetLimit(c.options.Concurrency)
	for jobId := range open {
		eg.Go(func() error {
			res, err := c.render.Poll(ctx, jobId)
			if err != nil {
				var jobErr *model.ExternalJobError
				if errors.As(err, &jobErr) && !jobErr.Transient {
					res = model.RenderResult{JobId: jobId, Status: model.RenderFailed, Error: err.Error(), Safety: jobErr.Safety}
				} else {
					slog.Warn("poll failed, will retry", "job_id", jobId, "error", err)
					return nil
				}
			}
			mu.Lock()
			results[jobId] = res
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// apply folds a poll result into a scene and reports whether it changed.
func (c *Generating) apply(ctx goctx.Context, s *model.SceneRecord, res model.RenderResult, cache *services.RenderCache, actTypes map[int]model.ActType) bool {
	switch res.Status {
	case model.RenderReady:
		s.Status = model.RenderReady
		s.Url = res.Url
		s.Error = ""
		return true
	case model.RenderFailed:
		cache.Forget(s.Prompt)
		cause := &model.ExternalJobError{Service: "render", Safety: res.Safety, Err: errors.New(res.Error)}
		c.rejected(ctx, s, cause, cache, actTypes)
		return true
	}
	return false
}
