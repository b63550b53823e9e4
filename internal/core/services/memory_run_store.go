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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// MemoryRunStore keeps everything in maps. The lock is held only around map
// access and every value crosses the boundary as a copy.
type MemoryRunStore struct {
	mu           sync.Mutex
	runs         map[string]*model.FilmRun
	scenes       map[string]map[int]*model.SceneRecord
	fingerprints []*model.RunFingerprint
	now          func() time.Time
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:         make(map[string]*model.FilmRun),
		scenes:       make(map[string]map[int]*model.SceneRecord),
		fingerprints: make([]*model.RunFingerprint, 0),
		now:          time.Now,
	}
}

// SetClock replaces the time source, for tests of stale claims.
func (s *MemoryRunStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryRunStore) Create(_ context.Context, run *model.FilmRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.Id]; ok {
		return fmt.Errorf("run %s already exists", run.Id)
	}
	s.runs[run.Id] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*model.FilmRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *MemoryRunStore) Transition(_ context.Context, id string, from model.Stage, fromVersion int64, to model.Stage) (*model.FilmRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	if run.Stage != from || run.Version != fromVersion {
		return nil, fmt.Errorf("run %s is %s at version %d, expected %s at %d: %w",
			id, run.Stage, run.Version, from, fromVersion, model.ErrRunNotClaimable)
	}
	run.Stage = to
	run.Version++
	run.UpdatedAt = s.now()
	return run.Clone(), nil
}

func (s *MemoryRunStore) Save(_ context.Context, run *model.FilmRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.Id]
	if !ok {
		return fmt.Errorf("run %s: %w", run.Id, model.ErrNotFound)
	}
	if stored.Version != run.Version {
		return fmt.Errorf("run %s was written by another worker (version %d, have %d): %w",
			run.Id, stored.Version, run.Version, model.ErrRunNotClaimable)
	}
	run.Version++
	run.UpdatedAt = s.now()
	s.runs[run.Id] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Fail(_ context.Context, id string, stage model.Stage, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	run.Stage = model.StageFailed
	run.FailedStage = stage.Number()
	run.ErrorMessage = message
	run.Version++
	run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryRunStore) CreateScenes(_ context.Context, scenes []*model.SceneRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scene := range scenes {
		delete(s.scenes, scene.RunId)
	}
	for _, scene := range scenes {
		byBeat, ok := s.scenes[scene.RunId]
		if !ok {
			byBeat = make(map[int]*model.SceneRecord)
			s.scenes[scene.RunId] = byBeat
		}
		cp := *scene
		byBeat[scene.BeatIndex] = &cp
	}
	return nil
}

func (s *MemoryRunStore) ClaimScene(_ context.Context, runId string, beatIndex int) (*model.SceneRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.scenes[runId][beatIndex]
	if !ok {
		return nil, fmt.Errorf("scene %s/%d: %w", runId, beatIndex, model.ErrNotFound)
	}
	if scene.Status != model.RenderPending {
		return nil, fmt.Errorf("scene %s/%d is %s: %w", runId, beatIndex, scene.Status, model.ErrRunNotClaimable)
	}
	scene.Status = model.RenderProcessing
	scene.UpdatedAt = s.now()
	cp := *scene
	return &cp, nil
}

func (s *MemoryRunStore) SaveScene(_ context.Context, scene *model.SceneRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBeat, ok := s.scenes[scene.RunId]
	if !ok {
		return fmt.Errorf("scenes of run %s: %w", scene.RunId, model.ErrNotFound)
	}
	cp := *scene
	cp.UpdatedAt = s.now()
	byBeat[scene.BeatIndex] = &cp
	return nil
}

func (s *MemoryRunStore) ListScenes(_ context.Context, runId string) ([]*model.SceneRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SceneRecord, 0, len(s.scenes[runId]))
	for _, scene := range s.scenes[runId] {
		cp := *scene
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BeatIndex < out[j].BeatIndex })
	return out, nil
}

func (s *MemoryRunStore) SaveFingerprint(_ context.Context, fp *model.RunFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fp
	cp.Motifs = append([]string(nil), fp.Motifs...)
	cp.Prompts = append([]string(nil), fp.Prompts...)
	s.fingerprints = append(s.fingerprints, &cp)
	return nil
}

func (s *MemoryRunStore) RecentFingerprints(_ context.Context, limit int) ([]*model.RunFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.RunFingerprint, 0)
	for i := len(s.fingerprints) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.fingerprints[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryRunStore) CountByStage(_ context.Context) ([]model.StageCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Stage]int64)
	for _, run := range s.runs {
		counts[run.Stage]++
	}
	out := make([]model.StageCount, 0, len(counts))
	for _, stage := range model.AllStages() {
		if n, ok := counts[stage]; ok {
			out = append(out, model.StageCount{Stage: stage, Count: n})
		}
	}
	return out, nil
}

func (s *MemoryRunStore) ListStale(_ context.Context, updatedBefore time.Time, limit int) ([]*model.FilmRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.FilmRun, 0)
	for _, run := range s.runs {
		if run.Stage.InProgress() && run.UpdatedAt.Before(updatedBefore) {
			out = append(out, run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
