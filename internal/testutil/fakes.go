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

package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// mp4Header is the start of an ISO base media file: an ftyp box with the
// isom brand, which is what content sniffing looks at.
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}

// mp3Header is an ID3v2 tag header.
var mp3Header = []byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// WriteFakeMP4 writes a file that is recognised as video/mp4.
func WriteFakeMP4(path string) error {
	return os.WriteFile(path, append(append([]byte(nil), mp4Header...), []byte("fake video")...), 0o644)
}

// WriteFakeMP3 writes a file that is recognised as audio/mpeg.
func WriteFakeMP3(path string) error {
	return os.WriteFile(path, append(append([]byte(nil), mp3Header...), []byte("fake audio")...), 0o644)
}

// FakePlanner answers with the sample plan.
type FakePlanner struct {
	UnderstandErr error
	NarrateErr    error
	// Fills replaces the sample fills when set.
	Fills func(structure *model.DocumentaryStructure, t *model.MasterTimelineData, attempt int) []model.BeatFill

	mu       sync.Mutex
	narrated int
	avoided  []*model.AvoidList
}

func (p *FakePlanner) Understand(_ context.Context, _ string) (*model.DocumentaryStructure, error) {
	if p.UnderstandErr != nil {
		return nil, p.UnderstandErr
	}
	return SampleStructure(), nil
}

func (p *FakePlanner) Narrate(_ context.Context, structure *model.DocumentaryStructure, t *model.MasterTimelineData, avoid *model.AvoidList) ([]model.BeatFill, error) {
	p.mu.Lock()
	p.narrated++
	attempt := p.narrated
	snapshot := &model.AvoidList{}
	if avoid != nil {
		snapshot.Motifs = append([]string(nil), avoid.Motifs...)
		snapshot.Prompts = append([]string(nil), avoid.Prompts...)
	}
	p.avoided = append(p.avoided, snapshot)
	p.mu.Unlock()
	if p.NarrateErr != nil {
		return nil, p.NarrateErr
	}
	if p.Fills != nil {
		return p.Fills(structure, t, attempt), nil
	}
	return SampleFills(structure, t), nil
}

// NarrateCalls is how many times Narrate ran.
func (p *FakePlanner) NarrateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.narrated
}

// Avoided returns a copy of the avoid list of every Narrate call, as it was
// at the time of the call.
func (p *FakePlanner) Avoided() []*model.AvoidList {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.AvoidList(nil), p.avoided...)
}

// FakeRenderService renders every job on its first poll. Ready clips are
// written to Dir as small MP4 files and reported by local path.
type FakeRenderService struct {
	Dir string
	// Reject fails the submission of a prompt.
	Reject func(prompt string) error
	// Outcome decides the poll result of a prompt. A zero Status means ready.
	Outcome func(prompt string) model.RenderResult

	mu      sync.Mutex
	prompts []string
	jobs    map[string]string
	polls   int
}

func NewFakeRenderService(dir string) *FakeRenderService {
	return &FakeRenderService{Dir: dir, jobs: make(map[string]string)}
}

func (f *FakeRenderService) Submit(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.Reject != nil {
		if err := f.Reject(prompt); err != nil {
			return "", err
		}
	}
	id := fmt.Sprintf("job-%03d", len(f.prompts))
	f.jobs[id] = prompt
	return id, nil
}

func (f *FakeRenderService) Poll(_ context.Context, jobId string) (model.RenderResult, error) {
	f.mu.Lock()
	f.polls++
	prompt, ok := f.jobs[jobId]
	f.mu.Unlock()
	if !ok {
		return model.RenderResult{JobId: jobId}, &model.ExternalJobError{Service: "render", Err: errors.New("unknown job")}
	}

	result := model.RenderResult{Status: model.RenderReady}
	if f.Outcome != nil {
		if r := f.Outcome(prompt); r.Status != "" {
			result = r
		}
	}
	result.JobId = jobId
	if result.Status == model.RenderReady && result.Url == "" {
		path := filepath.Join(f.Dir, jobId+".mp4")
		if err := WriteFakeMP4(path); err != nil {
			return result, err
		}
		result.Url = "file://" + path
	}
	return result, nil
}

// Prompts returns every submitted prompt in order.
func (f *FakeRenderService) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// PromptsContaining counts the submitted prompts containing s.
func (f *FakeRenderService) PromptsContaining(s string) int {
	n := 0
	for _, p := range f.Prompts() {
		if strings.Contains(p, s) {
			n++
		}
	}
	return n
}

// Polls is how many Poll calls were made.
func (f *FakeRenderService) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// FakeSynthesizer writes a small MP3 for every text.
type FakeSynthesizer struct {
	Fail func(text string) bool

	mu    sync.Mutex
	texts []string
}

func (s *FakeSynthesizer) Synthesize(_ context.Context, text string, dst string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.Fail != nil && s.Fail(text) {
		return &model.ExternalJobError{Service: "speech", Err: errors.New("voice unavailable")}
	}
	return WriteFakeMP3(dst)
}

func (s *FakeSynthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// FakeMusicSource writes a small MP3 and remembers the mood it was asked for.
type FakeMusicSource struct {
	Err   error
	Moods []string
}

func (m *FakeMusicSource) Track(_ context.Context, mood string, _ int, dst string) error {
	m.Moods = append(m.Moods, mood)
	if m.Err != nil {
		return m.Err
	}
	return WriteFakeMP3(dst)
}

// FakeArtifactStore copies films into Dir.
type FakeArtifactStore struct {
	Dir string
	Err error

	mu       sync.Mutex
	uploaded map[string]string
}

func (a *FakeArtifactStore) Upload(_ context.Context, runId string, localPath string) (string, error) {
	if a.Err != nil {
		return "", a.Err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(a.Dir, runId+".mp4")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploaded == nil {
		a.uploaded = make(map[string]string)
	}
	a.uploaded[runId] = dst
	return "gs://films/" + runId + ".mp4", nil
}

// Uploaded returns the local copy of the film of runId.
func (a *FakeArtifactStore) Uploaded(runId string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.uploaded[runId]
	return p, ok
}
