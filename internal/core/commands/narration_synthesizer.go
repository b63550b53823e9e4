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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NarrationSynthesizer records every narration segment of the run.
//
// Segments are spread over a small worker pool: a jobs channel feeds the
// workers, a results channel collects the recordings and a WaitGroup tells
// when the pool is drained. Each job has its own span. A segment whose
// recording fails is left silent; the film is assembled without it. Without
// a synthesizer every segment is silent.
type NarrationSynthesizer struct {
	StageCommand
	synthesizer     services.Synthesizer
	numberOfWorkers int
}

func NewNarrationSynthesizer(name string, store services.RunStore, synthesizer services.Synthesizer, numberOfWorkers int) *NarrationSynthesizer {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 2
	}
	return &NarrationSynthesizer{
		StageCommand:    NewStageCommand(name, model.StageAssembling, store),
		synthesizer:     synthesizer,
		numberOfWorkers: numberOfWorkers,
	}
}

// IsExecutable also needs the scratch directory made by the clip fetcher.
func (c *NarrationSynthesizer) IsExecutable(context cor.Context) bool {
	return c.StageCommand.IsExecutable(context) && context.Get(ParamScratchDir) != nil
}

// narrationJob is one segment to record.
type narrationJob struct {
	index int
	text  string
	dst   string
	ctx   goctx.Context
	span  trace.Span
}

// narrationResult carries a recording, or the error, back from a worker.
type narrationResult struct {
	index int
	path  string
	err   error
}

func (c *NarrationSynthesizer) Execute(context cor.Context) {
	run := RunFrom(context)
	dir := context.Get(ParamScratchDir).(string)
	audio := make([]string, len(run.Narration))

	if c.synthesizer == nil || len(run.Narration) == 0 {
		slog.Info("narration audio skipped", "run_id", run.Id, "segments", len(run.Narration), "synthesizer", c.synthesizer != nil)
		context.Add(ParamNarrationAudio, audio)
		return
	}

	var wg sync.WaitGroup
	jobs := make(chan *narrationJob, len(run.Narration))
	results := make(chan *narrationResult, len(run.Narration))
	for w := 0; w < c.numberOfWorkers; w++ {
		wg.Add(1)
		go c.worker(jobs, results, &wg)
	}

	for i, segment := range run.Narration {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		jobCtx, span := c.Tracer.Start(context.GetContext(), fmt.Sprintf("%s_segment_%d", c.GetName(), i))
		span.SetAttributes(attribute.Int("segment", i), attribute.Int("words", segment.WordCount))
		jobs <- &narrationJob{
			index: i,
			text:  text,
			dst:   filepath.Join(dir, fmt.Sprintf("narration_%02d.mp3", i)),
			ctx:   jobCtx,
			span:  span,
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	recorded := 0
	for r := range results {
		if r.err != nil {
			slog.Warn("narration segment left silent", "run_id", run.Id, "segment", r.index, "error", r.err)
			continue
		}
		audio[r.index] = r.path
		recorded++
	}

	slog.Info("narration recorded", "run_id", run.Id, "segments", len(run.Narration), "recorded", recorded)
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(ParamNarrationAudio, audio)
}

func (c *NarrationSynthesizer) worker(jobs <-chan *narrationJob, results chan<- *narrationResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		err := c.synthesizer.Synthesize(j.ctx, j.text, j.dst)
		if err == nil {
			err = checkAudio(j.dst)
		}
		if err != nil {
			j.span.SetStatus(codes.Error, err.Error())
			j.span.End()
			results <- &narrationResult{index: j.index, err: err}
			continue
		}
		j.span.SetStatus(codes.Ok, "recorded")
		j.span.End()
		results <- &narrationResult{index: j.index, path: j.dst}
	}
}

// checkAudio rejects files that are not audio, such as an error page saved
// by a misbehaving service.
func checkAudio(path string) error {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(kind.MIME.Value, "audio/") {
		_ = os.Remove(path)
		return fmt.Errorf("%s is %q, not audio", filepath.Base(path), kind.MIME.Value)
	}
	return nil
}
