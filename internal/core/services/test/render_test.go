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

package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/zeebo/assert"
)

func fastBackoff() cloud.BackoffPolicy {
	return cloud.BackoffPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func TestMapRenderState(t *testing.T) {
	cases := []struct {
		state  string
		reason string
		status model.RenderStatus
		safety bool
	}{
		{"QUEUED", "", model.RenderPending, false},
		{"", "", model.RenderPending, false},
		{"running", "", model.RenderProcessing, false},
		{"SUCCEEDED", "", model.RenderReady, false},
		{"BLOCKED", "", model.RenderFailed, true},
		{"FAILED", "prompt violates the safety policy", model.RenderFailed, true},
		{"FAILED", "out of capacity", model.RenderFailed, false},
	}
	for _, c := range cases {
		status, safety := services.MapRenderState(c.state, c.reason)
		assert.Equal(t, status, c.status)
		assert.Equal(t, safety, c.safety)
	}
}

func TestRenderCache(t *testing.T) {
	cache := services.NewRenderCache()
	cache.Seed([]*model.SceneRecord{
		{Prompt: "stars", JobId: "job-1", Status: model.RenderProcessing},
		{Prompt: "rain", JobId: "job-2", Status: model.RenderFailed},
		{Prompt: "fields", Status: model.RenderPending},
	})

	id, ok := cache.Get("stars")
	assert.True(t, ok)
	assert.Equal(t, id, "job-1")
	_, ok = cache.Get("rain")
	assert.False(t, ok)
	_, ok = cache.Get("fields")
	assert.False(t, ok)

	cache.Put("fields", "job-3")
	cache.Forget("stars")
	_, ok = cache.Get("stars")
	assert.False(t, ok)
	id, _ = cache.Get("fields")
	assert.Equal(t, id, "job-3")
}

func TestHTTPRenderServiceRetriesQuota(t *testing.T) {
	var submits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			assert.Equal(t, r.Header.Get("x-api-key"), "secret")
			if atomic.AddInt32(&submits, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("RESOURCE_EXHAUSTED"))
				return
			}
			var req map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, req["prompt"], "stars over a field")
			_, _ = w.Write([]byte(`{"job_id": "job-42"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-42":
			_, _ = w.Write([]byte(`{"job_id": "job-42", "state": "SUCCEEDED", "video_uri": "gs://clips/42.mp4"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	svc := services.NewHTTPRenderServiceWithClient(server.Client(), server.URL+"/", "secret", 100)
	svc.SetBackoff(fastBackoff())

	ctx := context.Background()
	id, err := svc.Submit(ctx, "stars over a field", 8)
	assert.NoError(t, err)
	assert.Equal(t, id, "job-42")
	assert.Equal(t, atomic.LoadInt32(&submits), int32(2))

	res, err := svc.Poll(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, res.Status, model.RenderReady)
	assert.Equal(t, res.Url, "gs://clips/42.mp4")
}

func TestHTTPRenderServiceSafetyRejection(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "prompt blocked by safety filter"}`))
	}))
	defer server.Close()

	svc := services.NewHTTPRenderServiceWithClient(server.Client(), server.URL, "", 100)
	svc.SetBackoff(fastBackoff())

	_, err := svc.Submit(context.Background(), "anything", 4)
	var jobErr *model.ExternalJobError
	assert.That(t, errors.As(err, &jobErr))
	assert.True(t, jobErr.Safety)
	assert.False(t, jobErr.Transient)
	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))
}

func TestSynthesizer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, req["voice"], "warm")
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3 audio"))
	}))
	defer server.Close()

	t.Setenv("TEST_SPEECH_KEY", "k")
	cfg := cloud.RemoteService{Endpoint: server.URL, ApiKeyEnv: "TEST_SPEECH_KEY", Voice: "warm"}
	synth := services.NewSynthesizer(cfg)
	assert.NotNil(t, synth)

	dst := filepath.Join(t.TempDir(), "line.mp3")
	assert.NoError(t, synth.Synthesize(context.Background(), "Light arrives.", dst))
	data, err := os.ReadFile(dst)
	assert.NoError(t, err)
	assert.Equal(t, string(data), "ID3 audio")

	// Without a key the step is disabled.
	assert.Nil(t, services.NewSynthesizer(cloud.RemoteService{Endpoint: server.URL, ApiKeyEnv: "TEST_MISSING_KEY"}))
}

func TestStaticMusicSource(t *testing.T) {
	dir := t.TempDir()
	track := filepath.Join(dir, "bed.mp3")
	assert.NoError(t, os.WriteFile(track, []byte("music"), 0o644))

	source := services.NewMusicSource(cloud.RemoteService{DefaultTrack: track}, nil)
	assert.NotNil(t, source)
	dst := filepath.Join(dir, "out.mp3")
	assert.NoError(t, source.Track(context.Background(), "hopeful", 120, dst))
	data, err := os.ReadFile(dst)
	assert.NoError(t, err)
	assert.Equal(t, string(data), "music")

	assert.Nil(t, services.NewMusicSource(cloud.RemoteService{}, nil))
}
