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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// Synthesizer turns narration text into speech.
type Synthesizer interface {
	// Synthesize writes the audio of text to dst.
	Synthesize(ctx context.Context, text string, dst string) error
}

// MusicSource provides the music bed of a film.
type MusicSource interface {
	// Track writes a track of at least durationSec for mood to dst.
	Track(ctx context.Context, mood string, durationSec int, dst string) error
}

// httpAudioClient posts JSON and stores the binary answer.
type httpAudioClient struct {
	service  string
	client   *http.Client
	endpoint string
	apiKey   string
	backoff  cloud.BackoffPolicy
}

func newHTTPAudioClient(service string, cfg cloud.RemoteService, apiKey string) httpAudioClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return httpAudioClient{
		service:  service,
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   apiKey,
		backoff:  cloud.DefaultBackoff(),
	}
}

func (c httpAudioClient) fetch(ctx context.Context, request interface{}, dst string) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return cloud.RetryWithBackoff(ctx, c.backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		resp, err := c.client.Do(req)
		if err != nil {
			return &model.ExternalJobError{Service: c.service, Transient: true, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return classifyHTTP(c.service, resp.StatusCode, payload)
		}
		file, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(file, resp.Body); err != nil {
			_ = file.Close()
			_ = os.Remove(dst)
			return &model.ExternalJobError{Service: c.service, Transient: true, Err: err}
		}
		return file.Close()
	})
}

func apiKeyFrom(cfg cloud.RemoteService) string {
	if cfg.ApiKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(cfg.ApiKeyEnv))
}

// HTTPSynthesizer posts {"text", "voice"} and receives audio bytes.
type HTTPSynthesizer struct {
	http  httpAudioClient
	voice string
}

// NewSynthesizer returns nil when no endpoint or key is configured, in which
// case narration audio is skipped.
func NewSynthesizer(cfg cloud.RemoteService) Synthesizer {
	key := apiKeyFrom(cfg)
	if cfg.Endpoint == "" || key == "" {
		slog.Info("speech synthesis disabled, no endpoint or api key")
		return nil
	}
	return &HTTPSynthesizer{http: newHTTPAudioClient("speech", cfg, key), voice: cfg.Voice}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, dst string) error {
	return s.http.fetch(ctx, map[string]interface{}{"text": text, "voice": s.voice}, dst)
}

// HTTPMusicSource posts {"mood", "duration_sec"} and receives audio bytes.
type HTTPMusicSource struct {
	http httpAudioClient
}

func (m *HTTPMusicSource) Track(ctx context.Context, mood string, durationSec int, dst string) error {
	return m.http.fetch(ctx, map[string]interface{}{"mood": mood, "duration_sec": durationSec}, dst)
}

// StaticMusicSource always returns the same track, from GCS or local disk.
type StaticMusicSource struct {
	StorageClient *storage.Client
	Source        string
}

func (m *StaticMusicSource) Track(ctx context.Context, _ string, _ int, dst string) error {
	if cloud.IsGCSURI(m.Source) {
		obj, err := cloud.ParseGCSURI(m.Source)
		if err != nil {
			return err
		}
		_, err = cloud.DownloadObject(ctx, m.StorageClient, obj, dst)
		return err
	}
	src, err := os.Open(m.Source)
	if err != nil {
		return fmt.Errorf("music track %s: %w", m.Source, err)
	}
	defer func() { _ = src.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// NewMusicSource prefers the generation endpoint, then the default track. It
// returns nil when neither is configured and the film gets no music.
func NewMusicSource(cfg cloud.RemoteService, storageClient *storage.Client) MusicSource {
	if key := apiKeyFrom(cfg); cfg.Endpoint != "" && key != "" {
		return &HTTPMusicSource{http: newHTTPAudioClient("music", cfg, key)}
	}
	if cfg.DefaultTrack != "" {
		return &StaticMusicSource{StorageClient: storageClient, Source: cfg.DefaultTrack}
	}
	slog.Info("music disabled, no endpoint or default track")
	return nil
}
