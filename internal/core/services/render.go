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
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

// RenderService submits per beat video jobs and reports their progress.
type RenderService interface {
	Submit(ctx context.Context, prompt string, durationSec int) (string, error)
	Poll(ctx context.Context, jobId string) (model.RenderResult, error)
}

// MapRenderState maps a remote job state onto RenderStatus. The second
// result is true when the job was blocked by a content filter.
func MapRenderState(state string, reason string) (model.RenderStatus, bool) {
	reason = strings.ToLower(reason)
	safety := strings.Contains(reason, "safety") || strings.Contains(reason, "content policy") || strings.Contains(reason, "blocked")
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "QUEUED", "PENDING", "SUBMITTED", "":
		return model.RenderPending, false
	case "RUNNING", "PROCESSING", "IN_PROGRESS":
		return model.RenderProcessing, false
	case "SUCCEEDED", "SUCCESS", "DONE", "COMPLETED", "READY":
		return model.RenderReady, false
	case "BLOCKED", "SAFETY", "FILTERED":
		return model.RenderFailed, true
	}
	return model.RenderFailed, safety
}

// RenderCache remembers which job renders a prompt within one run, so an
// identical prompt is rendered once.
type RenderCache struct {
	mu   sync.Mutex
	jobs map[string]string
}

func NewRenderCache() *RenderCache {
	return &RenderCache{jobs: make(map[string]string)}
}

// Seed loads the jobs of scenes already submitted, for resumed runs.
func (c *RenderCache) Seed(scenes []*model.SceneRecord) {
	for _, s := range scenes {
		if s.JobId != "" && s.Status != model.RenderFailed {
			c.Put(s.Prompt, s.JobId)
		}
	}
}

func (c *RenderCache) Get(prompt string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.jobs[prompt]
	return id, ok
}

func (c *RenderCache) Put(prompt string, jobId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[prompt] = jobId
}

// Forget drops a prompt, e.g. after its job failed.
func (c *RenderCache) Forget(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, prompt)
}

type renderSubmitRequest struct {
	Prompt      string `json:"prompt"`
	DurationSec int    `json:"duration_sec"`
}

type renderJobResponse struct {
	JobId    string `json:"job_id"`
	State    string `json:"state"`
	VideoURI string `json:"video_uri"`
	Error    string `json:"error"`
}

// HTTPRenderService talks to a JSON render API:
//
//	POST {endpoint}/jobs      {"prompt", "duration_sec"} -> {"job_id"}
//	GET  {endpoint}/jobs/{id} -> {"job_id", "state", "video_uri", "error"}
//
// Requests go through a token bucket limiter. 429 and 5xx answers are
// transient and retried with backoff; a 400 mentioning safety is a safety
// rejection.
type HTTPRenderService struct {
	client   *http.Client
	endpoint string
	apiKey   string
	limiter  *rate.Limiter
	backoff  cloud.BackoffPolicy
}

// NewHTTPRenderService builds the client from configuration. Without an API
// key the requests are authenticated with the ambient Google credentials.
func NewHTTPRenderService(ctx context.Context, cfg cloud.RemoteService) (*HTTPRenderService, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var client *http.Client
	apiKey := ""
	if cfg.ApiKeyEnv != "" {
		apiKey = os.Getenv(cfg.ApiKeyEnv)
	}
	if apiKey == "" {
		var err error
		client, err = google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("render service credentials: %w", err)
		}
	} else {
		client = &http.Client{}
	}
	client.Timeout = timeout
	return NewHTTPRenderServiceWithClient(client, cfg.Endpoint, apiKey, cfg.RequestsPerSecond), nil
}

// NewHTTPRenderServiceWithClient uses a caller supplied client.
func NewHTTPRenderServiceWithClient(client *http.Client, endpoint string, apiKey string, requestsPerSecond float64) *HTTPRenderService {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPRenderService{
		client:   client,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		backoff:  cloud.DefaultBackoff(),
	}
}

// SetBackoff replaces the retry policy.
func (s *HTTPRenderService) SetBackoff(policy cloud.BackoffPolicy) {
	s.backoff = policy
}

func (s *HTTPRenderService) Submit(ctx context.Context, prompt string, durationSec int) (string, error) {
	body, err := json.Marshal(renderSubmitRequest{Prompt: prompt, DurationSec: durationSec})
	if err != nil {
		return "", err
	}
	var out renderJobResponse
	err = cloud.RetryWithBackoff(ctx, s.backoff, func(ctx context.Context) error {
		return s.do(ctx, http.MethodPost, s.endpoint+"/jobs", body, &out)
	})
	if err != nil {
		return "", err
	}
	if out.JobId == "" {
		return "", &model.ExternalJobError{Service: "render", Err: fmt.Errorf("submit returned no job id")}
	}
	return out.JobId, nil
}

func (s *HTTPRenderService) Poll(ctx context.Context, jobId string) (model.RenderResult, error) {
	var out renderJobResponse
	err := cloud.RetryWithBackoff(ctx, s.backoff, func(ctx context.Context) error {
		return s.do(ctx, http.MethodGet, s.endpoint+"/jobs/"+jobId, nil, &out)
	})
	if err != nil {
		return model.RenderResult{JobId: jobId}, err
	}
	status, safety := MapRenderState(out.State, out.Error)
	return model.RenderResult{JobId: jobId, Status: status, Url: out.VideoURI, Error: out.Error, Safety: safety}, nil
}

func (s *HTTPRenderService) do(ctx context.Context, method string, url string, body []byte, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &model.ExternalJobError{Service: "render", Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &model.ExternalJobError{Service: "render", Transient: true, Err: err}
	}
	if err := classifyHTTP("render", resp.StatusCode, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &model.ExternalJobError{Service: "render", Err: fmt.Errorf("bad response body: %w", err)}
	}
	return nil
}

// classifyHTTP turns a non 2xx answer into an ExternalJobError.
func classifyHTTP(service string, code int, payload []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := fmt.Errorf("http %d: %s", code, msg)
	lower := strings.ToLower(msg)
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return &model.ExternalJobError{Service: service, Transient: true, Err: err}
	case strings.Contains(lower, "safety") || strings.Contains(lower, "content policy"):
		return &model.ExternalJobError{Service: service, Safety: true, Err: err}
	}
	return &model.ExternalJobError{Service: service, Err: err}
}
