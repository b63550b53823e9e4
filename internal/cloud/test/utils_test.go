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

package cloud_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func fastPolicy(attempts int) cloud.BackoffPolicy {
	return cloud.BackoffPolicy{MaxAttempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff_RetriesQuotaErrors(t *testing.T) {
	calls := 0
	retries := make([]int, 0)
	policy := fastPolicy(5)
	policy.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	err := cloud.RetryWithBackoff(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rpc error: RESOURCE_EXHAUSTED")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := cloud.RetryWithBackoff(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return errors.New("invalid argument")
	})
	assert.EqualError(t, err, "invalid argument")
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	err := cloud.RetryWithBackoff(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: 429 too many requests", calls)
	})
	assert.EqualError(t, err, "attempt 3: 429 too many requests")
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := cloud.BackoffPolicy{MaxAttempts: 5, Initial: time.Hour, Multiplier: 2}
	policy.OnRetry = func(int, error) { cancel() }

	err := cloud.RetryWithBackoff(ctx, policy, func(context.Context) error {
		return errors.New("elevated usage, try later")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Resource exhausted"), true},
		{errors.New("HTTP 429"), true},
		{errors.New("not found"), false},
		{genai.APIError{Code: 429}, true},
		{genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{&model.ExternalJobError{Service: "render", Transient: true, Err: errors.New("unavailable")}, true},
		{fmt.Errorf("submit: %w", &model.ExternalJobError{Service: "render", Safety: true, Err: errors.New("429 blocked")}), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cloud.IsRetryable(tc.err), "%v", tc.err)
	}
}

func TestParseGCSURI(t *testing.T) {
	obj, err := cloud.ParseGCSURI("gs://films/runs/abc/film.mp4")
	require.NoError(t, err)
	assert.Equal(t, "films", obj.Bucket)
	assert.Equal(t, "runs/abc/film.mp4", obj.Name)
	assert.Equal(t, "gs://films/runs/abc/film.mp4", obj.URI())

	for _, bad := range []string{"https://films/x.mp4", "gs://films", "gs://films/", "gs:///x.mp4"} {
		_, err := cloud.ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, cloud.StripCodeFence("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `[1, 2]`, cloud.StripCodeFence("```\n[1, 2]\n```  "))
	assert.Equal(t, `plain`, cloud.StripCodeFence(" plain "))
}
