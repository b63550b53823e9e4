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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").
	SecretsFileName     = ".env"              // Optional dotenv file with API keys, next to the TOML files.
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

func configPrefix() string {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	return prefix
}

// LoadConfig decodes configs/.env.toml and then configs/.env.<GCP_RUNTIME>.toml
// into baseConfig, so the runtime file overrides the base one. The directory
// comes from GCP_CONFIG_PREFIX and the runtime defaults to "test".
//
// Inputs:
//   - baseConfig: Pointer to the struct to populate, normally a *Config.
func LoadConfig(baseConfig interface{}) {
	configurationFilePrefix := configPrefix()

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	baseConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension
	slog.Info("loading configuration", "base", baseConfigFileName, "runtime", envConfigFileName)

	if fileExists(baseConfigFileName) {
		_, err := toml.DecodeFile(baseConfigFileName, baseConfig)
		if err != nil {
			log.Fatalf("failed to decode base configuration file %s with error: %s", baseConfigFileName, err)
		}
	}

	if fileExists(envConfigFileName) {
		_, err := toml.DecodeFile(envConfigFileName, baseConfig)
		if err != nil {
			log.Fatalf("failed to decode environment configuration file: %s with error: %s", envConfigFileName, err)
		}
	}
}

// LoadSecrets loads API keys from the optional .env file in the config
// directory. Variables already present in the environment win.
func LoadSecrets() {
	secrets := configPrefix() + SecretsFileName
	if !fileExists(secrets) {
		return
	}
	if err := godotenv.Load(secrets); err != nil {
		slog.Warn("failed to load secrets file", "file", secrets, "error", err)
	}
}

// BackoffPolicy bounds RetryWithBackoff.
type BackoffPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Retryable decides if an error is worth another attempt. Nil means
	// IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error)
}

// DefaultBackoff retries quota errors up to five times, starting at two
// seconds and doubling up to a minute.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 5, Initial: 2 * time.Second, Max: time.Minute, Multiplier: 2}
}

// RetryWithBackoff calls fn until it succeeds, returns a non retryable
// error, the attempts run out, or ctx is done. The last error is returned.
func RetryWithBackoff(ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	wait := policy.Initial
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == policy.MaxAttempts || !retryable(err) {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
		wait = time.Duration(float64(wait) * policy.Multiplier)
		if policy.Max > 0 && wait > policy.Max {
			wait = policy.Max
		}
	}
	return err
}

// IsRetryable recognises quota and overload responses: HTTP 429,
// RESOURCE_EXHAUSTED, "elevated usage" messages and transient
// ExternalJobErrors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var jobErr *model.ExternalJobError
	if errors.As(err, &jobErr) {
		return jobErr.Transient
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "elevated usage")
}

// GenerateTextResponse sends content to a model and returns the text of the
// response with any markdown code fence removed. Quota errors are retried
// with the default backoff.
//
// Inputs:
//   - ctx: Request context.
//   - inputTokenCounter, outputTokenCounter: Token usage counters.
//   - retryCounter: Incremented on every retry.
//   - model: The generator, normally a *QuotaAwareGenerativeAIModel.
//   - content: The prompt.
//
// Outputs:
//   - string: The concatenated text of every candidate part.
//   - error: The last error once retries are exhausted.
func GenerateTextResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	model ContentGenerator,
	content []*genai.Content) (value string, err error) {

	policy := DefaultBackoff()
	policy.OnRetry = func(attempt int, err error) {
		if retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}
		slog.Warn("retrying generation", "attempt", attempt, "error", err)
	}

	var resp *genai.GenerateContentResponse
	err = RetryWithBackoff(ctx, policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = model.GenerateContent(ctx, content)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty response from model")
	}

	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				b.WriteString(part.Text)
			}
		}
	}
	return StripCodeFence(b.String()), nil
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimPrefix(value, "```")
	value = strings.TrimSuffix(value, "```")
	return strings.TrimSpace(value)
}

// NewTextPart wraps a prompt as user content.
func NewTextPart(in string) []*genai.Content {
	return genai.Text(in)
}
