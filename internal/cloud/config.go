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

// Package cloud holds the configuration of the film service and the clients
// and wrappers it uses to talk to Google Cloud and the external media
// services.
//
// Configuration is read from TOML files (see LoadConfig). The structs below
// map one to one onto the sections of configs/.env.toml:
//
//   - [application]: project, location and the signing service account.
//   - [storage]: buckets for rendered clips, music and finished films.
//   - [big_query_data_source]: dataset and tables of the run store.
//   - [prompt_templates]: text/template sources for the planner prompts.
//   - [topic_subscriptions.*] and [topics]: Pub/Sub wiring of film requests.
//   - [agent_models.*]: Vertex AI model settings for the planner.
//   - [orchestrator]: QC retries, render polling and stale claim recovery.
//   - [render], [speech], [music]: endpoints of the external media services.
//   - [assembly], [qc]: the ffmpeg based assembler and the QC thresholds.
package cloud

import "google.golang.org/genai"

// DefaultSafetySettings are the content filters applied to planner calls.
// Planner output is only ever text that goes through QC, so the filters are
// left open.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// BigQueryDataSource names the dataset and tables of the run store.
type BigQueryDataSource struct {
	DatasetName       string `toml:"dataset"`
	RunsTable         string `toml:"runs_table"`
	ScenesTable       string `toml:"scenes_table"`
	FingerprintsTable string `toml:"fingerprints_table"`
}

// PromptTemplates holds the text/template sources of the planner prompts.
type PromptTemplates struct {
	UnderstandingPrompt string `toml:"understanding"`
	NarrationPrompt     string `toml:"narration"`
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // Requests per second.
	TimeoutSeconds     int     `toml:"timeout_seconds"`     // Per call timeout.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Topics names the topics the service publishes to.
type Topics struct {
	FilmRequests string `toml:"film_requests"`
}

// Storage names the buckets used by the pipeline.
type Storage struct {
	FilmBucket     string `toml:"film_bucket"`     // Finished films are written here.
	FilmPrefix     string `toml:"film_prefix"`     // Object prefix of finished films, "films" by default.
	ClipBucket     string `toml:"clip_bucket"`     // Where the render service drops clips.
	MusicBucket    string `toml:"music_bucket"`    // Source of the music library.
	SignedURLHours int    `toml:"signed_url_hours"`
}

// Orchestrator controls the run state machine.
type Orchestrator struct {
	QCMaxAttempts        int  `toml:"qc_max_attempts"`
	StrictQC             bool `toml:"strict_qc"` // Fail the run instead of accepting the best rejected attempt.
	PollIntervalSeconds  int  `toml:"poll_interval_seconds"`
	RenderTimeoutMinutes int  `toml:"render_timeout_minutes"`
	MaxPollIterations    int  `toml:"max_poll_iterations"`
	StaleAfterMinutes    int  `toml:"stale_after_minutes"`
	SweepIntervalMinutes int  `toml:"sweep_interval_minutes"`
	SubmitConcurrency    int  `toml:"submit_concurrency"`
	DownloadConcurrency  int  `toml:"download_concurrency"`
	FingerprintHistory   int  `toml:"fingerprint_history"`
}

// RemoteService is an HTTP media service (render, speech or music).
type RemoteService struct {
	Endpoint          string  `toml:"endpoint"`
	ApiKeyEnv         string  `toml:"api_key_env"` // Environment variable holding the key; empty means ambient Google credentials.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Voice             string  `toml:"voice"`         // speech only
	DefaultTrack      string  `toml:"default_track"` // music only, a gs:// URI or local path
}

// Grade is the TOML form of an assembly color grade.
type Grade struct {
	Saturation float64 `toml:"saturation"`
	Contrast   float64 `toml:"contrast"`
	Brightness float64 `toml:"brightness"`
	Curves     string  `toml:"curves"`
	Grain      int     `toml:"grain"`
}

// Assembly configures the ffmpeg based assembly engine. Zero values fall
// back to the engine defaults.
type Assembly struct {
	FFmpegPath         string           `toml:"ffmpeg_path"`
	TimeoutSeconds     int              `toml:"timeout_seconds"` // Per ffmpeg invocation.
	ScratchDir         string           `toml:"scratch_dir"`
	Workers            int              `toml:"workers"`
	Width              int              `toml:"width"`
	Height             int              `toml:"height"`
	FPS                int              `toml:"fps"`
	CRF                int              `toml:"crf"`
	Preset             string           `toml:"preset"`
	TransitionSec      float64          `toml:"transition_sec"`
	DipSec             float64          `toml:"dip_sec"`
	NarrationOffsetSec float64          `toml:"narration_offset_sec"`
	NarrationGapSec    float64          `toml:"narration_gap_sec"`
	MusicHighVolume    float64          `toml:"music_high_volume"`
	MusicLowVolume     float64          `toml:"music_low_volume"`
	FinalFadeSec       float64          `toml:"final_fade_sec"`
	Grades             map[string]Grade `toml:"grades"` // keyed by act type
}

// QC configures the pre and post render checks.
type QC struct {
	CatalogPath               string  `toml:"catalog_path"` // Optional YAML file replacing the embedded catalog.
	MinOpeningSilenceSec      float64 `toml:"min_opening_silence_sec"`
	MaxSegmentWords           int     `toml:"max_segment_words"`
	NoveltyThreshold          float64 `toml:"novelty_threshold"`
	MaxConsecutiveSameAct     int     `toml:"max_consecutive_same_act"`
	MaxConsecutiveSameSetting int     `toml:"max_consecutive_same_setting"`
	MinDistinctMotifs         int     `toml:"min_distinct_motifs"`
	MinAvgBeatSec             float64 `toml:"min_avg_beat_sec"`
	DurationToleranceSec      float64 `toml:"duration_tolerance_sec"`
}

// Config is the root of the configuration tree.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		ThreadPoolSize            int    `toml:"thread_pool_size"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		LogFile                   string `toml:"log_file"`
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	Topics             Topics                       `toml:"topics"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`
	Orchestrator       Orchestrator                 `toml:"orchestrator"`
	Render             RemoteService                `toml:"render"`
	Speech             RemoteService                `toml:"speech"`
	Music              RemoteService                `toml:"music"`
	Assembly           Assembly                     `toml:"assembly"`
	QC                 QC                           `toml:"qc"`
}

// NewConfig creates a Config with its map sections initialised so the TOML
// decoder can populate them.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
		Assembly:           Assembly{Grades: make(map[string]Grade)},
	}
}
