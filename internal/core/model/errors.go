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

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotClaimable is returned when a run is not in a claimable stage or
	// another worker bumped its version first.
	ErrRunNotClaimable = errors.New("run is not claimable")
	// ErrRenderTimeout is returned when scenes are still pending after the
	// render wall-clock budget.
	ErrRenderTimeout = errors.New("render timed out with scenes still pending")
	// ErrNoScenesRendered is returned when every scene failed.
	ErrNoScenesRendered = errors.New("no scenes rendered")
	ErrNotFound         = errors.New("not found")
)

// Validation error codes.
const (
	CodeTotalDuration  = "total_duration"
	CodeBeatCount      = "beat_count"
	CodeBreathingCount = "breathing_count"
	CodeBeatDuration   = "beat_duration"
	CodeActIndex       = "act_index"
	CodeContiguity     = "contiguity"
	CodeSumOfDurations = "sum_of_durations"
)

// ValidationError is a timeline invariant violation. BeatIndex is -1 when the
// violation concerns the whole timeline.
type ValidationError struct {
	Code      string
	BeatIndex int
	Message   string
}

func (e *ValidationError) Error() string {
	if e.BeatIndex < 0 {
		return fmt.Sprintf("timeline %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("timeline %s at beat %d: %s", e.Code, e.BeatIndex, e.Message)
}

// QCViolation is a failed QC check.
type QCViolation struct {
	CheckID  string   `json:"check_id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (v QCViolation) Error() string {
	return fmt.Sprintf("qc %s %s/%s: %s", v.Severity, v.Category, v.CheckID, v.Message)
}

// ExternalJobError wraps a failure from a remote service. Transient errors are
// retried with backoff, safety rejections get one retry with a safe prompt.
type ExternalJobError struct {
	Service   string
	Transient bool
	Safety    bool
	Err       error
}

func (e *ExternalJobError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	} else if e.Safety {
		kind = "safety"
	}
	return fmt.Sprintf("%s %s failure: %v", e.Service, kind, e.Err)
}

func (e *ExternalJobError) Unwrap() error {
	return e.Err
}

// MaxToolOutput is how much of the media tool's diagnostic output is kept on
// an AssemblyError.
const MaxToolOutput = 2048

// AssemblyError is a fatal media assembly failure tagged with the step that
// failed.
type AssemblyError struct {
	Step   string
	Output string
	Err    error
}

// NewAssemblyError keeps only the tail of output.
func NewAssemblyError(step string, output string, err error) *AssemblyError {
	if len(output) > MaxToolOutput {
		output = output[len(output)-MaxToolOutput:]
	}
	return &AssemblyError{Step: step, Output: output, Err: err}
}

func (e *AssemblyError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("assembly step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("assembly step %s: %v: %s", e.Step, e.Err, e.Output)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}
