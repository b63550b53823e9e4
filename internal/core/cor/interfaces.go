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

// Package cor (Chain of Responsibility) provides the building blocks the
// film pipeline is made of: commands that each own one step, chains that run
// commands in order, and a context that carries the run state between them.
// The interfaces live here so stages, fakes and nested chains can be swapped
// freely.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys a BaseChain uses to pipe the output of one
// command into the input of the next.
const (
	CtxIn  = "__IN__"
	CtxOut = "__OUT__"
)

// Context is the shared state of one workflow execution. Implementations
// must be safe for use by the goroutines a command fans out to.
type Context interface {
	// SetContext replaces the Go context used for cancellation and tracing.
	SetContext(context context.Context)
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	// AddError records a failure under the name of the command that hit it.
	// The first recorded error is kept in order for FirstError.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
	// FirstError returns the earliest recorded error and its key.
	FirstError() (string, error)

	// AddTempFile and AddTempDir register paths removed by Close.
	AddTempFile(file string)
	AddTempDir(dir string)
	GetTempFiles() []string

	// Close removes every registered temporary path. Defer it right after
	// creating the context.
	Close()
}

// Executable is anything that can run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one named, instrumented step of a chain.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable is the precondition checked before Execute. A command that
	// is not executable is skipped without an error.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
	// GetDurationHistogram records how long Execute took, in seconds.
	GetDurationHistogram() metric.Float64Histogram
}

// Chain is a Command made of other commands.
type Chain interface {
	Command

	// ContinueOnFailure makes the chain run its remaining commands after one
	// of them records an error.
	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
}
