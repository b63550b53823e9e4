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

package cor

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MeterName is the instrumentation scope every command registers under.
const MeterName = "github.com/jaycherian/gcp-go-short-film"

// BaseCommand carries the name, parameter keys and instruments shared by
// every pipeline step. Concrete commands embed it and implement Execute.
type BaseCommand struct {
	Name              string                  // Used for spans, metric names and stage attribution.
	InputParamName    string                  // Context key read by IsExecutable; defaults to CtxIn.
	OutputParamName   string                  // Context key the command writes; defaults to CtxOut.
	Tracer            trace.Tracer            // Tracer named after the command.
	Meter             metric.Meter            // Meter shared by all commands.
	SuccessCounter    metric.Int64Counter     // <name>.counter.success
	ErrorCounter      metric.Int64Counter     // <name>.counter.error
	DurationHistogram metric.Float64Histogram // <name>.histogram.duration, seconds
}

// NewBaseCommand creates a command with its tracer, counters and duration
// histogram registered on the global OpenTelemetry providers.
//
// Inputs:
//   - name: The command name, e.g. "blueprint" or "assemble".
//
// Outputs:
//   - *BaseCommand: The initialised command.
func NewBaseCommand(name string) *BaseCommand {
	meter := otel.Meter(MeterName)

	successCounter, err := meter.Int64Counter(fmt.Sprintf("%s.counter.success", name))
	if err != nil {
		slog.Warn("error creating success counter", "command", name, "error", err)
	}
	errorCounter, err := meter.Int64Counter(fmt.Sprintf("%s.counter.error", name))
	if err != nil {
		slog.Warn("error creating error counter", "command", name, "error", err)
	}
	duration, err := meter.Float64Histogram(
		fmt.Sprintf("%s.histogram.duration", name),
		metric.WithUnit("s"),
		metric.WithDescription(fmt.Sprintf("Execution time of %s", name)),
	)
	if err != nil {
		slog.Warn("error creating duration histogram", "command", name, "error", err)
	}

	return &BaseCommand{
		Name:              name,
		Tracer:            otel.Tracer(name),
		Meter:             meter,
		SuccessCounter:    successCounter,
		ErrorCounter:      errorCounter,
		DurationHistogram: duration,
	}
}

func (c *BaseCommand) GetName() string {
	return c.Name
}

// IsExecutable requires a live Go context and a value under the input key.
func (c *BaseCommand) IsExecutable(context Context) bool {
	return context != nil && context.Get(c.GetInputParam()) != nil && context.GetContext() != nil
}

func (c *BaseCommand) GetInputParam() string {
	if len(c.InputParamName) == 0 {
		return CtxIn
	}
	return c.InputParamName
}

func (c *BaseCommand) GetOutputParam() string {
	if len(c.OutputParamName) == 0 {
		return CtxOut
	}
	return c.OutputParamName
}

func (c *BaseCommand) GetTracer() trace.Tracer {
	return c.Tracer
}

func (c *BaseCommand) GetMeter() metric.Meter {
	return c.Meter
}

func (c *BaseCommand) GetSuccessCounter() metric.Int64Counter {
	return c.SuccessCounter
}

func (c *BaseCommand) GetErrorCounter() metric.Int64Counter {
	return c.ErrorCounter
}

func (c *BaseCommand) GetDurationHistogram() metric.Float64Histogram {
	return c.DurationHistogram
}
