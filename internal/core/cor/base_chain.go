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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// BaseChain runs its commands in order and is itself a Command, so chains
// nest.
//
// Logic Flow:
//  1. A span is opened for the chain and a child span for every command.
//  2. Once the context holds an error the remaining commands are skipped,
//     unless ContinueOnFailure(true) was set.
//  3. Each executable command runs with its span's Go context installed. A
//     panic inside a command is recovered and recorded as that command's
//     error.
//  4. Start, end and failure are logged with the elapsed time, and the
//     command's duration histogram is updated.
//  5. Whatever the command left under CtxOut becomes CtxIn for the next one.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// IsExecutable only needs a Go context; chains read their inputs through
// their commands.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()

	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()

	for _, command := range c.commands {
		commandContext, commandSpan := c.Tracer.Start(outerCtx, command.GetName())

		if chCtx.HasErrors() && !c.continueOnFailure {
			commandSpan.SetStatus(codes.Error, "previous error on chain; skipping execution")
			commandSpan.End()
			break
		}

		if command.IsExecutable(chCtx) {
			chCtx.SetContext(commandContext)
			c.run(chCtx, command)
			chCtx.SetContext(outerCtx)
		} else {
			slog.Debug("command skipped, not executable", "chain", c.GetName(), "command", command.GetName())
			commandSpan.SetStatus(codes.Error, fmt.Sprintf("command not executable: %s", command.GetName()))
		}

		if chCtx.HasErrors() {
			commandSpan.SetStatus(codes.Error, "error during or after command execution")
		} else {
			commandSpan.SetStatus(codes.Ok, "command completed successfully")
		}
		commandSpan.End()

		outputValue := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if outputValue != nil {
			chCtx.Add(CtxIn, outputValue)
		}
		chCtx.Remove(CtxOut)
	}

	if !chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Ok, "chain completed successfully")
	} else {
		chainSpan.SetStatus(codes.Error, "chain failed to execute")
	}
}

// run executes one command with timing and panic recovery.
func (c *BaseChain) run(chCtx Context, command Command) {
	name := command.GetName()
	hadErrors := len(chCtx.GetErrors())
	start := time.Now()
	slog.Info("command started", "chain", c.GetName(), "command", name)

	defer func() {
		if r := recover(); r != nil {
			chCtx.AddError(name, fmt.Errorf("command %s panicked: %v", name, r))
		}
		elapsed := time.Since(start)
		failed := len(chCtx.GetErrors()) > hadErrors
		if failed {
			slog.Error("command failed", "chain", c.GetName(), "command", name, "elapsed", elapsed)
		} else {
			slog.Info("command finished", "chain", c.GetName(), "command", name, "elapsed", elapsed)
		}
		observe(chCtx, command, elapsed, failed)
	}()

	command.Execute(chCtx)
}

// observe records the duration histogram. Instrumentation problems are
// logged and never fail the command.
func observe(chCtx Context, command Command, elapsed time.Duration, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failed to record command duration", "command", command.GetName(), "panic", r)
		}
	}()
	h := command.GetDurationHistogram()
	if h == nil {
		return
	}
	h.Record(chCtx.GetContext(), elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("failed", failed)))
}
