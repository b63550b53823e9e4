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

// Package commands holds the steps of the film workflow. Each command is a
// cor.Command that reads what it needs from the chain context, records its
// failures with AddError and leaves its results under well known keys.
//
// The first command parses the trigger message. Pub/Sub delivers the raw
// message data as a string under cor.CtxIn; the command turns it into a
// model.FilmRequest for the claim step.
package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
)

// FilmTriggerReader parses a {"run_id": "..."} message.
type FilmTriggerReader struct {
	cor.BaseCommand
}

func NewFilmTriggerReader(name string) *FilmTriggerReader {
	return &FilmTriggerReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *FilmTriggerReader) Execute(context cor.Context) {
	var raw []byte
	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		raw = []byte(in)
	case []byte:
		raw = in
	default:
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("unexpected trigger payload %T", in))
		return
	}

	var req model.FilmRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to unmarshal film request: %w", err))
		return
	}
	req.RunId = strings.TrimSpace(req.RunId)
	if req.RunId == "" {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("film request without run_id"))
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(ParamRequest, &req)
	context.Add(c.GetOutputParam(), &req)
}
