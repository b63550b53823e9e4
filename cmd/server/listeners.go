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

package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/workflow"
)

// filmRequestsListener is the [topic_subscriptions] entry the workflow
// listens on.
const filmRequestsListener = "FilmRequests"

// SetupListeners attaches the film workflow to the request subscription and
// starts receiving. Each process works on at most thread_pool_size requests
// at once.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, wf *workflow.FilmWorkflow) {
	listener, ok := cloudClients.PubSubListeners[filmRequestsListener]
	if !ok {
		slog.Warn("no film request subscription configured", "listener", filmRequestsListener)
		return
	}
	listener.SetCommand(wf)
	listener.SetMaxOutstanding(config.Application.ThreadPoolSize)
	listener.Listen(ctx)
}
