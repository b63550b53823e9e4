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
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PubSubListener feeds film requests from a subscription into a command.
//
// Logic Flow:
//  1. Listen starts a goroutine that blocks in Subscription.Receive.
//  2. Each message gets its own span and a fresh cor.Context with the raw
//     payload under cor.CtxIn.
//  3. The command (normally the film workflow) runs to completion.
//  4. The message is acked only when the context holds no errors. Otherwise
//     it is left to expire and Pub/Sub redelivers it.
//
// Messages are handled concurrently, up to MaxOutstandingMessages at once.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	command cor.Command,
) (cmd *PubSubListener, err error) {
	sub := pubsubClient.Subscription(subscriptionID)
	cmd = &PubSubListener{
		client:       pubsubClient,
		subscription: sub,
		command:      command,
	}
	return cmd, nil
}

// SetCommand attaches the command once; later calls are ignored.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// SetMaxOutstanding bounds how many requests this process works on at once.
func (m *PubSubListener) SetMaxOutstanding(n int) {
	if n > 0 {
		m.subscription.ReceiveSettings.MaxOutstandingMessages = n
	}
}

func (m *PubSubListener) Listen(ctx context.Context) {
	slog.Info("listening", "subscription", m.subscription.String())

	go func() {
		tracer := otel.Tracer("film-request-listener")

		err := m.subscription.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(msgCtx, "receive-film-request")
			defer span.End()
			span.SetAttributes(attribute.String("msg", string(msg.Data)))

			chainCtx := cor.NewBaseContext()
			defer chainCtx.Close()
			chainCtx.SetContext(spanCtx)
			chainCtx.Add(cor.CtxIn, string(msg.Data))

			m.command.Execute(chainCtx)

			if !chainCtx.HasErrors() {
				span.SetStatus(codes.Ok, "success")
				msg.Ack()
				return
			}
			span.SetStatus(codes.Error, "failed")
			for name, e := range chainCtx.GetErrors() {
				slog.Error("error executing film workflow", "command", name, "error", e)
			}
		})
		if err != nil {
			slog.Error("error receiving film requests", "error", err)
		}
	}()
}

// PubSubPublisher publishes film requests to the topic the listener's
// subscription is attached to.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(pubsubClient *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: pubsubClient.Topic(topicID)}
}

// Publish sends a request and waits for the server id.
func (p *PubSubPublisher) Publish(ctx context.Context, req model.FilmRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal film request: %w", err)
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish film request %s: %w", req.RunId, err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
