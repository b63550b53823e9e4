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

// Package api holds the HTTP routes of the film service. Handlers only
// validate input and translate errors; the work is done by the run launcher
// and the workflow behind it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// DefaultSignedURLTTL is how long a stream URL stays valid.
const DefaultSignedURLTTL = 15 * time.Minute

// URLSigner turns a stored film URI into a URL a browser can play.
type URLSigner interface {
	SignedURL(ctx context.Context, gcsURI string, expires time.Duration) (string, error)
}

// FilmHandlers serves the /films routes.
type FilmHandlers struct {
	Store        services.RunStore
	Launcher     *services.RunLauncher
	Signer       URLSigner // optional, gs:// films cannot be streamed without it
	SignedURLTTL time.Duration
}

// filmRequest is the body of POST /films.
type filmRequest struct {
	Text string `json:"text" binding:"required"`
}

// filmAccepted is returned when a run is queued.
type filmAccepted struct {
	RunId string      `json:"run_id"`
	Stage model.Stage `json:"stage"`
}

// FilmRouter registers:
//
//	POST /films              start a film from {"text": "..."}
//	GET  /films/:id          the run
//	GET  /films/:id/scenes   the render jobs of the run
//	GET  /films/:id/stream   a playable URL of the finished film
//	POST /films/:id/resume   queue a failed or abandoned run again
func FilmRouter(r *gin.RouterGroup, h *FilmHandlers) {
	films := r.Group("/films")
	{
		films.POST("", h.create)
		films.GET("/:id", h.get)
		films.GET("/:id/scenes", h.scenes)
		films.GET("/:id/stream", h.stream)
		films.POST("/:id/resume", h.resume)
	}
}

func (h *FilmHandlers) create(c *gin.Context) {
	var req filmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"text\": \"...\"}"})
		return
	}
	run, err := h.Launcher.Start(c.Request.Context(), req.Text)
	switch {
	case errors.Is(err, services.ErrEmptyText), errors.Is(err, services.ErrTextTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil && run != nil:
		// the run exists and can be resumed once the queue is back
		slog.Error("film created but not queued", "run_id", run.Id, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "film could not be queued", "run_id": run.Id})
		return
	case err != nil:
		slog.Error("failed to create film", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "film could not be created"})
		return
	}
	c.JSON(http.StatusAccepted, filmAccepted{RunId: run.Id, Stage: run.Stage})
}

func (h *FilmHandlers) get(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *FilmHandlers) scenes(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	scenes, err := h.Store.ListScenes(c.Request.Context(), run.Id)
	if err != nil {
		slog.Error("failed to list scenes", "run_id", run.Id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, scenes)
}

func (h *FilmHandlers) stream(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	if run.Stage != model.StageReady || run.ArtifactURI == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "film is not ready", "stage": run.Stage})
		return
	}
	if !cloud.IsGCSURI(run.ArtifactURI) {
		c.JSON(http.StatusOK, gin.H{"url": run.ArtifactURI})
		return
	}
	if h.Signer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "streaming is not configured"})
		return
	}
	ttl := h.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	url, err := h.Signer.SignedURL(c.Request.Context(), run.ArtifactURI, ttl)
	if err != nil {
		slog.Error("failed to sign film url", "run_id", run.Id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate streaming URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in_sec": int(ttl.Seconds())})
}

func (h *FilmHandlers) resume(c *gin.Context) {
	run, err := h.Launcher.Resume(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "film not found"})
	case errors.Is(err, services.ErrAlreadyReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		slog.Error("failed to resume film", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "film could not be queued"})
	default:
		c.JSON(http.StatusAccepted, filmAccepted{RunId: run.Id, Stage: run.Stage})
	}
}

// load fetches the run named by :id, answering 404 or 500 itself.
func (h *FilmHandlers) load(c *gin.Context) (*model.FilmRun, bool) {
	run, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "film not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load film", "run_id", c.Param("id"), "error", err)
		c.Status(http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}
