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

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-short-film/internal/api"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queue struct {
	mu   sync.Mutex
	err  error
	runs []string
}

func (q *queue) Publish(_ context.Context, req model.FilmRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.runs = append(q.runs, req.RunId)
	return "msg-" + req.RunId, nil
}

type signer struct{ err error }

func (s signer) SignedURL(_ context.Context, gcsURI string, expires time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://signed.example/" + strings.TrimPrefix(gcsURI, "gs://") + "?ttl=" + expires.String(), nil
}

type server struct {
	store  *services.MemoryRunStore
	queue  *queue
	router *gin.Engine
}

func newServer(s api.URLSigner) *server {
	gin.SetMode(gin.TestMode)
	store := services.NewMemoryRunStore()
	q := &queue{}
	r := gin.New()
	v1 := r.Group("/api/v1")
	api.FilmRouter(v1, &api.FilmHandlers{
		Store:    store,
		Launcher: services.NewRunLauncher(store, q),
		Signer:   s,
	})
	api.Dashboard(v1, store)
	return &server{store: store, queue: q, router: r}
}

func (s *server) do(method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) storedRun(t *testing.T, stage model.Stage) *model.FilmRun {
	t.Helper()
	run := model.NewFilmRun("A lighthouse keeper retires.")
	run.Stage = stage
	require.NoError(t, s.store.Create(context.Background(), run))
	return run
}

func TestCreateFilm(t *testing.T) {
	s := newServer(nil)
	w := s.do(http.MethodPost, "/api/v1/films", `{"text": "  My father fixed radios.  "}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body["stage"])
	require.Len(t, s.queue.runs, 1)
	assert.Equal(t, body["run_id"], s.queue.runs[0])

	run, err := s.store.Get(context.Background(), body["run_id"])
	require.NoError(t, err)
	assert.Equal(t, "My father fixed radios.", run.UserText)
}

func TestCreateFilm_BadInput(t *testing.T) {
	s := newServer(nil)
	for _, body := range []string{``, `{}`, `{"text": "   "}`, `{"text": "` + strings.Repeat("a", services.MaxUserTextLength+1) + `"}`} {
		w := s.do(http.MethodPost, "/api/v1/films", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, s.queue.runs)
}

func TestCreateFilm_QueueDown(t *testing.T) {
	s := newServer(nil)
	s.queue.err = errors.New("pubsub unavailable")
	w := s.do(http.MethodPost, "/api/v1/films", `{"text": "The harbour at night."}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "run_id")
}

func TestGetFilm(t *testing.T) {
	s := newServer(nil)
	run := s.storedRun(t, model.StageGenerating)

	w := s.do(http.MethodGet, "/api/v1/films/"+run.Id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.FilmRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, run.Id, got.Id)
	assert.Equal(t, model.StageGenerating, got.Stage)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/films/missing", "").Code)
}

func TestFilmScenes(t *testing.T) {
	s := newServer(nil)
	run := s.storedRun(t, model.StageGenerating)
	require.NoError(t, s.store.CreateScenes(context.Background(), []*model.SceneRecord{
		{RunId: run.Id, BeatIndex: 1, Status: model.RenderProcessing, JobId: "job-1"},
		{RunId: run.Id, BeatIndex: 0, Status: model.RenderReady, Url: "gs://clips/0.mp4"},
	}))

	w := s.do(http.MethodGet, "/api/v1/films/"+run.Id+"/scenes", "")
	require.Equal(t, http.StatusOK, w.Code)
	var scenes []model.SceneRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scenes))
	require.Len(t, scenes, 2)
	assert.Equal(t, 0, scenes[0].BeatIndex)
	assert.Equal(t, model.RenderReady, scenes[0].Status)
}

func TestStreamFilm(t *testing.T) {
	s := newServer(signer{})
	pending := s.storedRun(t, model.StageAssembling)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodGet, "/api/v1/films/"+pending.Id+"/stream", "").Code)

	ready := model.NewFilmRun("x")
	ready.Stage = model.StageReady
	ready.ArtifactURI = "gs://films/films/" + ready.Id + ".mp4"
	require.NoError(t, s.store.Create(context.Background(), ready))

	w := s.do(http.MethodGet, "/api/v1/films/"+ready.Id+"/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://signed.example/films/films/"+ready.Id+".mp4?ttl=15m0s", body["url"])
	assert.EqualValues(t, 900, body["expires_in_sec"])
}

func TestStreamFilm_SignerFails(t *testing.T) {
	s := newServer(signer{err: errors.New("iam denied")})
	ready := model.NewFilmRun("x")
	ready.Stage = model.StageReady
	ready.ArtifactURI = "gs://films/x.mp4"
	require.NoError(t, s.store.Create(context.Background(), ready))

	assert.Equal(t, http.StatusInternalServerError, s.do(http.MethodGet, "/api/v1/films/"+ready.Id+"/stream", "").Code)
}

func TestResumeFilm(t *testing.T) {
	s := newServer(nil)
	failed := s.storedRun(t, model.StageFailed)
	ready := s.storedRun(t, model.StageReady)

	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/api/v1/films/"+failed.Id+"/resume", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/films/"+ready.Id+"/resume", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/films/nope/resume", "").Code)
	assert.Equal(t, []string{failed.Id}, s.queue.runs)
}

func TestStats(t *testing.T) {
	s := newServer(nil)
	s.storedRun(t, model.StageReady)
	s.storedRun(t, model.StageReady)
	s.storedRun(t, model.StageFailed)

	w := s.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats api.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Stages[model.StageReady])
	assert.EqualValues(t, 1, stats.Stages[model.StageFailed])
	assert.EqualValues(t, 0, stats.Stages[model.StagePending])
	assert.Len(t, stats.Stages, len(model.AllStages()))
}
