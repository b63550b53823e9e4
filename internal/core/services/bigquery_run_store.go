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

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"google.golang.org/api/iterator"
)

// BigQueryRunStore keeps runs, scenes and fingerprints in three BigQuery
// tables.
//
// Runs and scenes are written with DML statements rather than the streaming
// inserter, because rows in the streaming buffer cannot be updated and both
// tables are updated by the CAS statements. Fingerprints are append only and
// use the inserter.
type BigQueryRunStore struct {
	BigqueryClient    *bigquery.Client
	DatasetName       string
	RunsTable         string
	ScenesTable       string
	FingerprintsTable string
}

var _ RunStore = (*BigQueryRunStore)(nil)

// runRow is the column layout of the runs table.
type runRow struct {
	Id                 string    `bigquery:"id"`
	UserText           string    `bigquery:"user_text"`
	Stage              string    `bigquery:"stage"`
	LastCompletedStage string    `bigquery:"last_completed_stage"`
	Version            int64     `bigquery:"version"`
	Payload            string    `bigquery:"payload"`
	ArtifactURI        string    `bigquery:"artifact_uri"`
	ErrorMessage       string    `bigquery:"error_message"`
	FailedStage        int64     `bigquery:"failed_stage"`
	CreatedAt          time.Time `bigquery:"created_at"`
	UpdatedAt          time.Time `bigquery:"updated_at"`
}

// sceneRow is the column layout of the scenes table.
type sceneRow struct {
	RunId         string    `bigquery:"run_id"`
	BeatIndex     int64     `bigquery:"beat_index"`
	Prompt        string    `bigquery:"prompt"`
	DurationSec   int64     `bigquery:"duration_sec"`
	Status        string    `bigquery:"status"`
	JobId         string    `bigquery:"job_id"`
	Url           string    `bigquery:"url"`
	Error         string    `bigquery:"error"`
	SafetyRetried bool      `bigquery:"safety_retried"`
	Attempts      int64     `bigquery:"attempts"`
	UpdatedAt     time.Time `bigquery:"updated_at"`
}

func toSceneRow(s *model.SceneRecord) sceneRow {
	return sceneRow{
		RunId: s.RunId, BeatIndex: int64(s.BeatIndex), Prompt: s.Prompt, DurationSec: int64(s.DurationSec),
		Status: string(s.Status), JobId: s.JobId, Url: s.Url, Error: s.Error,
		SafetyRetried: s.SafetyRetried, Attempts: int64(s.Attempts), UpdatedAt: s.UpdatedAt,
	}
}

func (r sceneRow) toScene() *model.SceneRecord {
	return &model.SceneRecord{
		RunId: r.RunId, BeatIndex: int(r.BeatIndex), Prompt: r.Prompt, DurationSec: int(r.DurationSec),
		Status: model.RenderStatus(r.Status), JobId: r.JobId, Url: r.Url, Error: r.Error,
		SafetyRetried: r.SafetyRetried, Attempts: int(r.Attempts), UpdatedAt: r.UpdatedAt,
	}
}

func (s *BigQueryRunStore) fqn(table string) string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(table).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// exec runs a DML statement and returns the number of affected rows.
func (s *BigQueryRunStore) exec(ctx context.Context, sql string, params ...bigquery.QueryParameter) (int64, error) {
	q := s.BigqueryClient.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

func (s *BigQueryRunStore) read(ctx context.Context, sql string, params ...bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	q := s.BigqueryClient.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}

func param(name string, value interface{}) bigquery.QueryParameter {
	return bigquery.QueryParameter{Name: name, Value: value}
}

func (s *BigQueryRunStore) Create(ctx context.Context, run *model.FilmRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.Id, err)
	}
	_, err = s.exec(ctx, fmt.Sprintf(QryInsertRun, s.fqn(s.RunsTable)),
		param("id", run.Id),
		param("user_text", run.UserText),
		param("stage", string(run.Stage)),
		param("last_completed_stage", string(run.LastCompletedStage)),
		param("version", run.Version),
		param("payload", string(payload)),
		param("artifact_uri", run.ArtifactURI),
		param("error_message", run.ErrorMessage),
		param("failed_stage", int64(run.FailedStage)),
		param("created_at", run.CreatedAt),
		param("updated_at", run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.Id, err)
	}
	return nil
}

func (s *BigQueryRunStore) Get(ctx context.Context, id string) (*model.FilmRun, error) {
	itr, err := s.read(ctx, fmt.Sprintf(QryFindRunById, s.fqn(s.RunsTable)), param("id", id))
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	var row runRow
	err = itr.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return row.toRun()
}

// toRun decodes the payload and lets the scalar columns win, since the CAS
// statements update them without rewriting the payload.
func (r runRow) toRun() (*model.FilmRun, error) {
	run := &model.FilmRun{}
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", r.Id, err)
		}
	}
	run.Id = r.Id
	run.UserText = r.UserText
	run.Stage = model.Stage(r.Stage)
	run.LastCompletedStage = model.Stage(r.LastCompletedStage)
	run.Version = r.Version
	run.ArtifactURI = r.ArtifactURI
	run.ErrorMessage = r.ErrorMessage
	run.FailedStage = int(r.FailedStage)
	run.CreatedAt = r.CreatedAt
	run.UpdatedAt = r.UpdatedAt
	return run, nil
}

func (s *BigQueryRunStore) Transition(ctx context.Context, id string, from model.Stage, fromVersion int64, to model.Stage) (*model.FilmRun, error) {
	n, err := s.exec(ctx, fmt.Sprintf(QryTransitionRun, s.fqn(s.RunsTable)),
		param("id", id),
		param("from", string(from)),
		param("version", fromVersion),
		param("to", string(to)),
		param("now", time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition run %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("run %s is no longer %s at version %d: %w", id, from, fromVersion, model.ErrRunNotClaimable)
	}
	return s.Get(ctx, id)
}

func (s *BigQueryRunStore) Save(ctx context.Context, run *model.FilmRun) error {
	now := time.Now()
	saved := run.Clone()
	saved.Version = run.Version + 1
	saved.UpdatedAt = now
	payload, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.Id, err)
	}
	n, err := s.exec(ctx, fmt.Sprintf(QrySaveRun, s.fqn(s.RunsTable)),
		param("id", run.Id),
		param("version", run.Version),
		param("stage", string(run.Stage)),
		param("last_completed_stage", string(run.LastCompletedStage)),
		param("payload", string(payload)),
		param("artifact_uri", run.ArtifactURI),
		param("error_message", run.ErrorMessage),
		param("failed_stage", int64(run.FailedStage)),
		param("now", now),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.Id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s was written by another worker: %w", run.Id, model.ErrRunNotClaimable)
	}
	run.Version = saved.Version
	run.UpdatedAt = now
	return nil
}

func (s *BigQueryRunStore) Fail(ctx context.Context, id string, stage model.Stage, message string) error {
	n, err := s.exec(ctx, fmt.Sprintf(QryFailRun, s.fqn(s.RunsTable)),
		param("id", id),
		param("failed_stage", int64(stage.Number())),
		param("error_message", message),
		param("now", time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *BigQueryRunStore) CreateScenes(ctx context.Context, scenes []*model.SceneRecord) error {
	if len(scenes) == 0 {
		return nil
	}
	if _, err := s.exec(ctx, fmt.Sprintf(QryDeleteScenes, s.fqn(s.ScenesTable)), param("run_id", scenes[0].RunId)); err != nil {
		return fmt.Errorf("failed to clear scenes of run %s: %w", scenes[0].RunId, err)
	}
	rows := make([]sceneRow, len(scenes))
	for i, scene := range scenes {
		rows[i] = toSceneRow(scene)
	}
	if _, err := s.exec(ctx, fmt.Sprintf(QryInsertScenes, s.fqn(s.ScenesTable)), param("rows", rows)); err != nil {
		return fmt.Errorf("failed to insert %d scenes of run %s: %w", len(scenes), scenes[0].RunId, err)
	}
	return nil
}

func (s *BigQueryRunStore) ClaimScene(ctx context.Context, runId string, beatIndex int) (*model.SceneRecord, error) {
	n, err := s.exec(ctx, fmt.Sprintf(QryClaimScene, s.fqn(s.ScenesTable)),
		param("run_id", runId),
		param("beat_index", int64(beatIndex)),
		param("now", time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim scene %s/%d: %w", runId, beatIndex, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("scene %s/%d is not pending: %w", runId, beatIndex, model.ErrRunNotClaimable)
	}
	itr, err := s.read(ctx, fmt.Sprintf(QryFindScene, s.fqn(s.ScenesTable)),
		param("run_id", runId), param("beat_index", int64(beatIndex)))
	if err != nil {
		return nil, fmt.Errorf("failed to read scene %s/%d: %w", runId, beatIndex, err)
	}
	var row sceneRow
	if err := itr.Next(&row); err != nil {
		return nil, fmt.Errorf("failed to read scene %s/%d: %w", runId, beatIndex, err)
	}
	return row.toScene(), nil
}

func (s *BigQueryRunStore) SaveScene(ctx context.Context, scene *model.SceneRecord) error {
	row := toSceneRow(scene)
	_, err := s.exec(ctx, fmt.Sprintf(QrySaveScene, s.fqn(s.ScenesTable)),
		param("run_id", row.RunId),
		param("beat_index", row.BeatIndex),
		param("prompt", row.Prompt),
		param("duration_sec", row.DurationSec),
		param("status", row.Status),
		param("job_id", row.JobId),
		param("url", row.Url),
		param("error", row.Error),
		param("safety_retried", row.SafetyRetried),
		param("attempts", row.Attempts),
		param("now", time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save scene %s/%d: %w", scene.RunId, scene.BeatIndex, err)
	}
	return nil
}

func (s *BigQueryRunStore) ListScenes(ctx context.Context, runId string) ([]*model.SceneRecord, error) {
	itr, err := s.read(ctx, fmt.Sprintf(QryListScenes, s.fqn(s.ScenesTable)), param("run_id", runId))
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes of run %s: %w", runId, err)
	}
	out := make([]*model.SceneRecord, 0)
	for {
		var row sceneRow
		err := itr.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate scenes: %w", err)
		}
		out = append(out, row.toScene())
	}
	return out, nil
}

func (s *BigQueryRunStore) SaveFingerprint(ctx context.Context, fp *model.RunFingerprint) error {
	i := s.BigqueryClient.Dataset(s.DatasetName).Table(s.FingerprintsTable).Inserter()
	if err := i.Put(ctx, fp); err != nil {
		return fmt.Errorf("failed to persist fingerprint of run %s: %w", fp.RunId, err)
	}
	return nil
}

func (s *BigQueryRunStore) RecentFingerprints(ctx context.Context, limit int) ([]*model.RunFingerprint, error) {
	if limit <= 0 {
		limit = 50
	}
	itr, err := s.read(ctx, fmt.Sprintf(QryRecentFingerprints, s.fqn(s.FingerprintsTable)), param("limit", int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	out := make([]*model.RunFingerprint, 0)
	for {
		fp := &model.RunFingerprint{}
		err := itr.Next(fp)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate fingerprints: %w", err)
		}
		out = append(out, fp)
	}
	return out, nil
}

func (s *BigQueryRunStore) CountByStage(ctx context.Context) ([]model.StageCount, error) {
	itr, err := s.read(ctx, fmt.Sprintf(QryCountByStage, s.fqn(s.RunsTable)))
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	out := make([]model.StageCount, 0)
	for {
		var row struct {
			Stage string `bigquery:"stage"`
			Count int64  `bigquery:"count"`
		}
		err := itr.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate stage counts: %w", err)
		}
		out = append(out, model.StageCount{Stage: model.Stage(row.Stage), Count: row.Count})
	}
	return out, nil
}

func (s *BigQueryRunStore) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.FilmRun, error) {
	if limit <= 0 {
		limit = 100
	}
	itr, err := s.read(ctx, fmt.Sprintf(QryListStaleRuns, s.fqn(s.RunsTable)),
		param("before", updatedBefore), param("limit", int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale runs: %w", err)
	}
	out := make([]*model.FilmRun, 0)
	for {
		var row runRow
		err := itr.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate stale runs: %w", err)
		}
		run, err := row.toRun()
		if err != nil {
			return out, err
		}
		out = append(out, run)
	}
	return out, nil
}
