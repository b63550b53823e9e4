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

// BigQuery statements of the run store. The %s verb is the fully qualified
// table name; values travel as named query parameters.
const (
	// QryInsertRun creates a run row. The plan data lives in the JSON payload
	// column; the scalar columns exist for filtering and the CAS.
	QryInsertRun = "INSERT INTO `%s` (id, user_text, stage, last_completed_stage, version, payload, artifact_uri, error_message, failed_stage, created_at, updated_at) " +
		"VALUES (@id, @user_text, @stage, @last_completed_stage, @version, @payload, @artifact_uri, @error_message, @failed_stage, @created_at, @updated_at)"

	QryFindRunById = "SELECT id, user_text, stage, last_completed_stage, version, payload, artifact_uri, error_message, failed_stage, created_at, updated_at FROM `%s` WHERE id = @id"

	// QryTransitionRun is the claim CAS. It matches zero rows when another
	// worker moved the run first.
	QryTransitionRun = "UPDATE `%s` SET stage = @to, version = version + 1, updated_at = @now WHERE id = @id AND stage = @from AND version = @version"

	// QrySaveRun writes the whole run when the version still matches.
	QrySaveRun = "UPDATE `%s` SET stage = @stage, last_completed_stage = @last_completed_stage, version = version + 1, payload = @payload, " +
		"artifact_uri = @artifact_uri, error_message = @error_message, failed_stage = @failed_stage, updated_at = @now WHERE id = @id AND version = @version"

	QryFailRun = "UPDATE `%s` SET stage = 'failed', failed_stage = @failed_stage, error_message = @error_message, version = version + 1, updated_at = @now WHERE id = @id"

	QryCountByStage = "SELECT stage, COUNT(*) AS count FROM `%s` GROUP BY stage"

	QryListStaleRuns = "SELECT id, user_text, stage, last_completed_stage, version, payload, artifact_uri, error_message, failed_stage, created_at, updated_at FROM `%s` " +
		"WHERE stage IN ('understanding', 'blueprint', 'generating', 'assembling') AND updated_at < @before ORDER BY updated_at LIMIT @limit"

	QryDeleteScenes = "DELETE FROM `%s` WHERE run_id = @run_id"

	// QryInsertScenes inserts a batch of scenes from an array of structs.
	QryInsertScenes = "INSERT INTO `%s` (run_id, beat_index, prompt, duration_sec, status, job_id, url, error, safety_retried, attempts, updated_at) " +
		"SELECT r.run_id, r.beat_index, r.prompt, r.duration_sec, r.status, r.job_id, r.url, r.error, r.safety_retried, r.attempts, r.updated_at FROM UNNEST(@rows) AS r"

	// QryClaimScene is the per scene CAS from pending to processing.
	QryClaimScene = "UPDATE `%s` SET status = 'processing', updated_at = @now WHERE run_id = @run_id AND beat_index = @beat_index AND status = 'pending'"

	QrySaveScene = "UPDATE `%s` SET prompt = @prompt, duration_sec = @duration_sec, status = @status, job_id = @job_id, url = @url, error = @error, " +
		"safety_retried = @safety_retried, attempts = @attempts, updated_at = @now WHERE run_id = @run_id AND beat_index = @beat_index"

	QryFindScene = "SELECT * FROM `%s` WHERE run_id = @run_id AND beat_index = @beat_index"

	QryListScenes = "SELECT * FROM `%s` WHERE run_id = @run_id ORDER BY beat_index"

	QryRecentFingerprints = "SELECT * FROM `%s` ORDER BY created_at DESC LIMIT @limit"
)
