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

package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
)

// Stats is the body of GET /stats.
type Stats struct {
	Total  int64                 `json:"total"`
	Stages map[model.Stage]int64 `json:"stages"`
}

// Dashboard registers GET /stats, the number of runs in every stage.
// Stages without runs are reported as zero.
func Dashboard(r *gin.RouterGroup, store services.RunStore) {
	stats := r.Group("/stats")
	{
		stats.GET("", func(c *gin.Context) {
			counts, err := store.CountByStage(c.Request.Context())
			if err != nil {
				slog.Error("failed to count runs", "error", err)
				c.Status(http.StatusInternalServerError)
				return
			}
			out := Stats{Stages: make(map[model.Stage]int64)}
			for _, s := range model.AllStages() {
				out.Stages[s] = 0
			}
			for _, sc := range counts {
				out.Stages[sc.Stage] += sc.Count
				out.Total += sc.Count
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
