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

package model

import (
	"log/slog"
)

// Severity of a QC check. Soft checks are repaired in place, hard checks
// reject the plan.
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// QCCheck is the outcome of a single quality check.
type QCCheck struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message,omitempty"`
}

// QCFix records a repair made by a soft check.
type QCFix struct {
	Check  string `json:"check"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// QCSummary is the tally computed when the report is finalized.
type QCSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Soft   int `json:"soft_failures"`
	Hard   int `json:"hard_failures"`
	Fixes  int `json:"fixes"`
}

// QCReport is the append-only log of checks and fixes for one QC pass.
// Once Finalize has been called the report is frozen; later appends are
// dropped with a warning.
type QCReport struct {
	Checks       []QCCheck  `json:"checks"`
	FixesApplied []QCFix    `json:"fixes_applied"`
	Summary      *QCSummary `json:"summary,omitempty"`
	Finalized    bool       `json:"finalized"`
}

func NewQCReport() *QCReport {
	return &QCReport{
		Checks:       make([]QCCheck, 0),
		FixesApplied: make([]QCFix, 0),
	}
}

// AddCheck appends a check result.
func (r *QCReport) AddCheck(check QCCheck) {
	if r.Finalized {
		slog.Warn("qc report is finalized, dropping check", "check", check.ID)
		return
	}
	r.Checks = append(r.Checks, check)
}

// Pass is shorthand for a passing check.
func (r *QCReport) Pass(id string, category string, severity Severity) {
	r.AddCheck(QCCheck{ID: id, Category: category, Severity: severity, Passed: true})
}

// Fail is shorthand for a failing check.
func (r *QCReport) Fail(id string, category string, severity Severity, message string) {
	r.AddCheck(QCCheck{ID: id, Category: category, Severity: severity, Passed: false, Message: message})
}

// AddFix appends a repair record.
func (r *QCReport) AddFix(check string, before string, after string) {
	if r.Finalized {
		slog.Warn("qc report is finalized, dropping fix", "check", check)
		return
	}
	r.FixesApplied = append(r.FixesApplied, QCFix{Check: check, Before: before, After: after})
}

// Finalize computes the summary and freezes the report. Calling it twice
// returns the original summary.
func (r *QCReport) Finalize() *QCSummary {
	if r.Finalized {
		return r.Summary
	}
	s := &QCSummary{Total: len(r.Checks), Fixes: len(r.FixesApplied)}
	for _, c := range r.Checks {
		if c.Passed {
			s.Passed++
			continue
		}
		s.Failed++
		if c.Severity == SeverityHard {
			s.Hard++
		} else {
			s.Soft++
		}
	}
	r.Summary = s
	r.Finalized = true
	return s
}

// HardFailures returns the failed hard checks as violations.
func (r *QCReport) HardFailures() []QCViolation {
	out := make([]QCViolation, 0)
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == SeverityHard {
			out = append(out, QCViolation{CheckID: c.ID, Category: c.Category, Severity: c.Severity, Message: c.Message})
		}
	}
	return out
}
