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

// Package envelope models a time-varying gain as an ordered list of rules.
// The same rules can be evaluated in Go with ValueAt and compiled into a
// per-frame expression for the media tool with Compile, so the mixer and the
// tests agree on every value.
package envelope

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expr is anything that yields a value at time t and can be written as an
// expression over a time variable.
type Expr interface {
	ValueAt(t float64) float64
	Compile(variable string) string
}

// Rule holds a value or a linear ramp over the closed window [Start, End].
type Rule struct {
	Start float64
	End   float64
	From  float64
	To    float64
}

// Contains reports whether t falls inside the rule window.
func (r Rule) Contains(t float64) bool {
	return t >= r.Start && t <= r.End
}

func (r Rule) ValueAt(t float64) float64 {
	if r.From == r.To || r.End <= r.Start {
		return r.From
	}
	return r.From + (r.To-r.From)*(t-r.Start)/(r.End-r.Start)
}

func (r Rule) expression(variable string) string {
	if r.From == r.To || r.End <= r.Start {
		return num(r.From)
	}
	return fmt.Sprintf("%s+(%s)*(%s-%s)/%s", num(r.From), num(r.To-r.From), variable, num(r.Start), num(r.End-r.Start))
}

// Envelope evaluates its rules in order; the first rule containing t wins and
// Default applies everywhere else.
type Envelope struct {
	Rules   []Rule
	Default float64
}

func New(defaultValue float64) *Envelope {
	return &Envelope{Rules: make([]Rule, 0), Default: defaultValue}
}

// Hold keeps a constant value over a window.
func (e *Envelope) Hold(start float64, end float64, value float64) *Envelope {
	return e.Ramp(start, end, value, value)
}

// Ramp moves linearly from one value to another over a window. Empty
// windows are ignored.
func (e *Envelope) Ramp(start float64, end float64, from float64, to float64) *Envelope {
	if end < start {
		return e
	}
	e.Rules = append(e.Rules, Rule{Start: start, End: end, From: from, To: to})
	return e
}

func (e *Envelope) ValueAt(t float64) float64 {
	for _, r := range e.Rules {
		if r.Contains(t) {
			return r.ValueAt(t)
		}
	}
	return e.Default
}

// Compile writes the envelope as nested if(between(...)) expressions. The
// innermost branch is the default value.
func (e *Envelope) Compile(variable string) string {
	expr := num(e.Default)
	for i := len(e.Rules) - 1; i >= 0; i-- {
		r := e.Rules[i]
		expr = fmt.Sprintf("if(between(%s,%s,%s),%s,%s)", variable, num(r.Start), num(r.End), r.expression(variable), expr)
	}
	return expr
}

// Product multiplies several expressions.
type Product []Expr

func (p Product) ValueAt(t float64) float64 {
	v := 1.0
	for _, e := range p {
		v *= e.ValueAt(t)
	}
	return v
}

func (p Product) Compile(variable string) string {
	if len(p) == 0 {
		return "1"
	}
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = "(" + e.Compile(variable) + ")"
	}
	return strings.Join(parts, "*")
}

// num prints v with at most six decimals so float noise never reaches the
// filter graph.
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
