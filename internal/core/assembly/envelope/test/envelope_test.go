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

package envelope_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly/envelope"
	"github.com/stretchr/testify/assert"
)

func TestValueAt(t *testing.T) {
	e := envelope.New(1).
		Ramp(10, 11, 1, 0).
		Ramp(11, 12, 0, 1)

	assert.Equal(t, 1.0, e.ValueAt(0))
	assert.InDelta(t, 0.5, e.ValueAt(10.5), 1e-9)
	assert.Equal(t, 0.0, e.ValueAt(11))
	assert.InDelta(t, 0.25, e.ValueAt(11.25), 1e-9)
	assert.Equal(t, 1.0, e.ValueAt(12.5))
}

func TestFirstRuleWins(t *testing.T) {
	e := envelope.New(0).Hold(0, 10, 0.2).Hold(5, 15, 0.8)
	assert.Equal(t, 0.2, e.ValueAt(7))
	assert.Equal(t, 0.8, e.ValueAt(12))
}

func TestCompile(t *testing.T) {
	assert.Equal(t, "1", envelope.New(1).Compile("T"))

	e := envelope.New(1).Hold(2, 3, 0.5)
	assert.Equal(t, "if(between(T,2,3),0.5,1)", e.Compile("T"))

	ramp := envelope.New(1).Ramp(10, 12, 1, 0)
	assert.Equal(t, "if(between(t,10,12),1+(-1)*(t-10)/2,1)", ramp.Compile("t"))

	nested := envelope.New(1).Hold(0, 1, 0).Hold(2, 3, 0.5)
	assert.Equal(t, "if(between(T,0,1),0,if(between(T,2,3),0.5,1))", nested.Compile("T"))
}

func TestProduct(t *testing.T) {
	a := envelope.New(0.5)
	b := envelope.New(1).Ramp(0, 10, 1, 0)
	p := envelope.Product{a, b}

	assert.InDelta(t, 0.25, p.ValueAt(5), 1e-9)
	assert.Equal(t, "(0.5)*(if(between(t,0,10),1+(-1)*(t-0)/10,1))", p.Compile("t"))
	assert.Equal(t, "1", envelope.Product{}.Compile("t"))
}
