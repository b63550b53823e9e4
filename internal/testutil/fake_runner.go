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

package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FakeRunner stands in for ffmpeg. Probe invocations (an input and no
// output) answer with a diagnostic block like the real tool prints; every
// other invocation writes a small placeholder to its output path.
type FakeRunner struct {
	// Durations maps a file base name to the duration reported for it.
	Durations map[string]float64
	// DefaultDuration is reported for files not in Durations.
	DefaultDuration float64
	// Silent lists base names reported without an audio stream.
	Silent map[string]bool
	// FailWhen makes matching invocations fail.
	FailWhen func(args []string) bool

	mu    sync.Mutex
	calls [][]string
}

func NewFakeRunner(defaultDuration float64) *FakeRunner {
	return &FakeRunner{
		Durations:       make(map[string]float64),
		DefaultDuration: defaultDuration,
		Silent:          make(map[string]bool),
	}
}

func (f *FakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.FailWhen != nil && f.FailWhen(args) {
		return "Error while filtering: Invalid argument", errors.New("exit status 1")
	}
	if len(args) == 3 && args[1] == "-i" {
		return f.probeOutput(filepath.Base(args[2])), errors.New("exit status 1")
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("fake media"), 0o644); err != nil {
		return "", err
	}
	return "", nil
}

func (f *FakeRunner) probeOutput(name string) string {
	d, ok := f.Durations[name]
	if !ok {
		d = f.DefaultDuration
	}
	h := int(d) / 3600
	m := int(d) % 3600 / 60
	s := d - float64(h*3600+m*60)
	var b strings.Builder
	fmt.Fprintf(&b, "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from '%s':\n", name)
	fmt.Fprintf(&b, "  Duration: %02d:%02d:%05.2f, start: 0.000000, bitrate: 2410 kb/s\n", h, m, s)
	b.WriteString("  Stream #0:0(und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1280x720, 24 fps\n")
	if !f.Silent[name] {
		b.WriteString("  Stream #0:1(und): Audio: aac (LC) (mp4a / 0x6134706D), 48000 Hz, stereo, fltp\n")
	}
	b.WriteString("At least one output file must be specified\n")
	return b.String()
}

// Calls returns a copy of every invocation so far.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsContaining returns the invocations with an argument containing s.
func (f *FakeRunner) CallsContaining(s string) [][]string {
	out := make([][]string, 0)
	for _, c := range f.Calls() {
		for _, a := range c {
			if strings.Contains(a, s) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
