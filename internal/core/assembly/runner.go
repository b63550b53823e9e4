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

package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes the media tool as a blocking child process and returns its
// combined output. The output is returned even when the tool fails so callers
// can report it.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// DefaultFFmpegCommand assumes ffmpeg is on the PATH.
const DefaultFFmpegCommand = "ffmpeg"

// FFmpegRunner runs a local ffmpeg binary.
type FFmpegRunner struct {
	commandPath string
	timeout     time.Duration
}

// NewFFmpegRunner is the constructor for FFmpegRunner.
//
// Inputs:
//   - commandPath: The file system path to the ffmpeg executable. Empty
//     means "ffmpeg" from the PATH.
//   - timeout: The longest a single invocation may run. The process is
//     killed when it expires. Zero disables the limit.
//
// Outputs:
//   - *FFmpegRunner: A pointer to the newly instantiated runner.
func NewFFmpegRunner(commandPath string, timeout time.Duration) *FFmpegRunner {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = DefaultFFmpegCommand
	}
	return &FFmpegRunner{commandPath: commandPath, timeout: timeout}
}

func (r *FFmpegRunner) Run(ctx context.Context, args ...string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.commandPath, args...)
	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(out), fmt.Errorf("%s killed after %s: %w", r.commandPath, r.timeout, ctx.Err())
	}
	if err != nil {
		return string(out), fmt.Errorf("error running %s: %w", r.commandPath, err)
	}
	return string(out), nil
}

// MoveFile moves a file, copying it when a rename is not possible (for
// example across file systems).
func MoveFile(sourcePath, destPath string) error {
	if err := os.Rename(sourcePath, destPath); err == nil {
		return nil
	}

	inputFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("could not open source file: %w", err)
	}
	defer inputFile.Close()

	outputFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("could not open dest file: %w", err)
	}
	defer outputFile.Close()

	if _, err = io.Copy(outputFile, inputFile); err != nil {
		return fmt.Errorf("could not copy to dest from source: %w", err)
	}

	inputFile.Close()

	if err = os.Remove(sourcePath); err != nil {
		return fmt.Errorf("could not remove source file: %w", err)
	}
	return nil
}
