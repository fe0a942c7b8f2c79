/*
Copyright 2026 The empo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package trainer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sotander/empo/pkg/rundir"
)

const (
	// RunIDEnv passes the run ID to the trainer process
	RunIDEnv = "EMPO_RUN_ID"
	// time the trainer gets to exit after it was interrupted
	stopGracePeriod = 30 * time.Second
)

// ExecTrainer runs the trainer as a child process
type ExecTrainer struct {
	command []string
	logger  logr.Logger
}

// NewExecTrainer creates a trainer running the given command line, the
// configuration file is passed to it with --config
func NewExecTrainer(command []string, logger logr.Logger) (*ExecTrainer, error) {
	if len(command) == 0 {
		return nil, errors.New("trainer command cannot be empty")
	}
	return &ExecTrainer{command: command, logger: logger}, nil
}

// Train writes the run configuration, starts the trainer and waits until the
// process exits and its output is drained
func (t *ExecTrainer) Train(ctx context.Context, req Request) (*Result, error) {
	configPath, err := WriteRunConfig(req.RunDir, NewRunConfig(req))
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, t.command[1:]...), "--config", configPath)
	cmd := exec.CommandContext(ctx, t.command[0], args...)
	cmd.Env = append(os.Environ(), RunIDEnv+"="+req.RunID)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer stderr: %w", err)
	}

	t.logger.Info("Starting trainer", "command", cmd.String(), "run", req.RunID)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start trainer: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go t.streamLines(&wg, stdout, "stdout")
	go t.streamLines(&wg, stderr, "stderr")
	// all reads must complete before Wait closes the pipes
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("trainer stopped: %w", errors.Join(ctx.Err(), err))
		}
		return nil, fmt.Errorf("trainer failed: %w", err)
	}
	t.logger.Info("Trainer finished", "run", req.RunID, "model", req.RunDir)

	checkpoints, err := rundir.Checkpoints(req.RunDir)
	if err != nil {
		return nil, err
	}
	return &Result{ModelDir: req.RunDir, Checkpoints: checkpoints}, nil
}

func (t *ExecTrainer) streamLines(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.Info("Trainer output", "stream", stream, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error(err, "failed to read trainer output", "stream", stream)
		// keep draining so that the trainer does not block on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}
