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

package rundir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckpointPrefix is the name prefix of intermediate checkpoint directories
// the trainer writes into the run directory
const CheckpointPrefix = "checkpoint-"

// Checkpoints returns the checkpoint directories of the given run directory
func Checkpoints(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list run directory %s: %w", runDir, err)
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), CheckpointPrefix) {
			result = append(result, filepath.Join(runDir, entry.Name()))
		}
	}
	return result, nil
}

// RemoveCheckpoints deletes all checkpoint directories of the given run
// directory and returns the removed paths. The first failure stops the
// removal and is returned.
func RemoveCheckpoints(runDir string) ([]string, error) {
	checkpoints, err := Checkpoints(runDir)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(checkpoints))
	for _, dir := range checkpoints {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove checkpoint %s: %w", dir, err)
		}
		removed = append(removed, dir)
	}
	return removed, nil
}
