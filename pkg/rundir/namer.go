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

// Package rundir names, allocates and cleans up versioned run directories.
package rundir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

const defaultMaxAttempts = 100

// Namer computes run directory names of the form
// <base dir>/<adapter>_<adapter>_<new name><ordinal>
type Namer struct {
	// BaseDir is the results directory that is scanned for earlier runs
	BaseDir string
	// Adapter is the name of the adapter the run starts from
	Adapter string
	// NewName is the label of the run
	NewName string
}

// label is the run label without the ordinal
func (n Namer) label() string {
	return n.Adapter + "_" + n.NewName
}

// dirName returns the directory name of the run with the given ordinal. The
// adapter name appears twice, once for the adapter the run starts from and
// once as part of the run label.
func (n Namer) dirName(ordinal int) string {
	return n.Adapter + "_" + n.label() + strconv.Itoa(ordinal)
}

// Path returns the run directory path for the given ordinal
func (n Namer) Path(ordinal int) string {
	return filepath.Join(n.BaseDir, n.dirName(ordinal))
}

// NextOrdinal scans the base directory and returns one more than the largest
// ordinal found at the end of an entry named ...<adapter>_<new name><digits>,
// or 0 if there is none. A missing base directory has no entries.
func (n Namer) NextOrdinal() (int, error) {
	entries, err := os.ReadDir(n.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan run directories in %s: %w", n.BaseDir, err)
	}

	pattern := regexp.MustCompile(regexp.QuoteMeta(n.label()) + `(\d+)$`)
	next := 0
	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		ordinal, err := strconv.Atoi(match[1])
		if err != nil {
			// does not fit an int
			continue
		}
		if ordinal+1 > next {
			next = ordinal + 1
		}
	}
	return next, nil
}

// Next returns the path of the next run directory without creating it
func (n Namer) Next() (string, error) {
	ordinal, err := n.NextOrdinal()
	if err != nil {
		return "", err
	}
	return n.Path(ordinal), nil
}

// Allocate creates the next run directory and returns its path. The
// directory is created exclusively, if another run takes the scanned name
// first the next ordinal is tried.
func (n Namer) Allocate() (string, error) {
	return n.allocate(defaultMaxAttempts)
}

func (n Namer) allocate(maxAttempts int) (string, error) {
	if err := os.MkdirAll(n.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create base directory %s: %w", n.BaseDir, err)
	}
	ordinal, err := n.NextOrdinal()
	if err != nil {
		return "", err
	}
	return n.allocateFrom(ordinal, maxAttempts)
}

func (n Namer) allocateFrom(ordinal int, maxAttempts int) (string, error) {
	for range maxAttempts {
		path := n.Path(ordinal)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create run directory %s: %w", path, err)
		}
		ordinal++
	}
	return "", fmt.Errorf("failed to allocate a run directory for %s after %d attempts", n.label(), maxAttempts)
}
