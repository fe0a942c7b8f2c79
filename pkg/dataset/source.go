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

package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// file extensions tried for every split, in order
var splitFileExtensions = []string{".jsonl", ".json"}

// SourceFile is the raw content of a split file
type SourceFile struct {
	// Name is the file name, its extension selects the format
	Name string
	Data []byte
}

// Source provides the raw split files of a preference dataset
type Source interface {
	// Load returns the file of the given split
	Load(ctx context.Context, split Split) (*SourceFile, error)
	// Description describes the source for logs and the dataset card
	Description() string
}

// LocalSource reads <split>.jsonl or <split>.json from a local directory
type LocalSource struct {
	Dir string
}

func (s *LocalSource) Load(_ context.Context, split Split) (*SourceFile, error) {
	for _, ext := range splitFileExtensions {
		fullPath := filepath.Join(s.Dir, string(split)+ext)
		data, err := loadLocalFile(fullPath)
		if err == nil {
			return &SourceFile{Name: fullPath, Data: data}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no %s split file (%s) in %s", split, strings.Join(splitFileExtensions, ", "), s.Dir)
}

func (s *LocalSource) Description() string {
	return "local directory " + s.Dir
}

// loadLocalFile loads file
func loadLocalFile(fullPath string) ([]byte, error) {
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("cannot read file %s", fullPath))
	}
	return data, nil
}

// HFSource downloads the split files from a HuggingFace dataset repository.
// Downloaded files are kept in the cache directory and reused.
type HFSource struct {
	Repo     string
	Revision string
	CacheDir string

	client *hfClient
	logger logr.Logger
}

// NewHFSource creates a HuggingFace source, token may be empty for public repositories
func NewHFSource(repo, revision, cacheDir, token string, logger logr.Logger) *HFSource {
	return &HFSource{
		Repo:     repo,
		Revision: revision,
		CacheDir: cacheDir,
		client:   newHFClient(defaultHFEndpoint, token, logger),
		logger:   logger,
	}
}

func (s *HFSource) Load(ctx context.Context, split Split) (*SourceFile, error) {
	for _, ext := range splitFileExtensions {
		file := string(split) + ext
		savePath := s.cachePath(file)

		_, err := os.Stat(savePath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to check cached file %s: %w", savePath, err)
		}
		if err != nil {
			// file is not cached, download it
			if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
			s.logger.Info("Downloading dataset file", "repo", s.Repo, "file", file, "to", savePath)
			err = s.client.downloadFile(ctx, s.Repo, s.Revision, file, savePath)
			if errors.Is(err, errFileNotFound) {
				s.logger.V(1).Info("Dataset file not found in repository", "repo", s.Repo, "file", file)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to download %s from %s: %w", file, s.Repo, err)
			}
		}
		s.logger.Info("Using dataset file", "path", savePath)

		data, err := loadLocalFile(savePath)
		if err != nil {
			return nil, err
		}
		return &SourceFile{Name: savePath, Data: data}, nil
	}
	return nil, fmt.Errorf("no %s split file (%s) in HuggingFace dataset %s", split,
		strings.Join(splitFileExtensions, ", "), s.Repo)
}

func (s *HFSource) Description() string {
	return "HuggingFace dataset " + s.Repo + "@" + s.Revision
}

func (s *HFSource) cachePath(file string) string {
	return filepath.Join(s.CacheDir, strings.ReplaceAll(s.Repo, "/", "--"), s.Revision, file)
}
