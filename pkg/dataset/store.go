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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DataDirName is the run subdirectory holding the prepared datasets
	DataDirName = "data"
	dbFileName  = "preference.sqlite3"
	cardName    = "README.md"
	tableName   = "preference"
)

// Store writes prepared datasets into the data directory of a run
type Store struct {
	dir       string
	counter   LengthCounter
	sqlHelper *sqliteHelper
	logger    logr.Logger
}

// NewStore creates a Store writing to <runDir>/data
func NewStore(runDir string, counter LengthCounter, logger logr.Logger) (*Store, error) {
	dir := filepath.Join(runDir, DataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		dir:       dir,
		counter:   counter,
		sqlHelper: newSqliteHelper(tableName),
		logger:    logger,
	}, nil
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// SplitPath returns the path of the JSON lines file of the given split
func (s *Store) SplitPath(split Split) string {
	return filepath.Join(s.dir, string(split)+".jsonl")
}

// DBPath returns the path of the SQLite database
func (s *Store) DBPath() string {
	return filepath.Join(s.dir, dbFileName)
}

// CardPath returns the path of the dataset card
func (s *Store) CardPath() string {
	return filepath.Join(s.dir, cardName)
}

// StoreToJSONL writes the dataset as one JSON object per line, the format
// the trainer reads
func (s *Store) StoreToJSONL(ds *PreferenceDataset) (string, error) {
	filePath := s.SplitPath(ds.Split)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	s.logger.Info("Storing records to JSON lines", "file", filePath, "count", ds.Len())
	encoder := json.NewEncoder(file)
	for _, example := range ds.Examples {
		if err := encoder.Encode(example); err != nil {
			return "", fmt.Errorf("failed to encode record to JSON: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync file: %w", err)
	}
	return filePath, nil
}

// StoreToSQLite creates the database table and stores the examples of the
// given datasets with their token lengths
func (s *Store) StoreToSQLite(ctx context.Context, datasets ...*PreferenceDataset) error {
	dbPath := s.DBPath()
	s.logger.Info("Going to store records to DB", "path", dbPath)
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return errors.Join(err, fmt.Errorf("cannot open database %s", dbPath))
	}
	defer func() {
		_ = db.Close()
	}()

	// Verify connection with context
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, s.sqlHelper.getCreateTableQuery()); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.logger.Info("Table created successfully", "table", tableName)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, s.sqlHelper.getInsertQuery())
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	count := 0
	for _, ds := range datasets {
		for i, example := range ds.Examples {
			// Check for cancellation
			select {
			case <-ctx.Done():
				return fmt.Errorf("operation cancelled: %w", ctx.Err())
			default:
			}

			lens, err := exampleLengths(example, s.counter)
			if err != nil {
				return fmt.Errorf("failed to tokenize record %d of the %s split: %w", i, ds.Split, err)
			}
			if _, err := stmt.ExecContext(ctx, string(ds.Split), i, example.Prompt, example.Chosen, example.Rejected,
				lens.prompt, lens.chosen, lens.rejected); err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
			count++
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Info("Records stored successfully", "count", count)

	return nil
}

type sqliteHelper struct {
	tableName string
}

func newSqliteHelper(tableName string) *sqliteHelper {
	return &sqliteHelper{tableName: tableName}
}

func (h *sqliteHelper) getCreateTableQuery() string {
	return `CREATE TABLE IF NOT EXISTS ` + h.tableName + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		split TEXT NOT NULL,
		idx INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		chosen TEXT NOT NULL,
		rejected TEXT NOT NULL,
		n_prompt_tokens INTEGER NOT NULL,
		n_chosen_tokens INTEGER NOT NULL,
		n_rejected_tokens INTEGER NOT NULL
	);`
}

func (h *sqliteHelper) getInsertQuery() string {
	return `INSERT INTO ` + h.tableName + ` (split, idx, prompt, chosen, rejected,
		n_prompt_tokens, n_chosen_tokens, n_rejected_tokens) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`
}

func jsonIndent(v any) (string, error) {
	var sb strings.Builder
	encoder := json.NewEncoder(&sb)
	// keep the chat template tags readable
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
