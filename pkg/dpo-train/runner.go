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

// Package dpotrain runs a DPO round: it prepares the preference datasets of
// a new run directory, hands them to the trainer and cleans up after it.
package dpotrain

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sotander/empo/pkg/common"
	"github.com/sotander/empo/pkg/common/logging"
	"github.com/sotander/empo/pkg/dataset"
	"github.com/sotander/empo/pkg/rundir"
	"github.com/sotander/empo/pkg/tokenizer"
	"github.com/sotander/empo/pkg/trainer"
)

// Runner runs the DPO pipeline for one configuration
type Runner struct {
	config       *common.Configuration
	source       dataset.Source
	template     dataset.ChatTemplate
	lengths      *tokenizer.LengthCache
	orchestrator trainer.Orchestrator
	logger       logr.Logger
}

// NewRunner creates a runner. The orchestrator may be nil when the
// configuration only prepares the datasets.
func NewRunner(config *common.Configuration, source dataset.Source, lengths *tokenizer.LengthCache,
	orchestrator trainer.Orchestrator, logger logr.Logger) (*Runner, error) {
	if orchestrator == nil && !config.PrepareOnly {
		return nil, errors.New("a trainer is required unless the run only prepares the datasets")
	}
	return &Runner{
		config:       config,
		source:       source,
		template:     dataset.DefaultChatTemplate(),
		lengths:      lengths,
		orchestrator: orchestrator,
		logger:       logger,
	}, nil
}

// preparedRun is the output of the preparation stages
type preparedRun struct {
	runID     string
	runDir    string
	trainFile string
	testFile  string
	budget    dataset.SequenceBudget
}

// Run allocates a new run directory, prepares the datasets, trains and
// removes the intermediate checkpoints. Returns the directory holding the
// trained adapter.
func (r *Runner) Run(ctx context.Context) (string, error) {
	adapterDir := r.config.AdapterDir()
	info, err := os.Stat(adapterDir)
	if err != nil {
		return "", fmt.Errorf("adapter directory not found: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("adapter path %s is not a directory", adapterDir)
	}

	namer := rundir.Namer{BaseDir: r.config.BaseDir, Adapter: r.config.Adapter, NewName: r.config.NewName}
	runDir, err := namer.Allocate()
	if err != nil {
		return "", err
	}
	run := &preparedRun{runID: uuid.NewString(), runDir: runDir}
	logger := r.logger.WithValues("run", run.runID)
	logger.Info("Allocated run directory", "path", runDir)

	if err := r.prepare(ctx, run, logger); err != nil {
		// a run that never reached the trainer does not keep its ordinal
		if rerr := os.RemoveAll(runDir); rerr != nil {
			return "", errors.Join(err, fmt.Errorf("failed to remove run directory %s: %w", runDir, rerr))
		}
		logger.Info("Removed run directory of the failed run", "path", runDir)
		return "", err
	}
	if r.config.PrepareOnly {
		logger.Info("Datasets prepared, skipping training", "path", runDir)
		return runDir, nil
	}

	result, err := r.orchestrator.Train(ctx, trainer.Request{
		RunID:      run.runID,
		RunDir:     runDir,
		BaseModel:  r.config.BaseModel,
		AdapterDir: adapterDir,
		TrainFile:  run.trainFile,
		TestFile:   run.testFile,
		Budget:     run.budget,
		Params:     r.config.Training,
		ReportTo:   r.config.ReportTo,
	})
	if err != nil {
		return "", fmt.Errorf("training failed: %w", err)
	}
	logger.Info("Saved DPO adapter", "path", result.ModelDir, "checkpoints", len(result.Checkpoints))

	removed, err := rundir.RemoveCheckpoints(runDir)
	if err != nil {
		return "", err
	}
	logger.V(logging.DEBUG).Info("Removed checkpoints", "paths", removed)
	return result.ModelDir, nil
}

// prepare loads, budgets, subsamples, filters and stores the datasets
func (r *Runner) prepare(ctx context.Context, run *preparedRun, logger logr.Logger) error {
	preparer, err := dataset.NewPreparer(r.source, r.template, logger)
	if err != nil {
		return err
	}
	train, test, err := preparer.PrepareAll(ctx)
	if err != nil {
		return err
	}
	if train.Len() == 0 {
		return fmt.Errorf("the %s split of %s is empty", dataset.SplitTrain, r.source.Description())
	}

	// the budget comes from the whole train split, before subsampling and filtering
	percentiles, err := dataset.ComputeLengthPercentiles(train, r.lengths)
	if err != nil {
		return err
	}
	run.budget = percentiles.Budget()
	logger.Info("Computed sequence budget", "prompt length", run.budget.PromptLength,
		"max length", run.budget.MaxLength, "filter length", percentiles.MaxLength())

	var counts []dataset.SplitCounts
	var filtered []*dataset.PreferenceDataset
	for _, ds := range []*dataset.PreferenceDataset{train, test} {
		subsampled := dataset.Subsample(ds, r.config.Training.TestFrac)
		kept, err := dataset.Filter(subsampled, percentiles.MaxLength(), r.lengths)
		if err != nil {
			return err
		}
		counts = append(counts, dataset.SplitCounts{
			Split:      ds.Split,
			Loaded:     ds.Len(),
			Subsampled: subsampled.Len(),
			Filtered:   kept.Len(),
		})
		filtered = append(filtered, kept)
		logger.Info("Filtered split", "split", ds.Split, "loaded", ds.Len(),
			"subsampled", subsampled.Len(), "kept", kept.Len())
	}
	train, test = filtered[0], filtered[1]
	if train.Len() == 0 {
		return fmt.Errorf("no %s example fits the max length of %d tokens", dataset.SplitTrain, percentiles.MaxLength())
	}

	if err := r.store(ctx, run, train, test, percentiles, counts, logger); err != nil {
		return err
	}

	metrics, err := newRunMetrics()
	if err != nil {
		return err
	}
	metrics.setCounts(counts)
	metrics.setBudget(run.budget)
	metrics.setRunInfo(run.runID, r.config.Adapter)
	metricsPath, err := metrics.write(run.runDir)
	if err != nil {
		return err
	}
	logger.V(logging.DEBUG).Info("Wrote run metrics", "path", metricsPath)

	hits, misses := r.lengths.Stats()
	logger.V(logging.DEBUG).Info("Token length cache", "hits", hits, "misses", misses, "size", r.lengths.Size())
	return nil
}

func (r *Runner) store(ctx context.Context, run *preparedRun, train, test *dataset.PreferenceDataset,
	percentiles dataset.LengthPercentiles, counts []dataset.SplitCounts, logger logr.Logger) error {
	store, err := dataset.NewStore(run.runDir, r.lengths, logger)
	if err != nil {
		return err
	}
	if run.trainFile, err = store.StoreToJSONL(train); err != nil {
		return err
	}
	if run.testFile, err = store.StoreToJSONL(test); err != nil {
		return err
	}
	if err := store.StoreToSQLite(ctx, train, test); err != nil {
		return err
	}

	var stats []dataset.SplitStats
	for _, ds := range []*dataset.PreferenceDataset{train, test} {
		splitStats, err := dataset.ComputeSplitStats(ds, r.lengths)
		if err != nil {
			return err
		}
		stats = append(stats, splitStats)
	}
	cardPath, err := store.WriteCard(dataset.CardInfo{
		Source:      r.source.Description(),
		Tokenizer:   r.lengths.Tokenizer().Name(),
		Template:    r.template.Name(),
		Percentiles: percentiles,
		Counts:      counts,
		Stats:       stats,
		Example:     &train.Examples[0],
	})
	if err != nil {
		return err
	}
	logger.Info("Stored prepared datasets", "path", store.Dir(), "card", cardPath)
	return nil
}
