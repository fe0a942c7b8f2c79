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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/sotander/empo/pkg/common"
	"github.com/sotander/empo/pkg/dataset"
	dpotrain "github.com/sotander/empo/pkg/dpo-train"
	"github.com/sotander/empo/pkg/tokenizer"
	"github.com/sotander/empo/pkg/trainer"
)

func main() {
	os.Exit(run())
}

func run() int {
	// setup logger and context with graceful shutdown
	logger := klog.Background()
	ctx := klog.NewContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer klog.Flush()

	config, err := common.ParseCommandParams(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logger.Error(err, "invalid configuration")
		return 1
	}

	runner, err := newRunner(config, logger)
	if err != nil {
		logger.Error(err, "failed to create the DPO runner")
		return 1
	}

	logger.Info("Starting DPO run", "adapter", config.Adapter, "name", config.NewName, "base model", config.BaseModel)
	modelDir, err := runner.Run(ctx)
	if err != nil {
		logger.Error(err, "DPO run failed")
		return 1
	}
	logger.Info("DPO run finished", "path", modelDir)
	return 0
}

func newRunner(config *common.Configuration, logger logr.Logger) (*dpotrain.Runner, error) {
	tok, err := tokenizer.New(config.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	lengths := tokenizer.NewLengthCache(tok, 0)

	var source dataset.Source
	if config.HFRepo != "" {
		source = dataset.NewHFSource(config.HFRepo, config.HFRevision, config.DatasetCacheDir, config.HFToken, logger)
	} else {
		source = &dataset.LocalSource{Dir: config.DatasetPath}
	}

	var orchestrator trainer.Orchestrator
	if !config.PrepareOnly {
		if orchestrator, err = trainer.NewExecTrainer(config.TrainerArgs(), logger); err != nil {
			return nil, err
		}
	}
	return dpotrain.NewRunner(config, source, lengths, orchestrator, logger)
}
