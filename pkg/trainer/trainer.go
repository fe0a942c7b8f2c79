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

// Package trainer hands a prepared DPO run over to the external training
// process and waits for it to finish.
package trainer

import (
	"context"

	"github.com/sotander/empo/pkg/common"
	"github.com/sotander/empo/pkg/dataset"
)

// Request describes a training run
type Request struct {
	RunID string
	// RunDir is the output directory of the run, checkpoints and the final
	// model are saved there
	RunDir string
	// BaseModel is the id of the base model the adapter was trained on
	BaseModel string
	// AdapterDir holds the adapter to continue from and its tokenizer
	AdapterDir string
	TrainFile  string
	TestFile   string
	Budget     dataset.SequenceBudget
	Params     common.TrainingParams
	ReportTo   string
}

// Result describes the output of a finished training run
type Result struct {
	// ModelDir is the directory the trained adapter was saved to
	ModelDir string
	// Checkpoints are the intermediate checkpoint directories left by the trainer
	Checkpoints []string
}

// Orchestrator runs DPO training. Train returns only after the training
// process released all its resources.
type Orchestrator interface {
	Train(ctx context.Context, req Request) (*Result, error)
}
