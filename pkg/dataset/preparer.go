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
	"fmt"

	"github.com/go-logr/logr"
	"github.com/sotander/empo/pkg/common/logging"
)

// Preparer loads the split files of a source and renders them into
// preference datasets
type Preparer struct {
	source   Source
	template ChatTemplate
	parser   *recordParser
	logger   logr.Logger
}

// NewPreparer creates a Preparer for the given source and chat template
func NewPreparer(source Source, template ChatTemplate, logger logr.Logger) (*Preparer, error) {
	parser, err := newRecordParser()
	if err != nil {
		return nil, err
	}
	return &Preparer{
		source:   source,
		template: template,
		parser:   parser,
		logger:   logger,
	}, nil
}

// Prepare loads the given split and renders every valid record. Records
// that fail validation are logged and skipped.
func (p *Preparer) Prepare(ctx context.Context, split Split) (*PreferenceDataset, error) {
	file, err := p.source.Load(ctx, split)
	if err != nil {
		p.logger.Error(err, "failed to load split", "split", split, "source", p.source.Description())
		return nil, err
	}

	records, recErrors, err := p.parser.parse(file.Name, file.Data)
	if err != nil {
		p.logger.Error(err, "failed to parse split", "split", split, "file", file.Name)
		return nil, err
	}
	for _, recErr := range recErrors {
		p.logger.Error(recErr.err, "Invalid preference record, skip it", "split", split, "index", recErr.index)
	}
	p.logger.Info("Loaded preference records", "split", split, "file", file.Name,
		"count", len(records), "skipped", len(recErrors))

	dataset := &PreferenceDataset{
		Split:    split,
		Examples: make([]PreferenceExample, 0, len(records)),
	}
	for i := range records {
		dataset.Examples = append(dataset.Examples, p.render(&records[i]))
	}
	if len(dataset.Examples) > 0 {
		p.logger.V(logging.TRACE).Info("First rendered example", "split", split, "prompt", dataset.Examples[0].Prompt)
	}
	return dataset, nil
}

// PrepareAll prepares the train and the test splits
func (p *Preparer) PrepareAll(ctx context.Context) (train *PreferenceDataset, test *PreferenceDataset, err error) {
	if train, err = p.Prepare(ctx, SplitTrain); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare the %s split: %w", SplitTrain, err)
	}
	if test, err = p.Prepare(ctx, SplitTest); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare the %s split: %w", SplitTest, err)
	}
	return train, test, nil
}

func (p *Preparer) render(rec *RawRecord) PreferenceExample {
	return PreferenceExample{
		Prompt:   p.template.RenderPrompt(rec.Turns()),
		Chosen:   p.template.RenderCompletion(rec.Chosen),
		Rejected: p.template.RenderCompletion(rec.Rejected),
	}
}
