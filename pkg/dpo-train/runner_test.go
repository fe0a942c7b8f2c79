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

package dpotrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sotander/empo/pkg/common"
	"github.com/sotander/empo/pkg/dataset"
	"github.com/sotander/empo/pkg/tokenizer"
	"github.com/sotander/empo/pkg/trainer"
)

// fakeOrchestrator records the requests and leaves checkpoints behind
type fakeOrchestrator struct {
	requests []trainer.Request
	err      error
}

func (o *fakeOrchestrator) Train(_ context.Context, req trainer.Request) (*trainer.Result, error) {
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	var checkpoints []string
	for _, name := range []string{"checkpoint-5", "checkpoint-10"} {
		path := filepath.Join(req.RunDir, name)
		if err := os.MkdirAll(filepath.Join(path, "optimizer"), 0o755); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, path)
	}
	if err := os.WriteFile(filepath.Join(req.RunDir, "adapter_config.json"), []byte("{}"), 0o644); err != nil {
		return nil, err
	}
	return &trainer.Result{ModelDir: req.RunDir, Checkpoints: checkpoints}, nil
}

func writeSplit(dir string, split dataset.Split, records []dataset.RawRecord) {
	var sb strings.Builder
	for _, rec := range records {
		data, err := json.Marshal(rec)
		Expect(err).NotTo(HaveOccurred())
		sb.Write(data)
		sb.WriteString("\n")
	}
	Expect(os.WriteFile(filepath.Join(dir, string(split)+".jsonl"), []byte(sb.String()), 0o644)).To(Succeed())
}

func shortRecords(n int) []dataset.RawRecord {
	records := make([]dataset.RawRecord, 0, n)
	for i := range n {
		records = append(records, dataset.RawRecord{
			Conversation: []dataset.Turn{
				{Role: dataset.RoleUser, Content: fmt.Sprintf("my cat %d is missing", i)},
			},
			Chosen:   "I am so sorry",
			Rejected: "cats wander",
		})
	}
	return records
}

func longRecord() dataset.RawRecord {
	return dataset.RawRecord{
		Prompt:   "tell me a story",
		Chosen:   strings.Repeat("word ", 1000),
		Rejected: "no",
	}
}

var _ = Describe("Runner", func() {
	var (
		baseDir      string
		dataDir      string
		config       *common.Configuration
		orchestrator *fakeOrchestrator
		lengths      *tokenizer.LengthCache
	)

	newRunner := func() *Runner {
		var o trainer.Orchestrator
		if orchestrator != nil {
			o = orchestrator
		}
		runner, err := NewRunner(config, &dataset.LocalSource{Dir: dataDir}, lengths, o, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		return runner
	}

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()
		dataDir = GinkgoT().TempDir()
		Expect(os.Mkdir(filepath.Join(baseDir, "adapterX"), 0o755)).To(Succeed())

		writeSplit(dataDir, dataset.SplitTrain, append(shortRecords(19), longRecord()))
		writeSplit(dataDir, dataset.SplitTest, append(shortRecords(3), longRecord()))

		config = &common.Configuration{
			BaseModel: common.DefaultBaseModel,
			Adapter:   "adapterX",
			BaseDir:   baseDir,
			NewName:   "newY",
			Training: common.TrainingParams{
				TestFrac:                1.0,
				PerDeviceTrainBatchSize: 1,
				PerDeviceEvalBatchSize:  1,
				LearningRate:            5e-7,
				Beta:                    0.1,
			},
			ReportTo: "none",
		}
		orchestrator = &fakeOrchestrator{}
		lengths = tokenizer.NewLengthCache(&tokenizer.WhitespaceTokenizer{}, 1000)
	})

	It("should prepare, train and clean up", func() {
		runDir, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(runDir).To(Equal(filepath.Join(baseDir, "adapterX_adapterX_newY0")))

		Expect(orchestrator.requests).To(HaveLen(1))
		req := orchestrator.requests[0]
		Expect(req.RunDir).To(Equal(runDir))
		Expect(req.AdapterDir).To(Equal(filepath.Join(baseDir, "adapterX")))
		Expect(req.BaseModel).To(Equal(common.DefaultBaseModel))
		Expect(req.TrainFile).To(Equal(filepath.Join(runDir, dataset.DataDirName, "train.jsonl")))
		Expect(req.TestFile).To(Equal(filepath.Join(runDir, dataset.DataDirName, "test.jsonl")))
		Expect(req.RunID).NotTo(BeEmpty())
		Expect(req.Budget.MaxLength % 2).To(BeZero())
		Expect(req.Budget.PromptLength % 2).To(BeZero())
		Expect(req.Budget.MaxLength).To(BeNumerically(">", req.Budget.PromptLength))
		Expect(req.Budget.MaxLength).To(BeNumerically("<", 1000))

		// the outliers do not fit the budget
		train, err := os.ReadFile(req.TrainFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(string(train), "\n")).To(Equal(19))
		Expect(string(train)).NotTo(ContainSubstring("word word"))
		test, err := os.ReadFile(req.TestFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(string(test), "\n")).To(Equal(3))

		for _, name := range []string{"preference.sqlite3", "README.md"} {
			Expect(filepath.Join(runDir, dataset.DataDirName, name)).To(BeAnExistingFile())
		}

		metrics, err := os.ReadFile(filepath.Join(runDir, MetricsFileName))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(metrics)).To(ContainSubstring(`empo_dataset_examples{split="train",stage="loaded"} 20`))
		Expect(string(metrics)).To(ContainSubstring(`empo_dataset_examples{split="train",stage="filtered"} 19`))
		Expect(string(metrics)).To(ContainSubstring(`empo_dataset_examples{split="test",stage="filtered"} 3`))
		Expect(string(metrics)).To(ContainSubstring(fmt.Sprintf(`empo_sequence_budget_tokens{kind="max"} %d`, req.Budget.MaxLength)))
		Expect(string(metrics)).To(ContainSubstring(fmt.Sprintf(`empo_run_info{adapter="adapterX",run_id="%s"} 1`, req.RunID)))

		// checkpoints are removed, the model stays
		entries, err := os.ReadDir(runDir)
		Expect(err).NotTo(HaveOccurred())
		for _, entry := range entries {
			Expect(entry.Name()).NotTo(HavePrefix("checkpoint-"))
		}
		Expect(filepath.Join(runDir, "adapter_config.json")).To(BeAnExistingFile())
	})

	It("should allocate a new directory for every run", func() {
		first, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		second, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveSuffix("adapterX_adapterX_newY0"))
		Expect(second).To(HaveSuffix("adapterX_adapterX_newY1"))
	})

	It("should subsample before filtering", func() {
		config.Training.TestFrac = 0.5
		_, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		train, err := os.ReadFile(orchestrator.requests[0].TrainFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(string(train), "\n")).To(Equal(10))
		test, err := os.ReadFile(orchestrator.requests[0].TestFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(string(test), "\n")).To(Equal(2))
	})

	It("should stop after preparation", func() {
		config.PrepareOnly = true
		orchestrator = nil
		runDir, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Join(runDir, dataset.DataDirName, "train.jsonl")).To(BeAnExistingFile())
		Expect(filepath.Join(runDir, trainer.RunConfigFileName)).NotTo(BeAnExistingFile())
	})

	It("should require a trainer unless preparing only", func() {
		_, err := NewRunner(config, &dataset.LocalSource{Dir: dataDir}, lengths, nil, logr.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("should fail when the adapter directory is missing", func() {
		config.Adapter = "missing"
		_, err := newRunner().Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("adapter directory not found")))
		Expect(orchestrator.requests).To(BeEmpty())
	})

	It("should fail on an empty train split", func() {
		writeSplit(dataDir, dataset.SplitTrain, nil)
		_, err := newRunner().Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("split of local directory")))
		Expect(orchestrator.requests).To(BeEmpty())
	})

	It("should fail when no train example is left", func() {
		config.Training.TestFrac = 0.01
		_, err := newRunner().Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("no train example fits")))
		Expect(orchestrator.requests).To(BeEmpty())
	})

	It("should release the run directory when preparation fails", func() {
		config.Training.TestFrac = 0.01
		_, err := newRunner().Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(filepath.Join(baseDir, "adapterX_adapterX_newY0")).NotTo(BeADirectory())

		config.Training.TestFrac = 1.0
		runDir, err := newRunner().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(runDir).To(Equal(filepath.Join(baseDir, "adapterX_adapterX_newY0")))
	})

	It("should fail when training fails", func() {
		orchestrator.err = errors.New("out of memory")
		_, err := newRunner().Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("out of memory")))
		// the trainer may have written logs, the directory is kept
		Expect(filepath.Join(baseDir, "adapterX_adapterX_newY0")).To(BeADirectory())
	})
})
