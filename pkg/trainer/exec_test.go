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
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/sotander/empo/pkg/common"
	"github.com/sotander/empo/pkg/dataset"
)

const fakeTrainer = `#!/bin/sh
echo "training $EMPO_RUN_ID"
echo "loading model" >&2
[ "$1" = "--config" ] || exit 2
dir=$(dirname "$2")
mkdir -p "$dir/checkpoint-10" "$dir/checkpoint-20"
touch "$dir/adapter_model.safetensors"
`

var _ = Describe("Exec trainer", func() {
	var (
		runDir string
		req    Request
	)

	writeScript := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "train.sh")
		Expect(os.WriteFile(path, []byte(content), 0o755)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		runDir = GinkgoT().TempDir()
		req = Request{
			RunID:      "run-1",
			RunDir:     runDir,
			BaseModel:  common.DefaultBaseModel,
			AdapterDir: "/results/adapterX",
			TrainFile:  filepath.Join(runDir, "data", "train.jsonl"),
			TestFile:   filepath.Join(runDir, "data", "test.jsonl"),
			Budget:     dataset.SequenceBudget{PromptLength: 128, MaxLength: 256},
			Params: common.TrainingParams{
				TestFrac:                1.0,
				PerDeviceTrainBatchSize: 2,
				PerDeviceEvalBatchSize:  4,
				LearningRate:            5e-7,
				Beta:                    0.1,
			},
			ReportTo: "none",
		}
	})

	It("should reject an empty command", func() {
		_, err := NewExecTrainer(nil, logr.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("should run the trainer with the run configuration", func() {
		var (
			mu    sync.Mutex
			lines []string
		)
		logger := funcr.New(func(_, args string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, args)
		}, funcr.Options{})

		trainer, err := NewExecTrainer([]string{"/bin/sh", writeScript(fakeTrainer)}, logger)
		Expect(err).NotTo(HaveOccurred())

		result, err := trainer.Train(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ModelDir).To(Equal(runDir))
		Expect(result.Checkpoints).To(ConsistOf(
			filepath.Join(runDir, "checkpoint-10"),
			filepath.Join(runDir, "checkpoint-20"),
		))

		mu.Lock()
		output := strings.Join(lines, "\n")
		mu.Unlock()
		Expect(output).To(ContainSubstring(`"line"="training run-1"`))
		Expect(output).To(ContainSubstring(`"line"="loading model"`))

		data, err := os.ReadFile(filepath.Join(runDir, RunConfigFileName))
		Expect(err).NotTo(HaveOccurred())
		var cfg RunConfig
		Expect(yaml.Unmarshal(data, &cfg)).To(Succeed())
		Expect(cfg).To(Equal(NewRunConfig(req)))
	})

	It("should fail when the trainer fails", func() {
		trainer, err := NewExecTrainer([]string{"/bin/sh", writeScript("#!/bin/sh\nexit 3\n")}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		_, err = trainer.Train(context.Background(), req)
		Expect(err).To(MatchError(ContainSubstring("trainer failed")))
	})

	It("should fail when the trainer cannot be started", func() {
		trainer, err := NewExecTrainer([]string{filepath.Join(runDir, "missing")}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		_, err = trainer.Train(context.Background(), req)
		Expect(err).To(MatchError(ContainSubstring("failed to start trainer")))
	})

	It("should stop the trainer when the context is cancelled", func() {
		trainer, err := NewExecTrainer([]string{"/bin/sh", writeScript("#!/bin/sh\nexec sleep 30\n")}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err = trainer.Train(ctx, req)
		Expect(err).To(MatchError(ContainSubstring("trainer stopped")))
		Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))
	})
})

var _ = Describe("Run configuration", func() {
	It("should combine the request with the fixed arguments", func() {
		cfg := NewRunConfig(Request{
			RunID:      "id",
			RunDir:     "/results/a_a_b0",
			BaseModel:  "base",
			AdapterDir: "/results/a",
			Budget:     dataset.SequenceBudget{PromptLength: 10, MaxLength: 20},
			Params:     common.TrainingParams{PerDeviceTrainBatchSize: 1, PerDeviceEvalBatchSize: 1, LearningRate: 1e-6, Beta: 0.2},
			ReportTo:   "wandb",
		})
		Expect(cfg.Model.PretrainedModelNameOrPath).To(Equal("base"))
		Expect(cfg.Model.AttnImplementation).To(Equal("flash_attention_2"))
		Expect(cfg.Quantization.BNB4bitQuantType).To(Equal("nf4"))
		Expect(cfg.Quantization.LLMInt8Threshold).To(Equal(6.0))
		Expect(cfg.Adapter.Path).To(Equal("/results/a"))
		Expect(cfg.Adapter.Reference.Trainable).To(BeFalse())
		Expect(cfg.Adapter.Reference.ShareBaseWeights).To(BeTrue())
		Expect(cfg.TrainingArgs.OutputDir).To(Equal("/results/a_a_b0"))
		Expect(cfg.TrainingArgs.RunName).To(Equal("a_a_b0"))
		Expect(cfg.TrainingArgs.LearningRate).To(Equal(1e-6))
		Expect(cfg.TrainingArgs.SaveTotalLimit).To(Equal(2))
		Expect(cfg.TrainingArgs.Optim).To(Equal("adamw_torch_fused"))
		Expect(cfg.DPO).To(Equal(DPOArgs{Beta: 0.2, LossType: "sigmoid", MaxLength: 20, MaxPromptLength: 10}))
	})

	It("should write the configuration as YAML", func() {
		dir := GinkgoT().TempDir()
		path, err := WriteRunConfig(dir, NewRunConfig(Request{RunDir: dir, ReportTo: "none"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, RunConfigFileName)))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("loss_type: sigmoid"))
		Expect(string(data)).To(ContainSubstring("report_to: none"))
	})

	It("should fail for a missing run directory", func() {
		_, err := WriteRunConfig(filepath.Join(GinkgoT().TempDir(), "missing"), RunConfig{})
		Expect(err).To(HaveOccurred())
	})
})
