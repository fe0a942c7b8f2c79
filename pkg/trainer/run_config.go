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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RunConfigFileName is the name of the trainer configuration file in the run directory
const RunConfigFileName = "dpo_config.yaml"

// RunConfig is the configuration file passed to the trainer
type RunConfig struct {
	RunID         string             `yaml:"run_id"`
	Model         ModelConfig        `yaml:"model"`
	Quantization  QuantizationConfig `yaml:"quantization"`
	Adapter       AdapterConfig      `yaml:"adapter"`
	TrainingArgs  TrainingArgs       `yaml:"training_args"`
	DPO           DPOArgs            `yaml:"dpo"`
	DatasetConfig DatasetConfig      `yaml:"dataset"`
}

type ModelConfig struct {
	PretrainedModelNameOrPath string `yaml:"pretrained_model_name_or_path"`
	AttnImplementation        string `yaml:"attn_implementation"`
	TorchDtype                string `yaml:"torch_dtype"`
	DeviceMap                 string `yaml:"device_map"`
	UseCache                  bool   `yaml:"use_cache"`
	// ResizeTokenEmbeddings resizes the embeddings to the adapter tokenizer vocabulary
	ResizeTokenEmbeddings bool `yaml:"resize_token_embeddings"`
}

type QuantizationConfig struct {
	LoadIn4bit            bool    `yaml:"load_in_4bit"`
	LLMInt8Threshold      float64 `yaml:"llm_int8_threshold"`
	LLMInt8HasFP16Weight  bool    `yaml:"llm_int8_has_fp16_weight"`
	BNB4bitComputeDtype   string  `yaml:"bnb_4bit_compute_dtype"`
	BNB4bitUseDoubleQuant bool    `yaml:"bnb_4bit_use_double_quant"`
	BNB4bitQuantType      string  `yaml:"bnb_4bit_quant_type"`
}

type AdapterConfig struct {
	Path string `yaml:"path"`
	// Reference is the policy that the trained adapter is kept close to. It
	// is the same adapter, frozen, on top of the same base weights.
	Reference ReferenceConfig `yaml:"reference"`
}

type ReferenceConfig struct {
	Path      string `yaml:"path"`
	Trainable bool   `yaml:"trainable"`
	// ShareBaseWeights asks the trainer not to load the base model twice
	ShareBaseWeights bool `yaml:"share_base_weights"`
}

type TrainingArgs struct {
	OutputDir                 string  `yaml:"output_dir"`
	NumTrainEpochs            int     `yaml:"num_train_epochs"`
	PerDeviceTrainBatchSize   int     `yaml:"per_device_train_batch_size"`
	PerDeviceEvalBatchSize    int     `yaml:"per_device_eval_batch_size"`
	GradientAccumulationSteps int     `yaml:"gradient_accumulation_steps"`
	GradientCheckpointing     bool    `yaml:"gradient_checkpointing"`
	Optim                     string  `yaml:"optim"`
	LearningRate              float64 `yaml:"learning_rate"`
	MaxGradNorm               float64 `yaml:"max_grad_norm"`
	WarmupRatio               float64 `yaml:"warmup_ratio"`
	LRSchedulerType           string  `yaml:"lr_scheduler_type"`
	LoggingSteps              float64 `yaml:"logging_steps"`
	SaveSteps                 float64 `yaml:"save_steps"`
	SaveTotalLimit            int     `yaml:"save_total_limit"`
	EvaluationStrategy        string  `yaml:"evaluation_strategy"`
	EvalSteps                 float64 `yaml:"eval_steps"`
	BF16                      bool    `yaml:"bf16"`
	PushToHub                 bool    `yaml:"push_to_hub"`
	ReportTo                  string  `yaml:"report_to"`
	RunName                   string  `yaml:"run_name"`
}

type DPOArgs struct {
	Beta            float64 `yaml:"beta"`
	LossType        string  `yaml:"loss_type"`
	MaxLength       int     `yaml:"max_length"`
	MaxPromptLength int     `yaml:"max_prompt_length"`
}

type DatasetConfig struct {
	TrainFile string `yaml:"train_file"`
	TestFile  string `yaml:"test_file"`
}

// NewRunConfig fills the trainer configuration of a request. Everything not
// taken from the request is fixed.
func NewRunConfig(req Request) RunConfig {
	return RunConfig{
		RunID: req.RunID,
		Model: ModelConfig{
			PretrainedModelNameOrPath: req.BaseModel,
			AttnImplementation:        "flash_attention_2",
			TorchDtype:                "bfloat16",
			DeviceMap:                 "auto",
			UseCache:                  false,
			ResizeTokenEmbeddings:     true,
		},
		Quantization: QuantizationConfig{
			LoadIn4bit:            true,
			LLMInt8Threshold:      6.0,
			LLMInt8HasFP16Weight:  false,
			BNB4bitComputeDtype:   "bfloat16",
			BNB4bitUseDoubleQuant: true,
			BNB4bitQuantType:      "nf4",
		},
		Adapter: AdapterConfig{
			Path: req.AdapterDir,
			Reference: ReferenceConfig{
				Path:             req.AdapterDir,
				Trainable:        false,
				ShareBaseWeights: true,
			},
		},
		TrainingArgs: TrainingArgs{
			OutputDir:                 req.RunDir,
			NumTrainEpochs:            1,
			PerDeviceTrainBatchSize:   req.Params.PerDeviceTrainBatchSize,
			PerDeviceEvalBatchSize:    req.Params.PerDeviceEvalBatchSize,
			GradientAccumulationSteps: 1,
			GradientCheckpointing:     true,
			Optim:                     "adamw_torch_fused",
			LearningRate:              req.Params.LearningRate,
			MaxGradNorm:               0.3,
			WarmupRatio:               0.1,
			LRSchedulerType:           "cosine",
			LoggingSteps:              0.1,
			SaveSteps:                 0.1,
			SaveTotalLimit:            2,
			EvaluationStrategy:        "steps",
			EvalSteps:                 0.2,
			BF16:                      true,
			PushToHub:                 false,
			ReportTo:                  req.ReportTo,
			RunName:                   filepath.Base(req.RunDir),
		},
		DPO: DPOArgs{
			Beta:            req.Params.Beta,
			LossType:        "sigmoid",
			MaxLength:       req.Budget.MaxLength,
			MaxPromptLength: req.Budget.PromptLength,
		},
		DatasetConfig: DatasetConfig{
			TrainFile: req.TrainFile,
			TestFile:  req.TestFile,
		},
	}
}

// WriteRunConfig writes the configuration to the run directory and returns its path
func WriteRunConfig(runDir string, cfg RunConfig) (string, error) {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trainer configuration: %w", err)
	}
	path := filepath.Join(runDir, RunConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write trainer configuration: %w", err)
	}
	return path, nil
}
