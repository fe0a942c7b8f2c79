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

package common

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const (
	DefaultBaseModel         = "alignment-handbook/zephyr-7b-sft-lora"
	DefaultBaseDir           = "./results/"
	DefaultTokenizerEncoding = "cl100k_base"
	DefaultTrainerCommand    = "python3 -m empo.train_dpo"
	DefaultReportTo          = "wandb"
	DefaultHFRevision        = "main"

	hfTokenEnv = "HF_TOKEN"
)

// legacyShorthands maps multi-letter short options kept for compatibility
// to their long flag names, pflag only supports one-letter shorthands
var legacyShorthands = map[string]string{
	"-bm": "--base-model",
}

// TrainingParams holds the run-level hyperparameters that may vary between
// runs. Everything else handed to the trainer is fixed.
type TrainingParams struct {
	// TestFrac is the fraction of each split to keep, values >= 0.9999 keep everything
	TestFrac float64 `yaml:"test-frac"`
	// PerDeviceTrainBatchSize is the per device train batch size
	PerDeviceTrainBatchSize int `yaml:"train-batch-size"`
	// PerDeviceEvalBatchSize is the per device evaluation batch size
	PerDeviceEvalBatchSize int `yaml:"eval-batch-size"`
	// LearningRate is the peak learning rate of the cosine schedule
	LearningRate float64 `yaml:"learning-rate"`
	// Beta is the DPO divergence penalty coefficient, higher means less divergence
	Beta float64 `yaml:"beta"`
}

// Configuration of the DPO driver
type Configuration struct {
	// GPU is accepted for compatibility and ignored
	GPU string `yaml:"gpu"`
	// BaseModel is the identifier of the base model the adapter was trained on
	BaseModel string `yaml:"base-model"`
	// Adapter is the name of the previously trained adapter directory under BaseDir
	Adapter string `yaml:"adapter"`
	// BaseDir is the directory holding saved adapters and run outputs
	BaseDir string `yaml:"base-dir"`
	// NewName is the label of the new run
	NewName string `yaml:"new-name"`

	Training TrainingParams `yaml:"training"`

	// DatasetPath is a local directory containing <split>.jsonl or <split>.json files
	DatasetPath string `yaml:"dataset-path"`
	// HFRepo is a HuggingFace dataset repository holding the same files
	HFRepo string `yaml:"hf-repo"`
	// HFRevision is the revision of HFRepo to download
	HFRevision string `yaml:"hf-revision"`
	// DatasetCacheDir is where downloaded dataset files are kept
	DatasetCacheDir string `yaml:"dataset-cache-dir"`
	// HFToken is read from the environment only
	HFToken string `yaml:"-"`

	// TokenizerEncoding selects the tokenizer used for length budgeting
	TokenizerEncoding string `yaml:"tokenizer-encoding"`
	// TrainerCommand is the external training command, split on white space
	TrainerCommand string `yaml:"trainer-command"`
	// ReportTo is passed to the trainer as its reporting target
	ReportTo string `yaml:"report-to"`
	// PrepareOnly stops the run after the datasets are prepared
	PrepareOnly bool `yaml:"prepare-only"`
}

func newConfig() *Configuration {
	return &Configuration{
		GPU:       "1",
		BaseModel: DefaultBaseModel,
		BaseDir:   DefaultBaseDir,
		Training: TrainingParams{
			TestFrac:                1.0,
			PerDeviceTrainBatchSize: 1,
			PerDeviceEvalBatchSize:  1,
			LearningRate:            5e-7,
			Beta:                    0.1,
		},
		HFRevision:        DefaultHFRevision,
		DatasetCacheDir:   defaultDatasetCacheDir(),
		TokenizerEncoding: DefaultTokenizerEncoding,
		TrainerCommand:    DefaultTrainerCommand,
		ReportTo:          DefaultReportTo,
	}
}

func defaultDatasetCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".empo"
	}
	return filepath.Join(home, ".empo", "datasets")
}

// AdapterDir returns the directory of the previously trained adapter
func (c *Configuration) AdapterDir() string {
	return filepath.Join(c.BaseDir, c.Adapter)
}

// TrainerArgs returns the trainer command split into program and arguments
func (c *Configuration) TrainerArgs() []string {
	return strings.Fields(c.TrainerCommand)
}

func (c *Configuration) load(configFile string) error {
	configBytes, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %s", err)
	}

	if err := yaml.Unmarshal(configBytes, c); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %s", err)
	}
	return nil
}

func (c *Configuration) validate() error {
	if c.Adapter == "" {
		return errors.New("--adapter is not defined")
	}
	if c.NewName == "" {
		return errors.New("--new_name is not defined")
	}
	if c.BaseDir == "" {
		return errors.New("--base_dir cannot be empty")
	}
	if c.BaseModel == "" {
		return errors.New("--base_model cannot be empty")
	}
	if strings.ContainsRune(c.Adapter, os.PathSeparator) || strings.ContainsRune(c.NewName, os.PathSeparator) {
		return errors.New("--adapter and --new_name must not contain path separators")
	}
	if c.Training.TestFrac <= 0 || c.Training.TestFrac > 1 {
		return fmt.Errorf("--test-frac must be in (0, 1], got %v", c.Training.TestFrac)
	}
	if c.Training.PerDeviceTrainBatchSize <= 0 {
		return errors.New("--train-batch-size must be positive")
	}
	if c.Training.PerDeviceEvalBatchSize <= 0 {
		return errors.New("--eval-batch-size must be positive")
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("--learning-rate must be positive")
	}
	if c.Training.Beta <= 0 {
		return errors.New("--beta must be positive")
	}
	if c.DatasetPath == "" && c.HFRepo == "" {
		return errors.New("either --dataset-path or --hf-repo must be specified")
	}
	if c.DatasetPath != "" && c.HFRepo != "" {
		return errors.New("specify only one of --dataset-path or --hf-repo")
	}
	if c.HFRepo != "" && c.DatasetCacheDir == "" {
		return errors.New("--dataset-cache-dir cannot be empty")
	}
	if c.TokenizerEncoding == "" {
		return errors.New("--tokenizer-encoding cannot be empty")
	}
	if !c.PrepareOnly && len(c.TrainerArgs()) == 0 {
		return errors.New("--trainer-command cannot be empty")
	}
	return nil
}

// ParseCommandParams builds the configuration from defaults, an optional
// YAML file given by --config, and the command line, in that order of
// precedence (later wins). HF_TOKEN is taken from the environment or a
// .env file in the working directory.
func ParseCommandParams(args []string) (*Configuration, error) {
	args = rewriteLegacyShorthands(args)

	// first pass only looks for --config
	var configFile string
	scratch := newConfig()
	if err := newFlagSet(scratch, &configFile).Parse(args); err != nil {
		return nil, err
	}

	config := newConfig()
	if configFile != "" {
		if err := config.load(configFile); err != nil {
			return nil, err
		}
	}
	if err := newFlagSet(config, &configFile).Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	config.HFToken = os.Getenv(hfTokenEnv)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func newFlagSet(c *Configuration, configFile *string) *pflag.FlagSet {
	f := pflag.NewFlagSet("empo-dpo flags", pflag.ContinueOnError)
	f.SetNormalizeFunc(underscoreToDash)

	f.StringVar(configFile, "config", "", "The path to a yaml configuration file. The command line values overwrite the configuration file values")

	f.StringVarP(&c.GPU, "gpu", "g", c.GPU, "GPU to use, not implemented")
	f.StringVar(&c.BaseModel, "base-model", c.BaseModel, "Base model name")
	f.StringVarP(&c.Adapter, "adapter", "a", c.Adapter, "Adapter name, a directory under the base dir")
	f.StringVarP(&c.BaseDir, "base-dir", "d", c.BaseDir, "Base dir with saved models")
	f.StringVarP(&c.NewName, "new-name", "n", c.NewName, "Save name of the new run")

	f.Float64Var(&c.Training.TestFrac, "test-frac", c.Training.TestFrac, "Fraction of each split to use, values >= 0.9999 use the whole split")
	f.IntVar(&c.Training.PerDeviceTrainBatchSize, "train-batch-size", c.Training.PerDeviceTrainBatchSize, "Per device train batch size")
	f.IntVar(&c.Training.PerDeviceEvalBatchSize, "eval-batch-size", c.Training.PerDeviceEvalBatchSize, "Per device eval batch size")
	f.Float64Var(&c.Training.LearningRate, "learning-rate", c.Training.LearningRate, "Learning rate")
	f.Float64Var(&c.Training.Beta, "beta", c.Training.Beta, "DPO beta, higher beta means less divergence from the reference model")

	f.StringVar(&c.DatasetPath, "dataset-path", c.DatasetPath, "Local directory with train and test preference files")
	f.StringVar(&c.HFRepo, "hf-repo", c.HFRepo, "HuggingFace dataset repository with train and test preference files")
	f.StringVar(&c.HFRevision, "hf-revision", c.HFRevision, "Revision of the HuggingFace dataset repository")
	f.StringVar(&c.DatasetCacheDir, "dataset-cache-dir", c.DatasetCacheDir, "Directory for caching downloaded dataset files")

	f.StringVar(&c.TokenizerEncoding, "tokenizer-encoding", c.TokenizerEncoding, "Tokenizer used for length budgeting: a tiktoken encoding name or 'whitespace'")
	f.StringVar(&c.TrainerCommand, "trainer-command", c.TrainerCommand, "External DPO trainer command, called with --config <run config>")
	f.StringVar(&c.ReportTo, "report-to", c.ReportTo, "Reporting target passed to the trainer")
	f.BoolVar(&c.PrepareOnly, "prepare-only", c.PrepareOnly, "Prepare the run directory and datasets without training")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	f.AddGoFlagSet(klogFlags)

	return f
}

func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func rewriteLegacyShorthands(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		name, value, hasValue := strings.Cut(arg, "=")
		if long, ok := legacyShorthands[name]; ok {
			if hasValue {
				arg = long + "=" + value
			} else {
				arg = long
			}
		}
		result = append(result, arg)
	}
	return result
}
