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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sotander/empo/pkg/dataset"
)

// MetricsFileName is the name of the metrics file in the run directory
const MetricsFileName = "metrics.prom"

const (
	stageLoaded     = "loaded"
	stageSubsampled = "subsampled"
	stageFiltered   = "filtered"
)

// runMetrics holds the gauges describing a prepared run
type runMetrics struct {
	registry *prometheus.Registry
	// datasetExamples is the number of examples per split and preparation stage
	datasetExamples *prometheus.GaugeVec
	// sequenceBudget is the sequence budget handed to the trainer
	sequenceBudget *prometheus.GaugeVec
	// runInfo identifies the run
	runInfo *prometheus.GaugeVec
}

// newRunMetrics creates the gauges and registers them in a new registry
func newRunMetrics() (*runMetrics, error) {
	m := &runMetrics{registry: prometheus.NewRegistry()}

	m.datasetExamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "",
			Name:      "empo_dataset_examples",
			Help:      "Number of preference examples per split after each preparation stage.",
		},
		[]string{"split", "stage"},
	)
	if err := m.registry.Register(m.datasetExamples); err != nil {
		return nil, fmt.Errorf("prometheus dataset examples gauge register failed: %w", err)
	}

	m.sequenceBudget = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "",
			Name:      "empo_sequence_budget_tokens",
			Help:      "Sequence length budget in tokens.",
		},
		[]string{"kind"},
	)
	if err := m.registry.Register(m.sequenceBudget); err != nil {
		return nil, fmt.Errorf("prometheus sequence budget gauge register failed: %w", err)
	}

	m.runInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "",
			Name:      "empo_run_info",
			Help:      "Information about the DPO run.",
		},
		[]string{"run_id", "adapter"},
	)
	if err := m.registry.Register(m.runInfo); err != nil {
		return nil, fmt.Errorf("prometheus run info gauge register failed: %w", err)
	}

	return m, nil
}

func (m *runMetrics) setCounts(counts []dataset.SplitCounts) {
	for _, c := range counts {
		split := string(c.Split)
		m.datasetExamples.WithLabelValues(split, stageLoaded).Set(float64(c.Loaded))
		m.datasetExamples.WithLabelValues(split, stageSubsampled).Set(float64(c.Subsampled))
		m.datasetExamples.WithLabelValues(split, stageFiltered).Set(float64(c.Filtered))
	}
}

func (m *runMetrics) setBudget(budget dataset.SequenceBudget) {
	m.sequenceBudget.WithLabelValues("prompt").Set(float64(budget.PromptLength))
	m.sequenceBudget.WithLabelValues("max").Set(float64(budget.MaxLength))
}

func (m *runMetrics) setRunInfo(runID, adapter string) {
	m.runInfo.WithLabelValues(runID, adapter).Set(1)
}

// write stores the metrics in the text exposition format
func (m *runMetrics) write(runDir string) (string, error) {
	path := filepath.Join(runDir, MetricsFileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", errors.Join(err, fmt.Errorf("failed to write metrics to %s", path))
	}
	return path, nil
}
