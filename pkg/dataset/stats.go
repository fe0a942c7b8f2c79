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
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LengthStats summarizes token lengths
type LengthStats struct {
	Mean   float64
	StdDev float64
	Min    int
	Max    int
}

// SplitStats summarizes the token lengths of a split
type SplitStats struct {
	Split    Split
	Count    int
	Prompt   LengthStats
	Chosen   LengthStats
	Rejected LengthStats
}

// ComputeSplitStats measures the examples of a dataset
func ComputeSplitStats(ds *PreferenceDataset, counter LengthCounter) (SplitStats, error) {
	result := SplitStats{Split: ds.Split, Count: ds.Len()}
	if ds.Len() == 0 {
		return result, nil
	}

	promptLens := make([]float64, ds.Len())
	chosenLens := make([]float64, ds.Len())
	rejectedLens := make([]float64, ds.Len())
	for i, example := range ds.Examples {
		lens, err := exampleLengths(example, counter)
		if err != nil {
			return result, err
		}
		promptLens[i] = float64(lens.prompt)
		chosenLens[i] = float64(lens.chosen)
		rejectedLens[i] = float64(lens.rejected)
	}

	result.Prompt = summarize(promptLens)
	result.Chosen = summarize(chosenLens)
	result.Rejected = summarize(rejectedLens)
	return result, nil
}

func summarize(values []float64) LengthStats {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		// a single value has no spread
		std = 0
	}
	return LengthStats{
		Mean:   mean,
		StdDev: std,
		Min:    int(floats.Min(values)),
		Max:    int(floats.Max(values)),
	}
}

type tokenLengths struct {
	prompt   int
	chosen   int
	rejected int
}

func exampleLengths(example PreferenceExample, counter LengthCounter) (tokenLengths, error) {
	var lens tokenLengths
	var err error
	if lens.prompt, err = counter.Len(example.Prompt); err != nil {
		return lens, err
	}
	if lens.chosen, err = counter.Len(example.ChosenText()); err != nil {
		return lens, err
	}
	if lens.rejected, err = counter.Len(example.RejectedText()); err != nil {
		return lens, err
	}
	return lens, nil
}
