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
	"errors"
	"fmt"
	"math"
	"sort"
)

// BudgetPercentile is the percentile of the train lengths that the budget covers
const BudgetPercentile = 95

// SequenceBudget bounds the token lengths the trainer works with
type SequenceBudget struct {
	// PromptLength is the maximum prompt length, longer prompts are truncated
	PromptLength int
	// MaxLength is the maximum length of prompt plus completion
	MaxLength int
}

// LengthPercentiles holds the percentile token lengths of a split,
// truncated to integers
type LengthPercentiles struct {
	Prompt   int
	Chosen   int
	Rejected int
}

// MaxLength returns the longer of the chosen and the rejected percentile
func (l LengthPercentiles) MaxLength() int {
	return max(l.Chosen, l.Rejected)
}

// Budget returns the sequence budget, both lengths rounded up to even
func (l LengthPercentiles) Budget() SequenceBudget {
	return SequenceBudget{
		PromptLength: RoundUpEven(l.Prompt),
		MaxLength:    RoundUpEven(l.MaxLength()),
	}
}

// ComputeLengthPercentiles measures the prompt, prompt+chosen and
// prompt+rejected token lengths of every example and returns their
// BudgetPercentile percentiles. It must be given the unfiltered train split.
func ComputeLengthPercentiles(ds *PreferenceDataset, counter LengthCounter) (LengthPercentiles, error) {
	if ds.Len() == 0 {
		return LengthPercentiles{}, fmt.Errorf("cannot compute length budget of an empty %s split", ds.Split)
	}

	promptLens := make([]int, ds.Len())
	chosenLens := make([]int, ds.Len())
	rejectedLens := make([]int, ds.Len())
	for i, example := range ds.Examples {
		lens, err := exampleLengths(example, counter)
		if err != nil {
			return LengthPercentiles{}, fmt.Errorf("failed to tokenize example %d of the %s split: %w", i, ds.Split, err)
		}
		promptLens[i] = lens.prompt
		chosenLens[i] = lens.chosen
		rejectedLens[i] = lens.rejected
	}

	var result LengthPercentiles
	for _, item := range []struct {
		lens   []int
		target *int
	}{
		{promptLens, &result.Prompt},
		{chosenLens, &result.Chosen},
		{rejectedLens, &result.Rejected},
	} {
		value, err := Percentile(item.lens, BudgetPercentile)
		if err != nil {
			return LengthPercentiles{}, err
		}
		*item.target = int(value)
	}
	return result, nil
}

// Percentile returns the p-th percentile (0 <= p <= 100) of the values,
// interpolating linearly between the two closest order statistics
func Percentile(values []int, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New("percentile of an empty list")
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("percentile must be in [0, 100], got %v", p)
	}

	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)

	q := p / 100
	n := float64(len(sorted))
	rank := n*q - q // (n-1)*q
	lo := math.Floor(rank)
	hi := min(lo+1, n-1)
	gamma := rank - lo
	return lerp(sorted[int(lo)], sorted[int(hi)], gamma), nil
}

// lerp interpolates from a to b, computing from the nearer end so that t=1
// yields exactly b
func lerp(a, b, t float64) float64 {
	diff := b - a
	if t >= 0.5 {
		return b - diff*(1-t)
	}
	return a + diff*t
}

// RoundUpEven rounds x up to the nearest even integer
func RoundUpEven(x int) int {
	return ((x + 1) / 2) * 2
}
