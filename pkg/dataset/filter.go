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

import "fmt"

// FullFraction is the smallest fraction that keeps a split whole
const FullFraction = 0.9999

// Subsample keeps the first floor(len*fraction) examples of the dataset,
// fractions of at least FullFraction keep the dataset as is
func Subsample(ds *PreferenceDataset, fraction float64) *PreferenceDataset {
	if fraction >= FullFraction {
		return ds
	}
	n := int(float64(ds.Len()) * fraction)
	return &PreferenceDataset{
		Split:    ds.Split,
		Examples: ds.Examples[:n:n],
	}
}

// Filter keeps the examples whose prompt+chosen token length is at most
// maxLength, in their original order
func Filter(ds *PreferenceDataset, maxLength int, counter LengthCounter) (*PreferenceDataset, error) {
	result := &PreferenceDataset{
		Split:    ds.Split,
		Examples: make([]PreferenceExample, 0, ds.Len()),
	}
	for i, example := range ds.Examples {
		n, err := counter.Len(example.ChosenText())
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize chosen sequence %d of the %s split: %w", i, ds.Split, err)
		}
		if n <= maxLength {
			result.Examples = append(result.Examples, example)
		}
	}
	return result, nil
}
