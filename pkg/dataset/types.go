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

// Package dataset loads preference datasets, renders their prompts, and
// computes and applies the sequence length budget of a DPO run.
package dataset

// Split identifies a dataset split
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// Splits lists the splits a run uses
var Splits = []Split{SplitTrain, SplitTest}

// PreferenceExample is a rendered dialogue context with two alternative
// next turns, the preferred one and the rejected one
type PreferenceExample struct {
	Prompt   string `json:"prompt"`
	Chosen   string `json:"chosen"`
	Rejected string `json:"rejected"`
}

// ChosenText returns the full chosen sequence, prompt followed by completion
func (e PreferenceExample) ChosenText() string {
	return e.Prompt + e.Chosen
}

// RejectedText returns the full rejected sequence, prompt followed by completion
func (e PreferenceExample) RejectedText() string {
	return e.Prompt + e.Rejected
}

// PreferenceDataset is an ordered list of examples of one split
type PreferenceDataset struct {
	Split    Split
	Examples []PreferenceExample
}

// Len returns the number of examples
func (d *PreferenceDataset) Len() int {
	return len(d.Examples)
}

// LengthCounter returns the number of tokens in a text
type LengthCounter interface {
	Len(text string) (int, error)
}
