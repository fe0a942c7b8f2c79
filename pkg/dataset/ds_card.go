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
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	sourcePlaceholder        = "<SOURCE>"
	tokenizerPlaceholder     = "<TOKENIZER>"
	percentilePlaceholder    = "<PERCENTILE>"
	promptBudgetPlaceholder  = "<PROMPT_BUDGET>"
	maxBudgetPlaceholder     = "<MAX_BUDGET>"
	rawMaxLengthPlaceholder  = "<RAW_MAX_LENGTH>"
	splitCountsPlaceholder   = "<SPLIT_COUNTS>"
	lengthStatsPlaceholder   = "<LENGTH_STATS>"
	tableNamePlaceholder     = "<TABLE_NAME>"
	templateNamePlaceholder  = "<TEMPLATE>"
	exampleRecordPlaceholder = "<EXAMPLE_RECORD>"
)

const cardTemplate = `
# Preference Dataset Card

## Overview

This dataset holds preference pairs prepared for Direct Preference Optimization. Each record is a chat-templated dialogue context followed by two alternative assistant turns, the preferred one and the rejected one.

## Source Dataset
` + sourcePlaceholder + `

## Chat Template
` + templateNamePlaceholder + `

## Tokenizer
` + tokenizerPlaceholder + `

## Sequence Budget

Budgets are the ` + percentilePlaceholder + `th percentile of the token lengths of the unfiltered train split, rounded up to an even number.

- **Prompt length**: ` + promptBudgetPlaceholder + `
- **Max length**: ` + maxBudgetPlaceholder + ` (before rounding ` + rawMaxLengthPlaceholder + `)

Records whose prompt plus chosen completion is longer than the unrounded max length are left out.

### Dataset Formats

- **JSON lines:** ` + "`" + `train.jsonl` + "`" + ` and ` + "`" + `test.jsonl` + "`" + `, read by the trainer.
- **SQLite:** ` + "`" + dbFileName + "`" + `, for inspection.

### Data Fields

| Field | Type | Description |
| :--- | :--- | :--- |
| ` + "`" + `prompt` + "`" + ` | string | Chat-templated dialogue context ending with the assistant generation prompt |
| ` + "`" + `chosen` + "`" + ` | string | Preferred assistant turn followed by the end of sequence token |
| ` + "`" + `rejected` + "`" + ` | string | Rejected assistant turn followed by the end of sequence token |

### Data Example

` + "```" + `json
` + exampleRecordPlaceholder + `
` + "```" + `

## SQLite Database Schema

| Column | Data Type | Description |
| :--- | :--- | :--- |
| ` + "`" + `id` + "`" + ` | INTEGER PRIMARY KEY AUTOINCREMENT | Auto-incrementing primary key |
| ` + "`" + `split` + "`" + ` | TEXT NOT NULL | Split name |
| ` + "`" + `idx` + "`" + ` | INTEGER NOT NULL | Position of the record in its split |
| ` + "`" + `prompt` + "`" + ` | TEXT NOT NULL | Prompt text |
| ` + "`" + `chosen` + "`" + ` | TEXT NOT NULL | Chosen completion |
| ` + "`" + `rejected` + "`" + ` | TEXT NOT NULL | Rejected completion |
| ` + "`" + `n_prompt_tokens` + "`" + ` | INTEGER NOT NULL | Token count of the prompt |
| ` + "`" + `n_chosen_tokens` + "`" + ` | INTEGER NOT NULL | Token count of prompt plus chosen |
| ` + "`" + `n_rejected_tokens` + "`" + ` | INTEGER NOT NULL | Token count of prompt plus rejected |

### Example Query

Calculate the average chosen sequence length per split:
` + "```" + `sql
SELECT split, AVG(n_chosen_tokens) FROM ` + tableNamePlaceholder + ` GROUP BY split;
` + "```" + `

## Dataset Statistics

| Split | Loaded | Subsampled | Filtered |
| :--- | ---: | ---: | ---: |
` + splitCountsPlaceholder + `

### Token Lengths

| Split | Sequence | Mean | Std | Min | Max |
| :--- | :--- | ---: | ---: | ---: | ---: |
` + lengthStatsPlaceholder + `
`

// SplitCounts holds the number of examples of a split after each stage
type SplitCounts struct {
	Split      Split
	Loaded     int
	Subsampled int
	Filtered   int
}

// CardInfo is the content of a dataset card
type CardInfo struct {
	Source      string
	Tokenizer   string
	Template    string
	Percentiles LengthPercentiles
	Counts      []SplitCounts
	Stats       []SplitStats
	Example     *PreferenceExample
}

// WriteCard generates the dataset card of the stored datasets
func (s *Store) WriteCard(info CardInfo) (string, error) {
	content, err := renderCard(info)
	if err != nil {
		return "", err
	}
	cardPath := s.CardPath()
	if err := os.WriteFile(cardPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write dataset card: %w", err)
	}
	return cardPath, nil
}

func renderCard(info CardInfo) (string, error) {
	example := "{}"
	if info.Example != nil {
		data, err := jsonIndent(info.Example)
		if err != nil {
			return "", err
		}
		example = data
	}

	budget := info.Percentiles.Budget()
	replacer := strings.NewReplacer(
		sourcePlaceholder, info.Source,
		tokenizerPlaceholder, info.Tokenizer,
		templateNamePlaceholder, info.Template,
		percentilePlaceholder, strconv.Itoa(BudgetPercentile),
		promptBudgetPlaceholder, strconv.Itoa(budget.PromptLength),
		maxBudgetPlaceholder, strconv.Itoa(budget.MaxLength),
		rawMaxLengthPlaceholder, strconv.Itoa(info.Percentiles.MaxLength()),
		tableNamePlaceholder, tableName,
		splitCountsPlaceholder, countRows(info.Counts),
		lengthStatsPlaceholder, statsRows(info.Stats),
		exampleRecordPlaceholder, example,
	)
	return replacer.Replace(cardTemplate), nil
}

func countRows(counts []SplitCounts) string {
	rows := make([]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, fmt.Sprintf("| %s | %d | %d | %d |", c.Split, c.Loaded, c.Subsampled, c.Filtered))
	}
	return strings.Join(rows, "\n")
}

func statsRows(stats []SplitStats) string {
	rows := make([]string, 0, 3*len(stats))
	for _, s := range stats {
		for _, seq := range []struct {
			name  string
			stats LengthStats
		}{{"prompt", s.Prompt}, {"chosen", s.Chosen}, {"rejected", s.Rejected}} {
			rows = append(rows, fmt.Sprintf("| %s | %s | %.1f | %.1f | %d | %d |",
				s.Split, seq.name, seq.stats.Mean, seq.stats.StdDev, seq.stats.Min, seq.stats.Max))
		}
	}
	return strings.Join(rows, "\n")
}
