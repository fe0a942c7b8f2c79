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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance of a dialogue
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RawRecord is a preference record as stored in the source files. The
// dialogue context is either a list of turns or a single prompt string.
type RawRecord struct {
	ID           string `json:"id,omitempty"`
	Conversation []Turn `json:"conversation,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Chosen       string `json:"chosen"`
	Rejected     string `json:"rejected"`
}

// Turns returns the dialogue context as turns, a plain prompt is a single user turn
func (r *RawRecord) Turns() []Turn {
	if len(r.Conversation) > 0 {
		return r.Conversation
	}
	return []Turn{{Role: RoleUser, Content: r.Prompt}}
}

const rawRecordSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "conversation": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"}
        },
        "required": ["role", "content"]
      }
    },
    "prompt": {"type": "string"},
    "chosen": {"type": "string"},
    "rejected": {"type": "string"}
  },
  "required": ["chosen", "rejected"],
  "oneOf": [
    {"required": ["conversation"]},
    {"required": ["prompt"]}
  ]
}`

// recordError describes a source record that was skipped
type recordError struct {
	index int
	err   error
}

func (e recordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.index, e.err)
}

// recordParser parses and validates source files
type recordParser struct {
	schema *jsonschema.Schema
}

func newRecordParser() (*recordParser, error) {
	schema, err := jsonschema.CompileString("preference-record.json", rawRecordSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile the preference record schema: %w", err)
	}
	return &recordParser{schema: schema}, nil
}

// parse parses the content of a .json (array of records) or .jsonl (record
// per line) file. Records that fail validation are returned as record errors,
// a file that cannot be parsed at all is an error.
func (p *recordParser) parse(fileName string, data []byte) ([]RawRecord, []recordError, error) {
	var items []json.RawMessage
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json":
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
		}
	case ".jsonl":
		var err error
		if items, err = splitLines(data); err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", fileName, err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported dataset file format: %s", fileName)
	}

	records := make([]RawRecord, 0, len(items))
	var recErrors []recordError
	for i, item := range items {
		rec, err := p.parseRecord(item)
		if err != nil {
			recErrors = append(recErrors, recordError{index: i, err: err})
			continue
		}
		records = append(records, *rec)
	}
	return records, recErrors, nil
}

func (p *recordParser) parseRecord(item json.RawMessage) (*RawRecord, error) {
	var value any
	if err := json.Unmarshal(item, &value); err != nil {
		return nil, err
	}
	if err := p.schema.Validate(value); err != nil {
		return nil, err
	}
	var rec RawRecord
	if err := json.Unmarshal(item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// splitLines returns the non blank lines of a JSON lines file
func splitLines(data []byte) ([]json.RawMessage, error) {
	var lines []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
