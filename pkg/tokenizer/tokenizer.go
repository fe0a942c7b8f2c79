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

// Package tokenizer provides the tokenizers used to measure prompt and
// completion lengths.
package tokenizer

import (
	"fmt"
	"hash/fnv"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// WhitespaceEncoding selects the whitespace tokenizer
const WhitespaceEncoding = "whitespace"

// Tokenizer converts text to tokens
type Tokenizer interface {
	// Encode returns the token ids of the given text and the text of each token
	Encode(input string) ([]uint32, []string, error)
	// Name returns the name of the encoding
	Name() string
}

// New creates a tokenizer for the given encoding name. WhitespaceEncoding
// returns a whitespace tokenizer, any other name is resolved as a tiktoken
// encoding (e.g. cl100k_base).
func New(encoding string) (Tokenizer, error) {
	if encoding == WhitespaceEncoding {
		return &WhitespaceTokenizer{}, nil
	}
	return NewBPETokenizer(encoding)
}

// BPETokenizer is a byte pair encoding tokenizer backed by tiktoken
type BPETokenizer struct {
	encoding string
	bpe      *tiktoken.Tiktoken
}

// NewBPETokenizer loads the tiktoken encoding with the given name. The
// encoding files are downloaded on first use and cached by tiktoken in
// TIKTOKEN_CACHE_DIR.
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	bpe, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer encoding %s: %w", encoding, err)
	}
	return &BPETokenizer{encoding: encoding, bpe: bpe}, nil
}

// Encode tokenizes the input, special token markers are treated as ordinary text
func (t *BPETokenizer) Encode(input string) ([]uint32, []string, error) {
	raw := t.bpe.EncodeOrdinary(input)
	ids := make([]uint32, len(raw))
	strs := make([]string, len(raw))
	for i, id := range raw {
		ids[i] = uint32(id)
		strs[i] = t.bpe.Decode([]int{id})
	}
	return ids, strs, nil
}

func (t *BPETokenizer) Name() string {
	return t.encoding
}

// WhitespaceTokenizer splits text on white space, each field is a token.
// Token ids are FNV-1a hashes of the field.
type WhitespaceTokenizer struct{}

func (t *WhitespaceTokenizer) Encode(input string) ([]uint32, []string, error) {
	fields := strings.Fields(input)
	ids := make([]uint32, len(fields))
	for i, field := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(field))
		ids[i] = h.Sum32()
	}
	return ids, fields, nil
}

func (t *WhitespaceTokenizer) Name() string {
	return WhitespaceEncoding
}
