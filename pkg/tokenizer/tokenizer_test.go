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

package tokenizer

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingTokenizer struct {
	calls int
	err   error
}

func (t *countingTokenizer) Encode(input string) ([]uint32, []string, error) {
	t.calls++
	if t.err != nil {
		return nil, nil, t.err
	}
	return (&WhitespaceTokenizer{}).Encode(input)
}

func (t *countingTokenizer) Name() string {
	return "counting"
}

var _ = Describe("Tokenizer", func() {
	Context("WhitespaceTokenizer", func() {
		tok := &WhitespaceTokenizer{}

		It("should split on white space", func() {
			ids, strs, err := tok.Encode("  I feel\tso alone\ntoday ")
			Expect(err).NotTo(HaveOccurred())
			Expect(strs).To(Equal([]string{"I", "feel", "so", "alone", "today"}))
			Expect(ids).To(HaveLen(5))
		})

		It("should give equal tokens equal ids", func() {
			ids, _, err := tok.Encode("sad happy sad")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids[0]).To(Equal(ids[2]))
			Expect(ids[0]).NotTo(Equal(ids[1]))
		})

		It("should return no tokens for empty text", func() {
			ids, strs, err := tok.Encode("")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
			Expect(strs).To(BeEmpty())
		})
	})

	It("should create the whitespace tokenizer by name", func() {
		tok, err := New(WhitespaceEncoding)
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.Name()).To(Equal(WhitespaceEncoding))
	})

	Context("LengthCache", func() {
		It("should tokenize each text once", func() {
			tok := &countingTokenizer{}
			cache := NewLengthCache(tok, 0)

			for range 3 {
				n, err := cache.Len("one two three")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(3))
			}
			n, err := cache.Len("four")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			Expect(tok.calls).To(Equal(2))
			hits, misses := cache.Stats()
			Expect(hits).To(Equal(int64(2)))
			Expect(misses).To(Equal(int64(2)))
			Expect(cache.Size()).To(Equal(2))
		})

		It("should stop storing entries at the size limit", func() {
			tok := &countingTokenizer{}
			cache := NewLengthCache(tok, 1)

			_, err := cache.Len("a")
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Len("b")
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Len("b")
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Size()).To(Equal(1))
			Expect(tok.calls).To(Equal(3))
		})

		It("should return tokenizer errors and not cache them", func() {
			tok := &countingTokenizer{err: errors.New("boom")}
			cache := NewLengthCache(tok, 0)

			_, err := cache.Len("text")
			Expect(err).To(MatchError("boom"))
			Expect(cache.Size()).To(Equal(0))
		})
	})
})
