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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Preference records", func() {
	var parser *recordParser

	BeforeEach(func() {
		var err error
		parser, err = newRecordParser()
		Expect(err).NotTo(HaveOccurred())
	})

	It("should parse JSON lines and skip invalid records", func() {
		data := `{"id": "1", "conversation": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}, {"role": "user", "content": "I'm sad"}], "chosen": "sorry", "rejected": "ok"}

{"prompt": "I lost my keys", "chosen": "that is annoying", "rejected": "fine"}
{"prompt": "missing rejected", "chosen": "x"}
{"prompt": "both", "conversation": [{"role": "user", "content": "both"}], "chosen": "x", "rejected": "y"}
{"conversation": [{"role": "system", "content": "bad role"}], "chosen": "x", "rejected": "y"}
{"prompt": "broken",
`
		records, recErrors, err := parser.parse("train.jsonl", []byte(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[0].ID).To(Equal("1"))
		Expect(records[0].Turns()).To(HaveLen(3))
		Expect(records[1].Turns()).To(Equal([]Turn{{Role: RoleUser, Content: "I lost my keys"}}))

		Expect(recErrors).To(HaveLen(4))
		indexes := make([]int, 0, len(recErrors))
		for _, recErr := range recErrors {
			indexes = append(indexes, recErr.index)
		}
		Expect(indexes).To(Equal([]int{2, 3, 4, 5}))
	})

	It("should parse a JSON array", func() {
		data := `[{"prompt": "a", "chosen": "b", "rejected": "c"}, {"prompt": "d", "chosen": "e"}]`
		records, recErrors, err := parser.parse("test.json", []byte(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(Equal([]RawRecord{{Prompt: "a", Chosen: "b", Rejected: "c"}}))
		Expect(recErrors).To(HaveLen(1))
		Expect(recErrors[0].Error()).To(HavePrefix("record 1:"))
	})

	It("should accept empty files", func() {
		records, recErrors, err := parser.parse("train.jsonl", []byte("\n\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
		Expect(recErrors).To(BeEmpty())

		records, _, err = parser.parse("train.json", []byte("[]"))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})

	It("should fail on files that cannot be parsed", func() {
		_, _, err := parser.parse("train.json", []byte(`{"prompt": "not an array"}`))
		Expect(err).To(HaveOccurred())

		_, _, err = parser.parse("train.csv", []byte("prompt,chosen,rejected"))
		Expect(err).To(MatchError(ContainSubstring("unsupported dataset file format")))
	})
})

var _ = Describe("Chat template", func() {
	It("should render the system message, the turns and the generation prompt", func() {
		template := ChatTemplate{SystemMessage: "be nice", AddGenerationPrompt: true}
		prompt := template.RenderPrompt([]Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "I'm sad"},
		})
		Expect(prompt).To(Equal("<|system|>\nbe nice</s>\n" +
			"<|user|>\nhi</s>\n" +
			"<|assistant|>\nhello</s>\n" +
			"<|user|>\nI'm sad</s>\n" +
			"<|assistant|>\n"))
	})

	It("should omit the empty system message and the generation prompt", func() {
		template := ChatTemplate{}
		Expect(template.RenderPrompt([]Turn{{Role: RoleUser, Content: "hi"}})).To(Equal("<|user|>\nhi</s>\n"))
	})

	It("should end completions with the end of sequence token", func() {
		Expect(DefaultChatTemplate().RenderCompletion("sorry to hear")).To(Equal("sorry to hear</s>\n"))
	})

	It("should use the default system message", func() {
		prompt := DefaultChatTemplate().RenderPrompt(nil)
		Expect(prompt).To(HavePrefix("<|system|>\nYou are a friendly assistant"))
		Expect(prompt).To(HaveSuffix("</s>\n<|assistant|>\n"))
	})
})
