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

import "strings"

// DefaultSystemMessage is the system message of the empathetic dialogue assistant
const DefaultSystemMessage = "You are a friendly assistant, who provides empathetic responses to the user. " +
	"The input contains previous turn of the dialog, where the each utterance is prefaced " +
	"with tags <|user|>, or <|assistant|>. Be empathetic and precise. Make sure to give " +
	"responses that make dialogue flow. Avoid repeating the prompt."

const (
	systemTag    = "<|system|>"
	userTag      = "<|user|>"
	assistantTag = "<|assistant|>"
	// EOSToken ends every message
	EOSToken = "</s>"
)

// ChatTemplate renders dialogues in the zephyr chat format
//
//	<|system|>
//	{system message}</s>
//	<|user|>
//	{content}</s>
//	<|assistant|>
type ChatTemplate struct {
	SystemMessage string
	// AddGenerationPrompt appends the assistant tag so the model continues as the assistant
	AddGenerationPrompt bool
}

// DefaultChatTemplate returns the template used for DPO prompts
func DefaultChatTemplate() ChatTemplate {
	return ChatTemplate{
		SystemMessage:       DefaultSystemMessage,
		AddGenerationPrompt: true,
	}
}

// Name returns the name of the chat format
func (t ChatTemplate) Name() string {
	return "zephyr"
}

// RenderPrompt renders the system message and the dialogue turns
func (t ChatTemplate) RenderPrompt(turns []Turn) string {
	var sb strings.Builder
	if t.SystemMessage != "" {
		writeMessage(&sb, systemTag, t.SystemMessage)
	}
	for _, turn := range turns {
		tag := userTag
		if turn.Role == RoleAssistant {
			tag = assistantTag
		}
		writeMessage(&sb, tag, turn.Content)
	}
	if t.AddGenerationPrompt {
		sb.WriteString(assistantTag)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderCompletion renders an assistant answer that follows a rendered prompt
func (t ChatTemplate) RenderCompletion(text string) string {
	return text + EOSToken + "\n"
}

func writeMessage(sb *strings.Builder, tag, content string) {
	sb.WriteString(tag)
	sb.WriteString("\n")
	sb.WriteString(content)
	sb.WriteString(EOSToken)
	sb.WriteString("\n")
}
