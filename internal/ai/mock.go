package ai

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
	"unicode/utf8"
)

const MockModel = "deepseek-v3-mock"

// Thresholds for the templated elaboration appended to longer prompts.
const (
	mockElaborateMinRunes = 10
	mockEchoRunes         = 20
)

var mockReplyPrefixes = []string{
	"I understand your question. Let me walk through it in detail...",
	"That is a good question. From what I understand, the answer is...",
	"Glad you asked. Here is my explanation:",
	"Based on my analysis, the way to approach this is...",
	"Thanks for asking. This question touches on several aspects:",
	"This is a broad topic, so let me start from the basics...",
	"I can help with this. First, we need to...",
	"Interesting question! From a technical point of view...",
}

// MockComplete produces a canned completion shaped exactly like a blocking
// upstream envelope, so callers persist and render it identically.
func MockComplete(messages []ChatMessage) *Completion {
	var user ChatMessage
	if len(messages) > 0 {
		user = messages[len(messages)-1]
	}

	content := mockReplyPrefixes[rand.Intn(len(mockReplyPrefixes))]
	if utf8.RuneCountInString(user.Content) > mockElaborateMinRunes {
		echo := user.Content
		if runes := []rune(echo); len(runes) > mockEchoRunes {
			echo = string(runes[:mockEchoRunes]) + "..."
		}
		content += fmt.Sprintf("\n\nThe point you raised about \"%s\" matters here."+
			"\n\nI can break this down along a few lines:\n\n1. Core concepts\n2. Where it applies\n3. Best practices\n\nWant me to go deeper on any of these?", echo)
	}

	now := time.Now()
	envelope := map[string]interface{}{
		"id":      fmt.Sprintf("mock-%d", now.UnixMilli()),
		"object":  "chat.completion",
		"created": now.Unix(),
		"model":   MockModel,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
	}
	raw, _ := json.Marshal(envelope)

	return &Completion{
		Raw:     raw,
		Message: ChatMessage{Role: "assistant", Content: content},
	}
}
