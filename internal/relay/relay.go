// Package relay turns an upstream completion stream into an immediately
// forwarded client stream plus one durable persisted conversational turn.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"chatrelay/internal/ai"
	"chatrelay/internal/model"
)

const doneSentinel = "[DONE]"

// StreamWriter is the outbound side of the relay. Every forwarded fragment is
// flushed immediately, never batched.
type StreamWriter interface {
	io.Writer
	Flush()
}

// Persister performs the post-stream persistence pass. Implemented by
// app.ChatService.
type Persister interface {
	CreateChatFromMessage(ctx context.Context, content, ownerID string) (*model.Chat, error)
	PersistTurn(ctx context.Context, chatID uint, user ai.ChatMessage, assistantContent string) error
}

// Turn is the request context one relay run operates on. When ChatID is set
// the turn belongs to an existing chat; otherwise a non-empty OwnerID makes
// the relay create a chat and report its id through the stream marker. With
// neither set the relay runs in ephemeral mode and persists nothing.
type Turn struct {
	Messages []ai.ChatMessage
	ChatID   uint
	OwnerID  string
}

// Result reports what one relay run forwarded and persisted.
type Result struct {
	Content     string
	ChatID      uint
	CreatedChat bool
	ReadErr     error
}

type Relay struct {
	persister     Persister
	log           *zap.Logger
	maxReplyBytes int
}

// NewRelay builds a relay. maxReplyBytes caps the accumulated reply; zero
// means unlimited.
func NewRelay(persister Persister, log *zap.Logger, maxReplyBytes int) *Relay {
	return &Relay{
		persister:     persister,
		log:           log,
		maxReplyBytes: maxReplyBytes,
	}
}

// Run drains the upstream stream, forwarding each extracted delta fragment to
// out in arrival order, then performs exactly one persistence pass. Upstream
// read errors and client write errors never abort the pass: whatever was
// accumulated is persisted. When a new chat is created its id is appended
// after all content as a marker line: a blank line followed by a single JSON
// object of the form {"chatId":N}.
func (r *Relay) Run(ctx context.Context, upstream io.Reader, out StreamWriter, turn Turn) Result {
	var (
		full    strings.Builder
		result  Result
		writeOK = true
		capped  bool
	)

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			continue
		}

		var chunk deltaChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			r.log.Debug("skipping non-json stream line", zap.String("line", payload))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		// Once capped, drop everything: appending a later, smaller fragment
		// would leave a silent gap in the persisted text.
		if capped {
			continue
		}
		if r.maxReplyBytes > 0 && full.Len()+len(text) > r.maxReplyBytes {
			capped = true
			r.log.Warn("reply cap reached, draining remaining stream",
				zap.Int("max_reply_bytes", r.maxReplyBytes))
			continue
		}

		full.WriteString(text)
		if writeOK {
			if _, err := out.Write([]byte(text)); err != nil {
				// Caller is gone. Keep draining so the turn still persists.
				writeOK = false
				r.log.Warn("client write failed, forwarding stopped", zap.Error(err))
			} else {
				out.Flush()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// Partial content already sent stands; the pass below still runs.
		result.ReadErr = err
		r.log.Error("upstream read failed mid-stream", zap.Error(err))
	}

	result.Content = full.String()
	r.persist(ctx, out, turn, &result, writeOK)
	return result
}

func (r *Relay) persist(ctx context.Context, out StreamWriter, turn Turn, result *Result, writeOK bool) {
	if turn.ChatID == 0 && turn.OwnerID == "" {
		return
	}
	if len(turn.Messages) == 0 {
		return
	}
	user := turn.Messages[len(turn.Messages)-1]

	// The caller may have disconnected; persistence proceeds regardless.
	ctx = context.WithoutCancel(ctx)

	if turn.ChatID != 0 {
		result.ChatID = turn.ChatID
		if err := r.persister.PersistTurn(ctx, turn.ChatID, user, result.Content); err != nil {
			r.log.Error("persist turn failed", zap.Uint("chat_id", turn.ChatID), zap.Error(err))
		}
		return
	}

	chat, err := r.persister.CreateChatFromMessage(ctx, user.Content, turn.OwnerID)
	if err != nil {
		r.log.Error("create chat failed after stream", zap.Error(err))
		return
	}
	result.ChatID = chat.ID
	result.CreatedChat = true

	if err := r.persister.PersistTurn(ctx, chat.ID, user, result.Content); err != nil {
		r.log.Error("persist turn failed", zap.Uint("chat_id", chat.ID), zap.Error(err))
	}

	if writeOK {
		marker, _ := json.Marshal(struct {
			ChatID uint `json:"chatId"`
		}{chat.ID})
		if _, err := out.Write(append(append([]byte("\n\n"), marker...), '\n')); err == nil {
			out.Flush()
		}
	}
}

type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
