package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/ai"
	"chatrelay/internal/model"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrChatNotFound = errors.New("chat not found")
)

// Stored when a completion produced no usable text; messages are never empty.
const emptyReplyFallback = "The model returned an empty response."

// Canned assistant reply for the plain message-append endpoint, which does
// not involve a model gateway.
const appendReplyTemplate = "You said: %q\n\nThis is a simulated reply. A deployed gateway routes this turn to the model instead."

type ChatStore interface {
	Create(chat *model.Chat) error
	List() ([]model.Chat, error)
	GetByID(chatID uint) (*model.Chat, error)
	UpdateTitle(chatID uint, title string) error
	DeleteByID(chatID uint) error
}

type MessageStore interface {
	Create(message *model.Message) error
	ListByChatID(chatID uint) ([]model.Message, error)
	DeleteByChatID(chatID uint) error
}

// AsyncMessagePublisher hands messages to the persist queue. Optional; when
// absent writes go straight through the MessageStore.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// HistoryCache is the optional Redis-backed message-list cache.
type HistoryCache interface {
	GetHistory(ctx context.Context, chatID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, chatID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, chatID uint) error
	MarkDirty(ctx context.Context, chatID uint) error
	IsDirty(ctx context.Context, chatID uint) (bool, error)
}

type ChatService struct {
	chats        ChatStore
	messages     MessageStore
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	log          *zap.Logger
}

func NewChatService(
	chats ChatStore,
	messages MessageStore,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	log *zap.Logger,
) *ChatService {
	return &ChatService{
		chats:        chats,
		messages:     messages,
		publisher:    publisher,
		historyCache: historyCache,
		log:          log,
	}
}

type CreateChatInput struct {
	Title   string
	OwnerID string
}

func (s *ChatService) CreateChat(input CreateChatInput) (*model.Chat, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrInvalidInput
	}

	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		owner = model.DefaultOwnerID
	}

	chat := &model.Chat{
		Title:   title,
		OwnerID: owner,
	}
	if err := s.chats.Create(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// CreateChatFromMessage creates the owning chat for a first-time
// conversation, deriving the title from the triggering user message.
func (s *ChatService) CreateChatFromMessage(ctx context.Context, content, ownerID string) (*model.Chat, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidInput
	}
	return s.CreateChat(CreateChatInput{
		Title:   model.DeriveTitle(content),
		OwnerID: ownerID,
	})
}

func (s *ChatService) ListChats() ([]model.Chat, error) {
	return s.chats.List()
}

func (s *ChatService) GetChat(chatID uint) (*model.Chat, error) {
	if chatID == 0 {
		return nil, ErrInvalidInput
	}
	chat, err := s.chats.GetByID(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *ChatService) RenameChat(chatID uint, title string) (*model.Chat, error) {
	title = strings.TrimSpace(title)
	if chatID == 0 || title == "" {
		return nil, ErrInvalidInput
	}
	chat, err := s.chats.GetByID(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if err := s.chats.UpdateTitle(chatID, title); err != nil {
		return nil, err
	}
	// Re-read so the response carries the store's updated_at, not the
	// pre-update snapshot.
	updated, err := s.chats.GetByID(chatID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrChatNotFound
	}
	return updated, nil
}

// DeleteChat removes the chat and cascades to its messages. The cascade is
// application-side; the store enforces no referential constraint.
func (s *ChatService) DeleteChat(ctx context.Context, chatID uint) error {
	if chatID == 0 {
		return ErrInvalidInput
	}
	chat, err := s.chats.GetByID(chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChatNotFound
	}
	if err := s.messages.DeleteByChatID(chatID); err != nil {
		return err
	}
	if err := s.chats.DeleteByID(chatID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, chatID)
	}
	return nil
}

// ListMessages returns a chat's messages in creation order. An empty list is
// a valid result, not an error.
func (s *ChatService) ListMessages(ctx context.Context, chatID uint) ([]model.Message, error) {
	if chatID == 0 {
		return nil, ErrInvalidInput
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, chatID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, chatID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListByChatID(chatID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []model.Message{}
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, chatID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, chatID, messages)
		}
	}
	return messages, nil
}

type AppendMessageInput struct {
	Role    string
	Content string
	ChatID  uint
}

// AppendMessage stores one message and synchronously creates a canned
// assistant reply, returning both in order.
func (s *ChatService) AppendMessage(ctx context.Context, input AppendMessageInput) ([]model.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" || input.ChatID == 0 {
		return nil, ErrInvalidInput
	}

	role := input.Role
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, ErrInvalidInput
	}

	chat, err := s.chats.GetByID(input.ChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	s.invalidateHistory(ctx, input.ChatID)

	userMessage := model.Message{
		ChatID:    input.ChatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.messages.Create(&userMessage); err != nil {
		return nil, err
	}

	reply := model.Message{
		ChatID:    input.ChatID,
		Role:      model.RoleAssistant,
		Content:   fmt.Sprintf(appendReplyTemplate, content),
		CreatedAt: time.Now(),
	}
	if err := s.messages.Create(&reply); err != nil {
		return nil, err
	}

	return []model.Message{userMessage, reply}, nil
}

// PersistTurn writes one conversational turn, user message first, assistant
// message second. Writes go through the async publisher when one is wired.
func (s *ChatService) PersistTurn(ctx context.Context, chatID uint, user ai.ChatMessage, assistantContent string) error {
	if chatID == 0 {
		return ErrInvalidInput
	}
	userContent := strings.TrimSpace(user.Content)
	if userContent == "" {
		return ErrInvalidInput
	}

	role := user.Role
	if role == "" {
		role = model.RoleUser
	}
	// Assistant content is stored byte-for-byte as accumulated. Only a stream
	// that produced no content at all gets the fallback; whitespace was
	// forwarded to the client and must persist unchanged.
	assistant := assistantContent
	if assistant == "" {
		assistant = emptyReplyFallback
	}

	s.invalidateHistory(ctx, chatID)

	userMessage := model.Message{
		ChatID:    chatID,
		Role:      role,
		Content:   user.Content,
		CreatedAt: time.Now(),
	}
	assistantMessage := model.Message{
		ChatID:    chatID,
		Role:      model.RoleAssistant,
		Content:   assistant,
		CreatedAt: time.Now(),
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, userMessage); err != nil {
			return fmt.Errorf("enqueue user message failed: %w", err)
		}
		if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
			return fmt.Errorf("enqueue assistant message failed: %w", err)
		}
		return nil
	}

	if err := s.messages.Create(&userMessage); err != nil {
		return err
	}
	return s.messages.Create(&assistantMessage)
}

func (s *ChatService) invalidateHistory(ctx context.Context, chatID uint) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.MarkDirty(ctx, chatID); err != nil {
		s.log.Warn("mark history dirty failed", zap.Uint("chat_id", chatID), zap.Error(err))
	}
	_ = s.historyCache.DeleteHistory(ctx, chatID)
}
