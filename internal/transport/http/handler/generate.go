package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatrelay/internal/ai"
	"chatrelay/internal/app"
	"chatrelay/internal/relay"
	"chatrelay/internal/transport/http/response"
)

// CompletionGateway is the upstream side of the completion endpoints.
// Satisfied by *ai.Client.
type CompletionGateway interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (*ai.Completion, error)
	Stream(ctx context.Context, messages []ai.ChatMessage) (io.ReadCloser, error)
}

type GenerateHandler struct {
	gateway     CompletionGateway
	relay       *relay.Relay
	chatService *app.ChatService
	log         *zap.Logger
}

type GenerateRequest struct {
	Messages []ai.ChatMessage `json:"messages" binding:"required,min=1,dive"`
	ChatID   uint             `json:"chatId"`
	UserID   string           `json:"userId"`
}

func NewGenerateHandler(gateway CompletionGateway, rel *relay.Relay, chatService *app.ChatService, log *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		gateway:     gateway,
		relay:       rel,
		chatService: chatService,
		log:         log,
	}
}

// Generate proxies one blocking completion and persists the turn per the
// chatId/userId rules. The upstream envelope is returned verbatim, augmented
// with a chatId field when a new chat was created.
func (h *GenerateHandler) Generate(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}

	completion, err := h.gateway.Complete(c.Request.Context(), req.Messages)
	if err != nil {
		h.respondUpstreamError(c, err)
		return
	}

	h.respondCompletion(c, req, completion)
}

// GenerateMock serves the same contract as Generate from the deterministic
// mock gateway, including identical persistence side effects.
func (h *GenerateHandler) GenerateMock(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}

	h.respondCompletion(c, req, ai.MockComplete(req.Messages))
}

// GenerateStream relays the upstream stream to the caller and persists the
// accumulated turn once the stream drains. Errors after headers are sent are
// logged only; the committed stream cannot change status.
func (h *GenerateHandler) GenerateStream(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}

	upstream, err := h.gateway.Stream(c.Request.Context(), req.Messages)
	if err != nil {
		h.respondUpstreamError(c, err)
		return
	}
	defer upstream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	h.relay.Run(c.Request.Context(), upstream, c.Writer, relay.Turn{
		Messages: req.Messages,
		ChatID:   req.ChatID,
		OwnerID:  strings.TrimSpace(req.UserID),
	})
}

func (h *GenerateHandler) respondCompletion(c *gin.Context, req GenerateRequest, completion *ai.Completion) {
	user := req.Messages[len(req.Messages)-1]

	switch {
	case req.ChatID != 0:
		if err := h.chatService.PersistTurn(c.Request.Context(), req.ChatID, user, completion.Message.Content); err != nil {
			h.log.Error("persist turn failed", zap.Uint("chat_id", req.ChatID), zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "persist messages failed")
			return
		}
		c.Data(http.StatusOK, "application/json", completion.Raw)

	case strings.TrimSpace(req.UserID) != "":
		chat, err := h.chatService.CreateChatFromMessage(c.Request.Context(), user.Content, req.UserID)
		if err != nil {
			h.log.Error("create chat failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create chat failed")
			return
		}
		if err := h.chatService.PersistTurn(c.Request.Context(), chat.ID, user, completion.Message.Content); err != nil {
			h.log.Error("persist turn failed", zap.Uint("chat_id", chat.ID), zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "persist messages failed")
			return
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(completion.Raw, &envelope); err != nil {
			c.Data(http.StatusOK, "application/json", completion.Raw)
			return
		}
		envelope["chatId"] = chat.ID
		c.JSON(http.StatusOK, envelope)

	default:
		// Ephemeral mode: nothing to persist.
		c.Data(http.StatusOK, "application/json", completion.Raw)
	}
}

func (h *GenerateHandler) respondUpstreamError(c *gin.Context, err error) {
	var statusErr *ai.StatusError
	switch {
	case errors.As(err, &statusErr):
		response.Error(c, statusErr.Code, response.CodeUpstreamError, "call ai service failed")
	case errors.Is(err, ai.ErrBadResponseShape):
		response.Error(c, http.StatusInternalServerError, response.CodeUpstreamError, "invalid ai response shape")
	default:
		h.log.Error("upstream request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeUpstreamError, "call ai service failed")
	}
}

func bindGenerateRequest(c *gin.Context) (GenerateRequest, bool) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid messages format")
		return GenerateRequest{}, false
	}
	return req, true
}
