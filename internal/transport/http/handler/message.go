package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/app"
	"chatrelay/internal/transport/http/response"
)

type MessageHandler struct {
	chatService *app.ChatService
}

type AppendMessageRequest struct {
	Role    string `json:"role" binding:"omitempty,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
	ChatID  uint   `json:"chatId" binding:"required,gt=0"`
}

func NewMessageHandler(chatService *app.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	chatIDRaw := c.Query("chatId")
	chatID64, err := strconv.ParseUint(chatIDRaw, 10, 64)
	if err != nil || chatID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing or invalid chatId")
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), uint(chatID64))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		return
	}
	response.OK(c, messages)
}

func (h *MessageHandler) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "content and chatId must not be empty")
		return
	}

	messages, err := h.chatService.AppendMessage(c.Request.Context(), app.AppendMessageInput{
		Role:    req.Role,
		Content: req.Content,
		ChatID:  req.ChatID,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "content and chatId must not be empty")
		case errors.Is(err, app.ErrChatNotFound):
			response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "append message failed")
		}
		return
	}

	c.JSON(http.StatusCreated, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    gin.H{"messages": messages},
	})
}
