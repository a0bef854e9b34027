// README: Trip chat handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"diomy/internal/modules/chat"
	"diomy/internal/types"
)

type ChatService interface {
	Post(ctx context.Context, tripID, senderID types.ID, content string) (*chat.Message, error)
	List(ctx context.Context, tripID, viewer types.ID) ([]chat.Message, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{chat: svc}
}

type postMessageReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *ChatHandler) List(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	msgs, err := h.chat.List(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(c, http.StatusOK, gin.H{"messages": msgs})
}

func (h *ChatHandler) Post(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.chat.Post(c.Request.Context(), id, caller(c), req.Content)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}
