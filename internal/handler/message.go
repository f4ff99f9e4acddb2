package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/PulseChat/internal/service"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

type MessageHandler struct {
	messageService service.IMessageService
	logger         *logger.Logger
}

func NewMessageHandler(messageService service.IMessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		logger:         log.Named("message-handler"),
	}
}

// ListUsers returns the sidebar: every user except the caller.
func (h *MessageHandler) ListUsers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	users, err := h.messageService.ListContacts(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetMessages returns the conversation with :id, oldest first.
// Optional ?limit=N&before=<RFC3339 time> pages backwards.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var q service.ConversationQuery
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			respondError(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		q.Limit = limit
	}
	if s := c.Query("before"); s != "" {
		before, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid before")
			return
		}
		q.Before = before.UTC()
	}

	messages, err := h.messageService.GetConversation(c.Request.Context(), userID, c.Param("id"), q)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.messageService.SendMessage(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
