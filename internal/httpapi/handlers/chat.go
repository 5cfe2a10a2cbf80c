package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/askchat/backend/internal/chat"
	"github.com/askchat/backend/internal/common"
)

type createDirectChatReq struct {
	PeerID string `json:"peer_id" binding:"required"`
}

func (h *Handler) CreateDirectChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createDirectChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.PeerID == uid {
		common.Fail(c, http.StatusBadRequest, 10003, "cannot chat with yourself")
		return
	}

	conv, err := h.Svc.CreateOrGetDirectChat(c.Request.Context(), uid, req.PeerID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create chat")
		return
	}
	common.OK(c, gin.H{"chat_id": conv.ID})
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	convs, err := h.Svc.ListConversations(c.Request.Context(), uid, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": convs})
}

type sendMessageReq struct {
	Text     string `json:"text"`
	MediaURL string `json:"media_url"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Text == "" && req.MediaURL == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "text or media_url required")
		return
	}

	msg, err := h.Svc.SendMessage(c.Request.Context(), c.Param("chat_id"), uid, req.Text, req.MediaURL)
	if err != nil {
		switch {
		case chat.IsNotFound(err):
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
		case errors.Is(err, chat.ErrNotParticipant):
			common.Fail(c, http.StatusForbidden, 40301, "not a participant")
		default:
			common.Fail(c, http.StatusInternalServerError, 50003, "failed to send message")
		}
		return
	}
	common.OK(c, gin.H{"message": msg})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.Svc.ListMessages(c.Request.Context(), uid, c.Param("chat_id"), limit, c.Query("before_id"))
	if err != nil {
		switch {
		case chat.IsNotFound(err):
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
		case errors.Is(err, chat.ErrNotParticipant):
			common.Fail(c, http.StatusForbidden, 40301, "not a participant")
		default:
			common.Fail(c, http.StatusInternalServerError, 50004, "failed to list messages")
		}
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

// ResolveSource follows a reply citation ("<chatId>::<messageId>") for
// client-side deep-linking.
func (h *Handler) ResolveSource(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msg, err := h.Svc.ResolveSource(c.Request.Context(), uid, c.Param("ref"))
	if err != nil {
		switch {
		case chat.IsNotFound(err):
			common.Fail(c, http.StatusNotFound, 40005, "source not found")
		case errors.Is(err, chat.ErrNotParticipant):
			common.Fail(c, http.StatusForbidden, 40301, "not a participant")
		default:
			common.Fail(c, http.StatusBadRequest, 10004, "malformed source ref")
		}
		return
	}
	common.OK(c, gin.H{"message": msg})
}
