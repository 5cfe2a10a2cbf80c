package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askchat/backend/internal/common"
	"github.com/askchat/backend/internal/store"
)

type upsertProfileReq struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

// UpsertMe creates or updates the caller's profile. First-time creation
// also fires the user-created event that provisions the assistant room.
func (h *Handler) UpsertMe(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req upsertProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u := &store.User{ID: uid, DisplayName: req.DisplayName, PhotoURL: req.PhotoURL}
	if err := h.Svc.CreateUser(c.Request.Context(), u); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to save profile")
		return
	}
	common.OK(c, gin.H{"user": u})
}

type registerTokenReq struct {
	Token string `json:"token" binding:"required"`
}

// RegisterPushToken unions one device token into the caller's set. Called
// on app start and on token refresh.
func (h *Handler) RegisterPushToken(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req registerTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Svc.RegisterPushToken(c.Request.Context(), uid, req.Token); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to register token")
		return
	}
	common.OK(c, nil)
}
