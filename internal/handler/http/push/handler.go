// Package push exposes device push-token registration so offline users can
// be rung through FCM.
package push

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wavelink-backend/pkg/response"
)

// TokenStore persists device tokens per user
type TokenStore interface {
	RegisterToken(ctx context.Context, userID uuid.UUID, token string) error
	RemoveTokens(ctx context.Context, userID uuid.UUID, tokens []string) error
}

// Handler handles push token HTTP requests
type Handler struct {
	tokens TokenStore
}

// NewHandler creates a new push token handler
func NewHandler(tokens TokenStore) *Handler {
	return &Handler{tokens: tokens}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"omitempty,oneof=ios android web"`
}

// RegisterToken registers a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.tokens.RegisterToken(c.Request.Context(), userID, req.Token); err != nil {
		response.InternalError(c, "Failed to register token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token registered"})
}

// UnregisterTokenRequest identifies a token to remove
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes a device token for the authenticated user
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.tokens.RemoveTokens(c.Request.Context(), userID, []string{req.Token}); err != nil {
		response.InternalError(c, "Failed to remove token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token removed"})
}
