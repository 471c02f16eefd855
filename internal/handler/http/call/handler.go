// Package call exposes the call-control REST surface. Each endpoint maps
// 1:1 onto an orchestrator operation and returns the serialized call
// aggregate.
package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/service/call"
	"wavelink-backend/pkg/pagination"
	"wavelink-backend/pkg/response"
	"wavelink-backend/pkg/webrtc"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
	rtcConfig   *webrtc.Config
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service, rtcConfig *webrtc.Config) *Handler {
	return &Handler{
		callService: callService,
		rtcConfig:   rtcConfig,
	}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

func parseUserIDs(c *gin.Context, raw []string) ([]uuid.UUID, bool) {
	ids := make([]uuid.UUID, len(raw))
	for i, idStr := range raw {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid user ID: "+idStr)
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	CallType        string                 `json:"call_type" binding:"required,oneof=audio video"`
	ParticipantIDs  []string               `json:"participant_ids" binding:"required,min=1"`
	MaxParticipants *int                   `json:"max_participants,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// InitiateCall starts a new call
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	participantIDs, ok := parseUserIDs(c, req.ParticipantIDs)
	if !ok {
		return
	}

	result, err := h.callService.InitiateCall(c.Request.Context(), &call.InitiateCallInput{
		InitiatorID:     userID,
		ParticipantIDs:  participantIDs,
		CallType:        domain.CallType(req.CallType),
		MaxParticipants: req.MaxParticipants,
		Metadata:        req.Metadata,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"call":        result,
		"ice_servers": h.rtcConfig.ICEServers,
	})
}

// AnswerCallRequest carries optional client metadata merged into the
// answering participant's row
type AnswerCallRequest struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AnswerCall answers a ringing call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req AnswerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.AnswerCall(c.Request.Context(), callID, userID, req.Metadata)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call":        result,
		"ice_servers": h.rtcConfig.ICEServers,
	})
}

// DeclineCallRequest carries an optional decline reason
type DeclineCallRequest struct {
	Reason string `json:"reason,omitempty"`
}

// DeclineCall rejects a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req DeclineCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.DeclineCall(c.Request.Context(), callID, userID, req.Reason)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// EndCallRequest carries an optional end reason
type EndCallRequest struct {
	Reason string `json:"reason,omitempty"`
}

// EndCall hangs up or leaves a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req EndCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.EndCall(c.Request.Context(), callID, userID, req.Reason)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// InviteRequest lists users to pull into a running group call
type InviteRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
}

// InviteToCall invites users into an active group call
// POST /v1/calls/:id/invite
func (h *Handler) InviteToCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	userIDs, ok := parseUserIDs(c, req.UserIDs)
	if !ok {
		return
	}

	result, err := h.callService.InviteToCall(c.Request.Context(), callID, userID, userIDs)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// MediaStateRequest is a partial media flag update
type MediaStateRequest struct {
	IsMuted         *bool `json:"is_muted,omitempty"`
	IsVideoEnabled  *bool `json:"is_video_enabled,omitempty"`
	IsScreenSharing *bool `json:"is_screen_sharing,omitempty"`
}

// UpdateMediaState applies a partial media state update
// PATCH /v1/calls/:id/media
func (h *Handler) UpdateMediaState(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req MediaStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.IsMuted == nil && req.IsVideoEnabled == nil && req.IsScreenSharing == nil {
		response.ValidationError(c, "At least one media flag is required")
		return
	}

	result, err := h.callService.UpdateMediaState(c.Request.Context(), callID, userID, req.IsMuted, req.IsVideoEnabled, req.IsScreenSharing)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetCall retrieves one call aggregate
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetInvitations lists the invitation records for a call
// GET /v1/calls/:id/invitations
func (h *Handler) GetInvitations(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	invitations, err := h.callService.GetCallInvitations(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invitations": invitations})
}

// GetCallHistory lists the user's calls, newest first
// GET /v1/calls/history
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, total, err := h.callService.GetCallHistory(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.NewPageResponse(params, total, calls))
}

// GetActiveCalls lists the user's ringing or active calls
// GET /v1/calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	calls, err := h.callService.GetActiveCalls(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"calls": calls})
}

// GetWebRTCConfig returns the ICE server configuration for peer setup
// GET /v1/calls/webrtc-config
func (h *Handler) GetWebRTCConfig(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"ice_servers": h.rtcConfig.ICEServers,
		"max_bitrate": h.rtcConfig.MaxBitrate,
		"audio_codec": h.rtcConfig.AudioCodec,
		"video_codec": h.rtcConfig.VideoCodec,
	})
}
