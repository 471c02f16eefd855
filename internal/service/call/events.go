package call

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/internal/domain"
	"wavelink-backend/pkg/logger"
)

// Lifecycle event types pushed to clients over their signaling connections
const (
	EventIncomingCall        = "incoming-call"
	EventCallEnded           = "call-ended"
	EventParticipantJoined   = "participant-joined"
	EventParticipantLeft     = "participant-left"
	EventParticipantDeclined = "participant-declined"
	EventMediaStateUpdate    = "media-state-update"
)

// callEvent is the JSON envelope for unsolicited server pushes
type callEvent struct {
	Type      string       `json:"type"`
	CallID    uuid.UUID    `json:"call_id"`
	UserID    *uuid.UUID   `json:"user_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Call      *domain.Call `json:"call,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Service) marshalEvent(ev *callEvent) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal call event", zap.String("type", ev.Type), zap.Error(err))
		return nil
	}
	return data
}

// notifyIncomingCall rings the invitees: live connections get a websocket
// event, users without one get a push notification instead.
func (s *Service) notifyIncomingCall(ctx context.Context, call *domain.Call, invitees []uuid.UUID) {
	data := s.marshalEvent(&callEvent{
		Type:      EventIncomingCall,
		CallID:    call.ID,
		Call:      call,
		Timestamp: s.now(),
	})
	if data == nil {
		return
	}

	callerName := ""
	for _, userID := range invitees {
		if s.registry.SendToUser(userID, data) > 0 {
			continue
		}
		if s.push == nil {
			continue
		}
		if callerName == "" {
			callerName = s.callerName(ctx, call.InitiatorID)
		}
		if err := s.push.NotifyIncomingCall(ctx, userID, call.ID, callerName, string(call.CallType)); err != nil {
			logger.FromContext(ctx).Warn("failed to push incoming-call notification",
				zap.String("user_id", userID.String()),
				zap.String("call_id", call.ID.String()),
				zap.Error(err))
		}
	}
}

// callerName resolves a user's displayable name for push payloads. Falls
// back to the raw id when the lookup fails so the ring still goes out.
func (s *Service) callerName(ctx context.Context, userID uuid.UUID) string {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return userID.String()
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Username
}

// notifyCallEnded tells every other participant the call is over. Delivery
// is personal rather than call-wide because ringing participants never
// entered the signaling membership set.
func (s *Service) notifyCallEnded(ctx context.Context, call *domain.Call, actor uuid.UUID, reason string) {
	data := s.marshalEvent(&callEvent{
		Type:      EventCallEnded,
		CallID:    call.ID,
		UserID:    &actor,
		Reason:    reason,
		Timestamp: s.now(),
	})
	if data == nil {
		return
	}

	for _, p := range call.Participants {
		if p.UserID == actor {
			continue
		}
		delivered := s.registry.SendToUser(p.UserID, data)
		if delivered == 0 && p.Status == domain.ParticipantRinging && s.push != nil {
			if err := s.push.NotifyCallEnded(ctx, p.UserID, call.ID, reason); err != nil {
				logger.FromContext(ctx).Warn("failed to push call-ended notification",
					zap.String("user_id", p.UserID.String()),
					zap.String("call_id", call.ID.String()),
					zap.Error(err))
			}
		}
	}
}

// broadcastParticipantEvent fans a join/leave/decline/media event out to the
// other members of the call's signaling mesh.
func (s *Service) broadcastParticipantEvent(callID, userID uuid.UUID, eventType string) {
	data := s.marshalEvent(&callEvent{
		Type:      eventType,
		CallID:    callID,
		UserID:    &userID,
		Timestamp: s.now(),
	})
	if data == nil {
		return
	}
	s.registry.SendToCall(callID, data, userID)
}
