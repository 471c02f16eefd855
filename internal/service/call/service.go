// Package call implements the call lifecycle state machine: initiate,
// answer, decline, end, invite and media updates over durable call state,
// with lifecycle events fanned out through the connection registry.
package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wavelink-backend/internal/domain"
	"wavelink-backend/pkg/constants"
	apperrors "wavelink-backend/pkg/errors"
	"wavelink-backend/pkg/metrics"
)

// CallRepository is the durable store for calls, participants and invitations
type CallRepository interface {
	CreateWithParticipants(ctx context.Context, call *domain.Call) error
	GetWithParticipants(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatusIf(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus) (bool, error)
	MarkEnded(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedBy *uuid.UUID, endReason string, endedAt time.Time) error
	AddParticipant(ctx context.Context, p *domain.CallParticipant) error
	MarkParticipantJoined(ctx context.Context, callID, userID uuid.UUID, joinedAt time.Time, metadata map[string]interface{}) (bool, error)
	MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID, leftAt time.Time) (bool, error)
	SetParticipantStatus(ctx context.Context, callID, userID uuid.UUID, status domain.ParticipantStatus) error
	UpdateParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoEnabled, isScreenSharing *bool) error
	ActiveOneOnOneBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Call, error)
	GetUserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, int64, error)
	GetActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
	CreateInvitation(ctx context.Context, inv *domain.CallInvitation) error
	RespondToInvitation(ctx context.Context, callID, userID uuid.UUID, status domain.InvitationStatus, respondedAt time.Time) error
	ExpireStaleInvitations(ctx context.Context, callID uuid.UUID, now time.Time) error
	GetInvitations(ctx context.Context, callID uuid.UUID) ([]*domain.CallInvitation, error)
}

// UserRepository resolves which of the requested users exist and are active
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FilterActive(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error)
}

// ConnectionRegistry is the live-connection view used for event fan-out
type ConnectionRegistry interface {
	SendToUser(userID uuid.UUID, message []byte) int
	SendToCall(callID uuid.UUID, message []byte, exclude uuid.UUID) int
	RemoveFromCall(callID, userID uuid.UUID)
	CloseCall(callID uuid.UUID)
	IsOnline(userID uuid.UUID) bool
}

// PushNotifier reaches devices that have no live signaling connection
type PushNotifier interface {
	NotifyIncomingCall(ctx context.Context, userID, callID uuid.UUID, callerName, callType string) error
	NotifyCallEnded(ctx context.Context, userID, callID uuid.UUID, reason string) error
}

// Service orchestrates call state transitions
type Service struct {
	calls    CallRepository
	users    UserRepository
	registry ConnectionRegistry
	push     PushNotifier
	metrics  *metrics.Metrics

	locks callLocks
	now   func() time.Time
}

// NewService creates a new call orchestration service. push and metrics
// may be nil.
func NewService(calls CallRepository, users UserRepository, registry ConnectionRegistry, push PushNotifier, m *metrics.Metrics) *Service {
	return &Service{
		calls:    calls,
		users:    users,
		registry: registry,
		push:     push,
		metrics:  m,
		now:      time.Now,
	}
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	InitiatorID     uuid.UUID
	ParticipantIDs  []uuid.UUID
	CallType        domain.CallType
	MaxParticipants *int
	Metadata        map[string]interface{}
}

// InitiateCall creates a new ringing call with the initiator self-joined and
// one ringing participant per invitee, then rings the invitees.
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*domain.Call, error) {
	if input.CallType != domain.CallTypeAudio && input.CallType != domain.CallTypeVideo {
		return nil, apperrors.ValidationError("call_type must be audio or video")
	}

	invitees := dedupe(input.ParticipantIDs)
	if len(invitees) == 0 {
		return nil, apperrors.ValidationError("at least one participant is required")
	}
	for _, id := range invitees {
		if id == input.InitiatorID {
			return nil, apperrors.SelfCallError()
		}
	}

	active, err := s.users.FilterActive(ctx, invitees)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if len(active) != len(invitees) {
		return nil, apperrors.UserNotFoundError()
	}

	mode := domain.CallModeOneOnOne
	if len(invitees) > 1 {
		mode = domain.CallModeGroup
	}

	if input.MaxParticipants != nil {
		if mode != domain.CallModeGroup {
			return nil, apperrors.ValidationError("max_participants only applies to group calls")
		}
		if *input.MaxParticipants < 2 {
			return nil, apperrors.ValidationError("max_participants must be at least 2")
		}
		if len(invitees)+1 > *input.MaxParticipants {
			return nil, apperrors.MaxParticipantsError()
		}
	}

	if mode == domain.CallModeOneOnOne {
		existing, err := s.calls.ActiveOneOnOneBetween(ctx, input.InitiatorID, invitees[0])
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if existing != nil {
			return nil, apperrors.AlreadyInCallError("Already in an active call with this user")
		}
	}

	now := s.now()
	call := &domain.Call{
		ID:              uuid.New(),
		InitiatorID:     input.InitiatorID,
		CallType:        input.CallType,
		CallMode:        mode,
		Status:          domain.CallStatusRinging,
		MaxParticipants: input.MaxParticipants,
		StartedAt:       now,
		Metadata:        input.Metadata,
	}

	joinedAt := now
	call.Participants = append(call.Participants, &domain.CallParticipant{
		ID:             uuid.New(),
		CallID:         call.ID,
		UserID:         input.InitiatorID,
		Role:           domain.RoleInitiator,
		Status:         domain.ParticipantJoined,
		InvitedAt:      now,
		JoinedAt:       &joinedAt,
		IsVideoEnabled: input.CallType == domain.CallTypeVideo,
	})
	for _, userID := range invitees {
		call.Participants = append(call.Participants, &domain.CallParticipant{
			ID:             uuid.New(),
			CallID:         call.ID,
			UserID:         userID,
			Role:           domain.RoleParticipant,
			Status:         domain.ParticipantRinging,
			InvitedAt:      now,
			IsVideoEnabled: input.CallType == domain.CallTypeVideo,
		})
	}

	if err := s.calls.CreateWithParticipants(ctx, call); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordCallStarted(string(call.CallType), string(call.CallMode))
	}
	s.notifyIncomingCall(ctx, call, invitees)

	return call, nil
}

// AnswerCall flips the answering participant to joined. The first joiner
// also promotes the call from ringing to active, for 1-on-1 and group alike.
// Client metadata, when present, is merged into the participant row.
func (s *Service) AnswerCall(ctx context.Context, callID, userID uuid.UUID, metadata map[string]interface{}) (*domain.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsActive() {
		return nil, apperrors.InvalidCallStateError("Call is no longer active")
	}

	p := call.Participant(userID)
	if p == nil {
		return nil, apperrors.NotAParticipantError()
	}
	if p.Status != domain.ParticipantRinging {
		return nil, apperrors.InvalidCallStateError("Cannot answer in current state")
	}

	now := s.now()
	ok, err := s.calls.MarkParticipantJoined(ctx, callID, userID, now, metadata)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.ConflictError("Call was answered concurrently")
	}

	if call.Status == domain.CallStatusRinging {
		// losing this race just means another joiner already activated the call
		if _, err := s.calls.UpdateStatusIf(ctx, callID, domain.CallStatusRinging, domain.CallStatusActive); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
	}

	if err := s.calls.RespondToInvitation(ctx, callID, userID, domain.InvitationAccepted, now); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	s.broadcastParticipantEvent(callID, userID, EventParticipantJoined)

	return s.getCall(ctx, callID)
}

// DeclineCall rejects a ringing invitation. A 1-on-1 decline terminates the
// whole call with ended_by stamped but no end reason; a group call only
// terminates once every invitee has declined or missed it. The client's
// reason travels in the call-ended event, never in the stored row.
func (s *Service) DeclineCall(ctx context.Context, callID, userID uuid.UUID, reason string) (*domain.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	if reason == "" {
		reason = domain.EndReasonDeclined
	}

	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsActive() {
		return nil, apperrors.InvalidCallStateError("Call is no longer active")
	}

	p := call.Participant(userID)
	if p == nil {
		return nil, apperrors.NotAParticipantError()
	}
	if p.Status != domain.ParticipantRinging {
		return nil, apperrors.InvalidCallStateError("Cannot decline in current state")
	}

	now := s.now()
	if err := s.calls.SetParticipantStatus(ctx, callID, userID, domain.ParticipantDeclined); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if err := s.calls.RespondToInvitation(ctx, callID, userID, domain.InvitationDeclined, now); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	p.Status = domain.ParticipantDeclined

	switch {
	case !call.IsGroupCall():
		// the stored row carries no end reason, only who declined and when
		if err := s.calls.MarkEnded(ctx, callID, domain.CallStatusDeclined, &userID, "", now); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		s.finishCall(ctx, call, userID, reason, now)

	case call.AllInviteesResolved():
		if err := s.calls.MarkEnded(ctx, callID, domain.CallStatusDeclined, nil, domain.EndReasonAllDeclined, now); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		s.finishCall(ctx, call, userID, domain.EndReasonAllDeclined, now)

	default:
		s.broadcastParticipantEvent(callID, userID, EventParticipantDeclined)
	}

	return s.getCall(ctx, callID)
}

// EndCall hangs up. A joined caller is moved to left; a 1-on-1 call ends
// immediately and force-leaves the peer, a group call ends only when the
// last joined participant leaves.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID, reason string) (*domain.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.InvalidCallStateError("Call has already ended")
	}

	p := call.Participant(userID)
	if p == nil {
		return nil, apperrors.NotAParticipantError()
	}

	now := s.now()
	if p.Status == domain.ParticipantJoined {
		if _, err := s.calls.MarkParticipantLeft(ctx, callID, userID, now); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		p.Status = domain.ParticipantLeft
		s.registry.RemoveFromCall(callID, userID)
	}

	if reason == "" {
		reason = domain.EndReasonUserHangup
	}

	if !call.IsGroupCall() {
		// force the remaining side out so neither row lingers joined
		for _, other := range call.Participants {
			if other.UserID == userID || other.Status != domain.ParticipantJoined {
				continue
			}
			if _, err := s.calls.MarkParticipantLeft(ctx, callID, other.UserID, now); err != nil {
				return nil, apperrors.DatabaseError(err)
			}
			other.Status = domain.ParticipantLeft
		}
		if err := s.calls.MarkEnded(ctx, callID, domain.CallStatusEnded, &userID, reason, now); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		s.finishCall(ctx, call, userID, reason, now)
		return s.getCall(ctx, callID)
	}

	if call.JoinedCount() == 0 {
		if err := s.calls.MarkEnded(ctx, callID, domain.CallStatusEnded, &userID, domain.EndReasonAllLeft, now); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		s.finishCall(ctx, call, userID, domain.EndReasonAllLeft, now)
	} else {
		s.broadcastParticipantEvent(callID, userID, EventParticipantLeft)
	}

	return s.getCall(ctx, callID)
}

// finishCall handles the shared tail of every terminal transition:
// membership teardown, end notifications and metrics.
func (s *Service) finishCall(ctx context.Context, call *domain.Call, actor uuid.UUID, reason string, endedAt time.Time) {
	s.registry.CloseCall(call.ID)
	s.notifyCallEnded(ctx, call, actor, reason)
	if s.metrics != nil {
		s.metrics.RecordCallEnded(string(call.CallMode), endedAt.Sub(call.StartedAt))
	}
}

// InviteToCall pulls additional users into a running group call. Users who
// are already participants are skipped without error.
func (s *Service) InviteToCall(ctx context.Context, callID, inviterID uuid.UUID, userIDs []uuid.UUID) (*domain.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.calls.ExpireStaleInvitations(ctx, callID, s.now()); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if !call.IsGroupCall() || call.Status != domain.CallStatusActive {
		return nil, apperrors.InvalidCallStateError("Invites require an active group call")
	}

	inviter := call.Participant(inviterID)
	if inviter == nil {
		return nil, apperrors.NotAParticipantError()
	}
	if inviter.Status != domain.ParticipantJoined {
		return nil, apperrors.ForbiddenError("Only joined participants can invite")
	}

	var newIDs []uuid.UUID
	for _, id := range dedupe(userIDs) {
		if call.Participant(id) == nil {
			newIDs = append(newIDs, id)
		}
	}
	if len(newIDs) == 0 {
		return call, nil
	}

	if call.MaxParticipants != nil && len(call.Participants)+len(newIDs) > *call.MaxParticipants {
		return nil, apperrors.MaxParticipantsError()
	}

	active, err := s.users.FilterActive(ctx, newIDs)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if len(active) != len(newIDs) {
		return nil, apperrors.UserNotFoundError()
	}

	now := s.now()
	expiresAt := now.Add(constants.CallInvitationExpiry)
	for _, userID := range newIDs {
		participant := &domain.CallParticipant{
			ID:             uuid.New(),
			CallID:         callID,
			UserID:         userID,
			Role:           domain.RoleParticipant,
			Status:         domain.ParticipantRinging,
			InvitedAt:      now,
			IsVideoEnabled: call.CallType == domain.CallTypeVideo,
		}
		if err := s.calls.AddParticipant(ctx, participant); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		invitation := &domain.CallInvitation{
			ID:            uuid.New(),
			CallID:        callID,
			InvitedUserID: userID,
			InvitedBy:     inviterID,
			Status:        domain.InvitationPending,
			InvitedAt:     now,
			ExpiresAt:     &expiresAt,
		}
		if err := s.calls.CreateInvitation(ctx, invitation); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		call.Participants = append(call.Participants, participant)
	}

	s.notifyIncomingCall(ctx, call, newIDs)

	return s.getCall(ctx, callID)
}

// UpdateMediaState applies a partial media flag update for a joined
// participant and tells the rest of the call.
func (s *Service) UpdateMediaState(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoEnabled, isScreenSharing *bool) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	p := call.Participant(userID)
	if p == nil {
		return nil, apperrors.NotAParticipantError()
	}
	if p.Status != domain.ParticipantJoined {
		return nil, apperrors.InvalidCallStateError("Only joined participants can update media state")
	}

	if err := s.calls.UpdateParticipantMedia(ctx, callID, userID, isMuted, isVideoEnabled, isScreenSharing); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	s.broadcastParticipantEvent(callID, userID, EventMediaStateUpdate)

	return s.getCall(ctx, callID)
}

// GetCall returns the call aggregate for a participant
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Participant(userID) == nil {
		return nil, apperrors.NotAParticipantError()
	}
	return call, nil
}

// GetCallInvitations returns the invitation records for a call, visible to
// participants only. Pending invitations past their deadline are expired
// before the read.
func (s *Service) GetCallInvitations(ctx context.Context, callID, userID uuid.UUID) ([]*domain.CallInvitation, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Participant(userID) == nil {
		return nil, apperrors.NotAParticipantError()
	}
	if err := s.calls.ExpireStaleInvitations(ctx, callID, s.now()); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	invitations, err := s.calls.GetInvitations(ctx, callID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return invitations, nil
}

// IsParticipantJoined reports whether a user holds a durable joined row in
// the call. The signaling relay uses this as its authorization check.
func (s *Service) IsParticipantJoined(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	call, err := s.calls.GetWithParticipants(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("failed to load call: %w", err)
	}
	if call == nil {
		return false, nil
	}
	p := call.Participant(userID)
	return p != nil && p.Status == domain.ParticipantJoined, nil
}

// GetCallHistory returns the user's calls, newest first
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, int64, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	calls, total, err := s.calls.GetUserCallHistory(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.DatabaseError(err)
	}
	return calls, total, nil
}

// GetActiveCalls returns the calls the user is currently ringing or joined in
func (s *Service) GetActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	calls, err := s.calls.GetActiveCallsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

func (s *Service) getCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetWithParticipants(ctx, callID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if call == nil {
		return nil, apperrors.CallNotFoundError()
	}
	return call, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
