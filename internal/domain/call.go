package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes audio-only from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallMode is derived at creation time from the invitee count
type CallMode string

const (
	CallModeOneOnOne CallMode = "1-on-1"
	CallModeGroup    CallMode = "group"
)

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCancelled CallStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusDeclined, CallStatusFailed, CallStatusCancelled:
		return true
	}
	return false
}

// ParticipantRole distinguishes the initiator from invited participants
type ParticipantRole string

const (
	RoleInitiator   ParticipantRole = "initiator"
	RoleParticipant ParticipantRole = "participant"
)

// ParticipantStatus is one user's membership state in a call
type ParticipantStatus string

const (
	ParticipantRinging  ParticipantStatus = "ringing"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantMissed   ParticipantStatus = "missed"
)

// InvitationStatus is the state of a group-call invitation record
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// End reasons written to Call.EndReason or carried in call-ended events.
// A 1-on-1 decline stores no end reason; "declined" appears only in events.
const (
	EndReasonUserHangup  = "user_hangup"
	EndReasonDeclined    = "declined"
	EndReasonAllDeclined = "all_declined"
	EndReasonAllLeft     = "all_left"
)

// Call represents one voice or video session, 1-on-1 or group
type Call struct {
	ID              uuid.UUID              `json:"id"`
	InitiatorID     uuid.UUID              `json:"initiator_id"`
	CallType        CallType               `json:"call_type"`
	CallMode        CallMode               `json:"call_mode"`
	Status          CallStatus             `json:"status"`
	MaxParticipants *int                   `json:"max_participants,omitempty"` // group calls only, >= 2 when set
	StartedAt       time.Time              `json:"started_at"`
	EndedAt         *time.Time             `json:"ended_at,omitempty"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	EndedBy         *uuid.UUID             `json:"ended_by,omitempty"`
	EndReason       string                 `json:"end_reason,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`

	Participants []*CallParticipant `json:"participants,omitempty"`
}

// IsActive reports whether the call is still ringing or in progress
func (c *Call) IsActive() bool {
	return c.Status == CallStatusRinging || c.Status == CallStatusActive
}

// IsGroupCall reports whether the call runs in group mode
func (c *Call) IsGroupCall() bool {
	return c.CallMode == CallModeGroup
}

// Participant returns the participant row for userID, or nil
func (c *Call) Participant(userID uuid.UUID) *CallParticipant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// JoinedCount returns the number of participants currently joined
func (c *Call) JoinedCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// AllInviteesResolved reports whether every non-initiator participant has
// declined or missed the call. Drives the group decline rule.
func (c *Call) AllInviteesResolved() bool {
	for _, p := range c.Participants {
		if p.Role != RoleParticipant {
			continue
		}
		if p.Status != ParticipantDeclined && p.Status != ParticipantMissed {
			return false
		}
	}
	return true
}

// CallParticipant represents one user's membership in a call. Exactly one row
// exists per (call, user) pair; rows transition but are never deleted.
type CallParticipant struct {
	ID                uuid.UUID              `json:"id"`
	CallID            uuid.UUID              `json:"call_id"`
	UserID            uuid.UUID              `json:"user_id"`
	Role              ParticipantRole        `json:"role"`
	Status            ParticipantStatus      `json:"status"`
	InvitedAt         time.Time              `json:"invited_at"`
	JoinedAt          *time.Time             `json:"joined_at,omitempty"`
	LeftAt            *time.Time             `json:"left_at,omitempty"`
	IsMuted           bool                   `json:"is_muted"`
	IsVideoEnabled    bool                   `json:"is_video_enabled"`
	IsScreenSharing   bool                   `json:"is_screen_sharing"`
	ConnectionQuality string                 `json:"connection_quality,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Duration returns the participant's time in the call, defined only once
// JoinedAt is set. An in-progress participation measures up to now.
func (p *CallParticipant) Duration(now time.Time) *time.Duration {
	if p.JoinedAt == nil {
		return nil
	}
	end := now
	if p.LeftAt != nil {
		end = *p.LeftAt
	}
	d := end.Sub(*p.JoinedAt)
	return &d
}

// CallInvitation is the auditable record of inviting a user into an already
// active group call. Membership truth lives in CallParticipant; the invitation
// expires independently.
type CallInvitation struct {
	ID            uuid.UUID        `json:"id"`
	CallID        uuid.UUID        `json:"call_id"`
	InvitedUserID uuid.UUID        `json:"invited_user_id"`
	InvitedBy     uuid.UUID        `json:"invited_by"`
	Status        InvitationStatus `json:"status"`
	InvitedAt     time.Time        `json:"invited_at"`
	RespondedAt   *time.Time       `json:"responded_at,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

// IsExpired reports whether a pending invitation has passed its deadline
func (i *CallInvitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationPending && i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
