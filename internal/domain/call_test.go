package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCallStatusIsTerminal(t *testing.T) {
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusActive.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusDeclined.IsTerminal())
	assert.True(t, CallStatusMissed.IsTerminal())
	assert.True(t, CallStatusFailed.IsTerminal())
	assert.True(t, CallStatusCancelled.IsTerminal())
}

func TestCallJoinedCount(t *testing.T) {
	call := &Call{
		Participants: []*CallParticipant{
			{Status: ParticipantJoined},
			{Status: ParticipantRinging},
			{Status: ParticipantJoined},
			{Status: ParticipantLeft},
		},
	}

	assert.Equal(t, 2, call.JoinedCount())
}

func TestCallParticipantLookup(t *testing.T) {
	userID := uuid.New()
	call := &Call{
		Participants: []*CallParticipant{
			{UserID: uuid.New()},
			{UserID: userID, Status: ParticipantRinging},
		},
	}

	p := call.Participant(userID)
	assert.NotNil(t, p)
	assert.Equal(t, ParticipantRinging, p.Status)

	assert.Nil(t, call.Participant(uuid.New()))
}

func TestAllInviteesResolved(t *testing.T) {
	call := &Call{
		Participants: []*CallParticipant{
			{Role: RoleInitiator, Status: ParticipantJoined},
			{Role: RoleParticipant, Status: ParticipantDeclined},
			{Role: RoleParticipant, Status: ParticipantMissed},
		},
	}
	assert.True(t, call.AllInviteesResolved())

	// The initiator's own status never blocks resolution
	call.Participants[0].Status = ParticipantRinging
	assert.True(t, call.AllInviteesResolved())

	call.Participants[1].Status = ParticipantRinging
	assert.False(t, call.AllInviteesResolved())
}

func TestParticipantDuration(t *testing.T) {
	now := time.Now()

	p := &CallParticipant{}
	assert.Nil(t, p.Duration(now), "duration undefined before join")

	joined := now.Add(-90 * time.Second)
	p.JoinedAt = &joined
	d := p.Duration(now)
	assert.NotNil(t, d)
	assert.Equal(t, 90*time.Second, *d)

	left := now.Add(-30 * time.Second)
	p.LeftAt = &left
	d = p.Duration(now)
	assert.Equal(t, 60*time.Second, *d)
}

func TestInvitationIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	inv := &CallInvitation{Status: InvitationPending, ExpiresAt: &future}
	assert.False(t, inv.IsExpired(now))

	inv.ExpiresAt = &past
	assert.True(t, inv.IsExpired(now))

	// Responded invitations never expire
	inv.Status = InvitationAccepted
	assert.False(t, inv.IsExpired(now))

	inv = &CallInvitation{Status: InvitationPending}
	assert.False(t, inv.IsExpired(now), "no deadline means no expiry")
}
