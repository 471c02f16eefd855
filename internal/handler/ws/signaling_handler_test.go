package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavelink-backend/internal/registry"
	"wavelink-backend/pkg/constants"
)

// stubAuthorizer reports which (call, user) pairs hold a joined row
type stubAuthorizer struct {
	joined map[uuid.UUID]map[uuid.UUID]bool
}

func newStubAuthorizer() *stubAuthorizer {
	return &stubAuthorizer{joined: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (a *stubAuthorizer) join(callID, userID uuid.UUID) {
	if a.joined[callID] == nil {
		a.joined[callID] = make(map[uuid.UUID]bool)
	}
	a.joined[callID][userID] = true
}

func (a *stubAuthorizer) IsParticipantJoined(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	return a.joined[callID][userID], nil
}

type relayEnv struct {
	handler *SignalingHandler
	reg     *registry.Registry
	auth    *stubAuthorizer
}

func newRelayEnv() *relayEnv {
	reg := registry.New()
	auth := newStubAuthorizer()
	return &relayEnv{
		handler: NewSignalingHandler(reg, auth, nil, nil, nil),
		reg:     reg,
		auth:    auth,
	}
}

func (e *relayEnv) newClient(userID uuid.UUID) *Client {
	c := &Client{
		handler:    e.handler,
		send:       make(chan []byte, constants.WebSocketSendBuffer),
		done:       make(chan struct{}),
		userID:     userID,
		authorized: make(map[uuid.UUID]bool),
	}
	e.reg.Connect(c)
	return c
}

func drain(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case data := <-c.send:
			var f Frame
			require.NoError(t, json.Unmarshal(data, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHandleFrame_RejectsMissingCallID(t *testing.T) {
	env := newRelayEnv()
	sender := env.newClient(uuid.New())

	env.handler.handleFrame(sender, &Frame{Type: FrameOffer, SDP: "sdp"})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, errCodeInvalidFrame, frames[0].Code)
}

func TestHandleFrame_RejectsNonJoinedSender(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	sender := env.newClient(uuid.New())
	peerID := uuid.New()
	peer := env.newClient(peerID)
	env.reg.AddToCall(callID, peerID)

	env.handler.handleFrame(sender, &Frame{Type: FrameOffer, CallID: callID, SDP: "sdp"})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, errCodeNotAParticipant, frames[0].Code)
	assert.Empty(t, drain(t, peer))
	assert.False(t, env.reg.InCall(callID, sender.userID))
}

func TestHandleFrame_LazyMembershipOnFirstFrame(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	sender := env.newClient(senderID)
	env.auth.join(callID, senderID)

	env.handler.handleFrame(sender, &Frame{Type: FrameJoinCall, CallID: callID})

	assert.True(t, env.reg.InCall(callID, senderID))
	assert.True(t, sender.authorized[callID])
}

func TestHandleFrame_TargetedOfferReachesOnlyPeer(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	peerID := uuid.New()
	otherID := uuid.New()
	sender := env.newClient(senderID)
	peer := env.newClient(peerID)
	other := env.newClient(otherID)
	env.auth.join(callID, senderID)
	env.reg.AddToCall(callID, peerID)
	env.reg.AddToCall(callID, otherID)

	env.handler.handleFrame(sender, &Frame{Type: FrameOffer, CallID: callID, SDP: "v=0", ToUserID: &peerID})

	frames := drain(t, peer)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameOffer, frames[0].Type)
	assert.Equal(t, senderID, frames[0].FromUserID)
	assert.Equal(t, "v=0", frames[0].SDP)
	assert.Empty(t, drain(t, other))
	assert.Empty(t, drain(t, sender))
}

func TestHandleFrame_OfferWithoutSDPRejected(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	sender := env.newClient(senderID)
	env.auth.join(callID, senderID)

	env.handler.handleFrame(sender, &Frame{Type: FrameOffer, CallID: callID})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, errCodeInvalidFrame, frames[0].Code)
}

func TestHandleFrame_UnreachablePeerAnswersSender(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	strangerID := uuid.New()
	sender := env.newClient(senderID)
	env.auth.join(callID, senderID)

	env.handler.handleFrame(sender, &Frame{Type: FrameOffer, CallID: callID, SDP: "v=0", ToUserID: &strangerID})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, errCodePeerUnreachable, frames[0].Code)
}

func TestHandleFrame_MediaStateBroadcastExcludesSender(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	peerID := uuid.New()
	sender := env.newClient(senderID)
	peer := env.newClient(peerID)
	env.auth.join(callID, senderID)
	env.reg.AddToCall(callID, peerID)

	muted := true
	env.handler.handleFrame(sender, &Frame{Type: FrameMediaState, CallID: callID, IsMuted: &muted})

	frames := drain(t, peer)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameMediaState, frames[0].Type)
	require.NotNil(t, frames[0].IsMuted)
	assert.True(t, *frames[0].IsMuted)
	assert.Empty(t, drain(t, sender))
}

func TestHandleFrame_LeaveCallRemovesMembershipAndBroadcasts(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	peerID := uuid.New()
	sender := env.newClient(senderID)
	peer := env.newClient(peerID)
	env.auth.join(callID, senderID)
	env.reg.AddToCall(callID, peerID)

	env.handler.handleFrame(sender, &Frame{Type: FrameJoinCall, CallID: callID})
	env.handler.handleFrame(sender, &Frame{Type: FrameLeaveCall, CallID: callID})

	assert.False(t, env.reg.InCall(callID, senderID))
	assert.False(t, sender.authorized[callID])

	frames := drain(t, peer)
	require.Len(t, frames, 2)
	assert.Equal(t, FrameParticipantJoined, frames[0].Type)
	assert.Equal(t, FrameParticipantLeft, frames[1].Type)
}

func TestHandleFrame_UnknownTypeRejected(t *testing.T) {
	env := newRelayEnv()
	callID := uuid.New()
	senderID := uuid.New()
	sender := env.newClient(senderID)
	env.auth.join(callID, senderID)

	env.handler.handleFrame(sender, &Frame{Type: "teleport", CallID: callID})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, errCodeInvalidFrame, frames[0].Code)
}

func TestEnqueue_ClosedConnection(t *testing.T) {
	env := newRelayEnv()
	sender := env.newClient(uuid.New())

	sender.close()

	assert.False(t, sender.Enqueue([]byte("late")))
}
