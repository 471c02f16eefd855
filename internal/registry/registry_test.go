package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	userID   uuid.UUID
	messages [][]byte
	full     bool
}

func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) Enqueue(message []byte) bool {
	if c.full {
		return false
	}
	c.messages = append(c.messages, message)
	return true
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	r := New()
	userID := uuid.New()

	phone := &fakeConn{userID: userID}
	laptop := &fakeConn{userID: userID}

	assert.False(t, r.IsOnline(userID))

	r.Connect(phone)
	r.Connect(laptop)
	assert.True(t, r.IsOnline(userID))
	assert.Equal(t, 2, r.ConnectionCount(userID))

	r.Disconnect(phone)
	assert.True(t, r.IsOnline(userID))

	r.Disconnect(laptop)
	assert.False(t, r.IsOnline(userID))
}

func TestRegistry_SendToUser_FansOutToAllDevices(t *testing.T) {
	r := New()
	userID := uuid.New()

	phone := &fakeConn{userID: userID}
	laptop := &fakeConn{userID: userID}
	r.Connect(phone)
	r.Connect(laptop)

	delivered := r.SendToUser(userID, []byte("hello"))

	assert.Equal(t, 2, delivered)
	assert.Len(t, phone.messages, 1)
	assert.Len(t, laptop.messages, 1)
}

func TestRegistry_SendToUser_SkipsFullBuffers(t *testing.T) {
	r := New()
	userID := uuid.New()

	ok := &fakeConn{userID: userID}
	stuck := &fakeConn{userID: userID, full: true}
	r.Connect(ok)
	r.Connect(stuck)

	delivered := r.SendToUser(userID, []byte("hello"))

	assert.Equal(t, 1, delivered)
	assert.Len(t, ok.messages, 1)
	assert.Empty(t, stuck.messages)
}

func TestRegistry_CallMembership(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	r.AddToCall(callID, alice)
	r.AddToCall(callID, bob)

	assert.True(t, r.InCall(callID, alice))
	assert.True(t, r.InCall(callID, bob))
	assert.Len(t, r.CallMembers(callID), 2)

	r.RemoveFromCall(callID, alice)
	assert.False(t, r.InCall(callID, alice))
	assert.True(t, r.InCall(callID, bob))
}

func TestRegistry_DisconnectLastConnRemovesCallMembership(t *testing.T) {
	r := New()
	callID := uuid.New()
	userID := uuid.New()

	conn := &fakeConn{userID: userID}
	r.Connect(conn)
	r.AddToCall(callID, userID)

	r.Disconnect(conn)

	assert.False(t, r.InCall(callID, userID))
}

func TestRegistry_DisconnectKeepsMembershipWhileOtherDeviceLives(t *testing.T) {
	r := New()
	callID := uuid.New()
	userID := uuid.New()

	phone := &fakeConn{userID: userID}
	laptop := &fakeConn{userID: userID}
	r.Connect(phone)
	r.Connect(laptop)
	r.AddToCall(callID, userID)

	r.Disconnect(phone)

	assert.True(t, r.InCall(callID, userID))
}

func TestRegistry_SendToPeer(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	bobConn := &fakeConn{userID: bob}
	r.Connect(bobConn)
	r.AddToCall(callID, alice)
	r.AddToCall(callID, bob)

	err := r.SendToPeer(callID, alice, bob, []byte("offer"))
	assert.NoError(t, err)
	assert.Len(t, bobConn.messages, 1)
}

func TestRegistry_SendToPeer_TargetNotInCall(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	stranger := uuid.New()

	conn := &fakeConn{userID: stranger}
	r.Connect(conn)
	r.AddToCall(callID, alice)

	err := r.SendToPeer(callID, alice, stranger, []byte("offer"))
	assert.ErrorIs(t, err, ErrNotInCall)
	assert.Empty(t, conn.messages)
}

func TestRegistry_SendToPeer_SenderNotInCall(t *testing.T) {
	r := New()
	callID := uuid.New()
	intruder := uuid.New()
	bob := uuid.New()

	bobConn := &fakeConn{userID: bob}
	r.Connect(bobConn)
	r.AddToCall(callID, bob)

	err := r.SendToPeer(callID, intruder, bob, []byte("offer"))
	assert.ErrorIs(t, err, ErrNotInCall)
	assert.Empty(t, bobConn.messages)
}

func TestRegistry_SendToPeer_Unreachable(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	ghost := uuid.New()

	r.AddToCall(callID, alice)
	r.AddToCall(callID, ghost)

	err := r.SendToPeer(callID, alice, ghost, []byte("offer"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRegistry_SendToCall_ExcludesSender(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	aliceConn := &fakeConn{userID: alice}
	bobConn := &fakeConn{userID: bob}
	carolConn := &fakeConn{userID: carol}
	r.Connect(aliceConn)
	r.Connect(bobConn)
	r.Connect(carolConn)
	r.AddToCall(callID, alice)
	r.AddToCall(callID, bob)
	r.AddToCall(callID, carol)

	reached := r.SendToCall(callID, []byte("media-state"), alice)

	assert.Equal(t, 2, reached)
	assert.Empty(t, aliceConn.messages)
	assert.Len(t, bobConn.messages, 1)
	assert.Len(t, carolConn.messages, 1)
}

func TestRegistry_CloseCall(t *testing.T) {
	r := New()
	callID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	r.AddToCall(callID, alice)
	r.AddToCall(callID, bob)

	r.CloseCall(callID)

	assert.False(t, r.InCall(callID, alice))
	assert.False(t, r.InCall(callID, bob))
	assert.Empty(t, r.CallMembers(callID))
}
