// Package registry tracks live websocket connections and per-call
// membership for a single service instance. It is a volatile view: call
// membership truth lives in the database, the registry answers "who can I
// reach right now" for signaling fan-out.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/pkg/logger"
)

var (
	// ErrNotInCall means the target has no registered membership in the call
	ErrNotInCall = errors.New("peer is not in the call")
	// ErrUnreachable means the target has no live connections
	ErrUnreachable = errors.New("peer has no live connections")
)

// Conn is one device's websocket connection as seen by the registry.
// Enqueue must not block; it reports false when the connection's send
// buffer is full or the connection is closing.
type Conn interface {
	UserID() uuid.UUID
	Enqueue(message []byte) bool
}

// Registry is the in-memory connection and call membership table.
// A user may hold several connections at once, one per device; every
// personal send fans out to all of them.
type Registry struct {
	mu sync.RWMutex

	// user -> live connections
	conns map[uuid.UUID]map[Conn]struct{}
	// call -> member users
	calls map[uuid.UUID]map[uuid.UUID]struct{}
	// user -> calls the user is registered in, for disconnect cleanup
	userCalls map[uuid.UUID]map[uuid.UUID]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		conns:     make(map[uuid.UUID]map[Conn]struct{}),
		calls:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userCalls: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Connect registers a live connection for its user
func (r *Registry) Connect(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[Conn]struct{})
	}
	r.conns[userID][c] = struct{}{}

	logger.Debug("connection registered",
		zap.String("user_id", userID.String()),
		zap.Int("connections", len(r.conns[userID])))
}

// Disconnect removes a connection. When it was the user's last one, the
// user is also dropped from every call membership set.
func (r *Registry) Disconnect(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	set := r.conns[userID]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) > 0 {
		return
	}
	delete(r.conns, userID)

	for callID := range r.userCalls[userID] {
		r.removeFromCallLocked(callID, userID)
	}

	logger.Debug("last connection dropped", zap.String("user_id", userID.String()))
}

// AddToCall registers a user as reachable inside a call
func (r *Registry) AddToCall(callID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.calls[callID] == nil {
		r.calls[callID] = make(map[uuid.UUID]struct{})
	}
	r.calls[callID][userID] = struct{}{}

	if r.userCalls[userID] == nil {
		r.userCalls[userID] = make(map[uuid.UUID]struct{})
	}
	r.userCalls[userID][callID] = struct{}{}
}

// RemoveFromCall drops a user's membership in a call
func (r *Registry) RemoveFromCall(callID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromCallLocked(callID, userID)
}

func (r *Registry) removeFromCallLocked(callID, userID uuid.UUID) {
	if members := r.calls[callID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.calls, callID)
		}
	}
	if cs := r.userCalls[userID]; cs != nil {
		delete(cs, callID)
		if len(cs) == 0 {
			delete(r.userCalls, userID)
		}
	}
}

// CloseCall drops the whole membership set for a call
func (r *Registry) CloseCall(callID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID := range r.calls[callID] {
		if cs := r.userCalls[userID]; cs != nil {
			delete(cs, callID)
			if len(cs) == 0 {
				delete(r.userCalls, userID)
			}
		}
	}
	delete(r.calls, callID)
}

// InCall reports whether a user is registered in a call
func (r *Registry) InCall(callID, userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.calls[callID]
	if members == nil {
		return false
	}
	_, ok := members[userID]
	return ok
}

// CallMembers returns the users currently registered in a call
func (r *Registry) CallMembers(callID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]uuid.UUID, 0, len(r.calls[callID]))
	for userID := range r.calls[callID] {
		members = append(members, userID)
	}
	return members
}

// IsOnline reports whether a user has at least one live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// SendToUser delivers a message to every connection of a user and returns
// the number of connections it was queued on. Connections whose buffers
// are full are skipped, not pruned; the write pump owns teardown.
func (r *Registry) SendToUser(userID uuid.UUID, message []byte) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns[userID]))
	for c := range r.conns[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.Enqueue(message) {
			delivered++
		} else {
			logger.Warn("send buffer full, dropping message",
				zap.String("user_id", userID.String()))
		}
	}
	return delivered
}

// SendToPeer delivers a message from one member of a call to another.
// Both sides must be in the call's membership set. It fails with
// ErrNotInCall or ErrUnreachable so the caller can tell the sender why
// the frame went nowhere.
func (r *Registry) SendToPeer(callID, fromUserID, targetUserID uuid.UUID, message []byte) error {
	if !r.InCall(callID, fromUserID) || !r.InCall(callID, targetUserID) {
		return ErrNotInCall
	}
	if r.SendToUser(targetUserID, message) == 0 {
		return ErrUnreachable
	}
	return nil
}

// SendToCall broadcasts a message to every member of a call except the
// excluded user. Returns the number of users reached.
func (r *Registry) SendToCall(callID uuid.UUID, message []byte, exclude uuid.UUID) int {
	r.mu.RLock()
	members := make([]uuid.UUID, 0, len(r.calls[callID]))
	for userID := range r.calls[callID] {
		if userID != exclude {
			members = append(members, userID)
		}
	}
	r.mu.RUnlock()

	reached := 0
	for _, userID := range members {
		if r.SendToUser(userID, message) > 0 {
			reached++
		}
	}
	return reached
}
