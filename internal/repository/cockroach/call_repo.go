package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wavelink-backend/internal/domain"
)

// CallRepository handles call, participant and invitation persistence
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateWithParticipants inserts a call and its initial participant rows in a
// single transaction. The caller is responsible for populating the initiator
// row and one ringing row per invitee.
func (r *CallRepository) CreateWithParticipants(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	callQuery := `
		INSERT INTO calls (
			id, initiator_id, call_type, call_mode, status,
			max_participants, started_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = tx.Exec(ctx, callQuery,
		call.ID,
		call.InitiatorID,
		call.CallType,
		call.CallMode,
		call.Status,
		call.MaxParticipants,
		call.StartedAt,
		call.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	participantQuery := `
		INSERT INTO call_participants (
			id, call_id, user_id, role, status, invited_at, joined_at,
			is_muted, is_video_enabled, is_screen_sharing, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, p := range call.Participants {
		_, err = tx.Exec(ctx, participantQuery,
			p.ID,
			p.CallID,
			p.UserID,
			p.Role,
			p.Status,
			p.InvitedAt,
			p.JoinedAt,
			p.IsMuted,
			p.IsVideoEnabled,
			p.IsScreenSharing,
			p.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to create call participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call creation: %w", err)
	}

	return nil
}

// GetWithParticipants retrieves a call and all its participant rows.
// Returns (nil, nil) when the call does not exist.
func (r *CallRepository) GetWithParticipants(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	callQuery := `
		SELECT id, initiator_id, call_type, call_mode, status,
		       max_participants, started_at, ended_at, duration_seconds,
		       ended_by, COALESCE(end_reason, ''), metadata
		FROM calls
		WHERE id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, callQuery, callID).Scan(
		&call.ID,
		&call.InitiatorID,
		&call.CallType,
		&call.CallMode,
		&call.Status,
		&call.MaxParticipants,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.EndedBy,
		&call.EndReason,
		&call.Metadata,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	participants, err := r.getParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	call.Participants = participants

	return call, nil
}

func (r *CallRepository) getParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT id, call_id, user_id, role, status, invited_at, joined_at,
		       left_at, is_muted, is_video_enabled, is_screen_sharing,
		       COALESCE(connection_quality, ''), metadata
		FROM call_participants
		WHERE call_id = $1
		ORDER BY invited_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		err := rows.Scan(
			&p.ID,
			&p.CallID,
			&p.UserID,
			&p.Role,
			&p.Status,
			&p.InvitedAt,
			&p.JoinedAt,
			&p.LeftAt,
			&p.IsMuted,
			&p.IsVideoEnabled,
			&p.IsScreenSharing,
			&p.ConnectionQuality,
			&p.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// UpdateStatusIf transitions a call from one status to another only when the
// stored status still matches. Returns false when another writer got there
// first, so double transitions (two peers ending at once, two joiners racing
// the ringing to active flip) resolve to exactly one winner.
func (r *CallRepository) UpdateStatusIf(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus) (bool, error) {
	query := `
		UPDATE calls
		SET status = $3
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, callID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update call status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkEnded moves a call into a terminal status and stamps the end fields.
// endReason may be empty; it is stored as NULL in that case.
func (r *CallRepository) MarkEnded(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedBy *uuid.UUID, endReason string, endedAt time.Time) error {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = $3,
		    duration_seconds = EXTRACT(EPOCH FROM ($3 - started_at))::INT,
		    ended_by = $4,
		    end_reason = NULLIF($5, '')
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID, status, endedAt, endedBy, endReason)
	if err != nil {
		return fmt.Errorf("failed to mark call ended: %w", err)
	}

	return nil
}

// AddParticipant inserts a new participant row. Used when pulling a user into
// an already running group call.
func (r *CallRepository) AddParticipant(ctx context.Context, p *domain.CallParticipant) error {
	query := `
		INSERT INTO call_participants (
			id, call_id, user_id, role, status, invited_at,
			is_muted, is_video_enabled, is_screen_sharing, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.CallID,
		p.UserID,
		p.Role,
		p.Status,
		p.InvitedAt,
		p.IsMuted,
		p.IsVideoEnabled,
		p.IsScreenSharing,
		p.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

// MarkParticipantJoined flips a ringing participant to joined, stamps
// joined_at, and merges any client metadata into the row. Returns false if
// the row was not in ringing state.
func (r *CallRepository) MarkParticipantJoined(ctx context.Context, callID, userID uuid.UUID, joinedAt time.Time, metadata map[string]interface{}) (bool, error) {
	query := `
		UPDATE call_participants
		SET status = 'joined', joined_at = $3
		WHERE call_id = $1 AND user_id = $2 AND status = 'ringing'
	`
	args := []interface{}{callID, userID, joinedAt}

	if len(metadata) > 0 {
		query = `
			UPDATE call_participants
			SET status = 'joined', joined_at = $3,
			    metadata = COALESCE(metadata, '{}'::JSONB) || $4
			WHERE call_id = $1 AND user_id = $2 AND status = 'ringing'
		`
		args = append(args, metadata)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark participant joined: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkParticipantLeft flips a joined participant to left and stamps left_at.
// Returns false if the row was not in joined state.
func (r *CallRepository) MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID, leftAt time.Time) (bool, error) {
	query := `
		UPDATE call_participants
		SET status = 'left', left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND status = 'joined'
	`

	tag, err := r.pool.Exec(ctx, query, callID, userID, leftAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark participant left: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetParticipantStatus sets a participant's status without touching the
// join or leave timestamps. Used for declined and missed transitions.
func (r *CallRepository) SetParticipantStatus(ctx context.Context, callID, userID uuid.UUID, status domain.ParticipantStatus) error {
	query := `
		UPDATE call_participants
		SET status = $3
		WHERE call_id = $1 AND user_id = $2
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, status)
	if err != nil {
		return fmt.Errorf("failed to set participant status: %w", err)
	}

	return nil
}

// UpdateParticipantMedia applies a partial media state update. Nil fields
// keep their stored values.
func (r *CallRepository) UpdateParticipantMedia(ctx context.Context, callID, userID uuid.UUID, isMuted, isVideoEnabled, isScreenSharing *bool) error {
	query := `
		UPDATE call_participants
		SET is_muted = COALESCE($3, is_muted),
		    is_video_enabled = COALESCE($4, is_video_enabled),
		    is_screen_sharing = COALESCE($5, is_screen_sharing)
		WHERE call_id = $1 AND user_id = $2
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, isMuted, isVideoEnabled, isScreenSharing)
	if err != nil {
		return fmt.Errorf("failed to update participant media: %w", err)
	}

	return nil
}

// ActiveOneOnOneBetween finds a ringing or active 1-on-1 call that involves
// both users. Returns (nil, nil) when there is none.
func (r *CallRepository) ActiveOneOnOneBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT c.id
		FROM calls c
		JOIN call_participants pa ON pa.call_id = c.id AND pa.user_id = $1
		JOIN call_participants pb ON pb.call_id = c.id AND pb.user_id = $2
		WHERE c.call_mode = '1-on-1'
		  AND c.status IN ('ringing', 'active')
		LIMIT 1
	`

	var callID uuid.UUID
	err := r.pool.QueryRow(ctx, query, userA, userB).Scan(&callID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check active call between users: %w", err)
	}

	return r.GetWithParticipants(ctx, callID)
}

// GetUserCallHistory retrieves the calls a user took part in, newest first,
// along with the total count for pagination.
func (r *CallRepository) GetUserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, int64, error) {
	countQuery := `
		SELECT COUNT(DISTINCT c.id)
		FROM calls c
		JOIN call_participants cp ON cp.call_id = c.id
		WHERE cp.user_id = $1
	`

	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count user calls: %w", err)
	}

	query := `
		SELECT DISTINCT c.id, c.initiator_id, c.call_type, c.call_mode, c.status,
		       c.max_participants, c.started_at, c.ended_at, c.duration_seconds,
		       c.ended_by, COALESCE(c.end_reason, ''), c.metadata
		FROM calls c
		JOIN call_participants cp ON cp.call_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user call history: %w", err)
	}
	defer rows.Close()

	calls, err := scanCalls(rows)
	if err != nil {
		return nil, 0, err
	}

	return calls, total, nil
}

// GetActiveCallsForUser retrieves the ringing or active calls where the user
// has a live participant row.
func (r *CallRepository) GetActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	query := `
		SELECT c.id, c.initiator_id, c.call_type, c.call_mode, c.status,
		       c.max_participants, c.started_at, c.ended_at, c.duration_seconds,
		       c.ended_by, COALESCE(c.end_reason, ''), c.metadata
		FROM calls c
		JOIN call_participants cp ON cp.call_id = c.id
		WHERE cp.user_id = $1
		  AND c.status IN ('ringing', 'active')
		  AND cp.status IN ('ringing', 'joined')
		ORDER BY c.started_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

func scanCalls(rows pgx.Rows) ([]*domain.Call, error) {
	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.ID,
			&call.InitiatorID,
			&call.CallType,
			&call.CallMode,
			&call.Status,
			&call.MaxParticipants,
			&call.StartedAt,
			&call.EndedAt,
			&call.DurationSeconds,
			&call.EndedBy,
			&call.EndReason,
			&call.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// CreateInvitation records an invitation into a running group call
func (r *CallRepository) CreateInvitation(ctx context.Context, inv *domain.CallInvitation) error {
	query := `
		INSERT INTO call_invitations (
			id, call_id, invited_user_id, invited_by, status, invited_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		inv.ID,
		inv.CallID,
		inv.InvitedUserID,
		inv.InvitedBy,
		inv.Status,
		inv.InvitedAt,
		inv.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

// RespondToInvitation stamps the pending invitation for a user on a call with
// its outcome. A no-op when no pending invitation exists.
func (r *CallRepository) RespondToInvitation(ctx context.Context, callID, userID uuid.UUID, status domain.InvitationStatus, respondedAt time.Time) error {
	query := `
		UPDATE call_invitations
		SET status = $3, responded_at = $4
		WHERE call_id = $1 AND invited_user_id = $2 AND status = 'pending'
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, status, respondedAt)
	if err != nil {
		return fmt.Errorf("failed to respond to invitation: %w", err)
	}

	return nil
}

// ExpireStaleInvitations flips pending invitations past their deadline to
// expired. Expiry is applied lazily on read rather than by a sweeper.
func (r *CallRepository) ExpireStaleInvitations(ctx context.Context, callID uuid.UUID, now time.Time) error {
	query := `
		UPDATE call_invitations
		SET status = 'expired'
		WHERE call_id = $1 AND status = 'pending' AND expires_at < $2
	`

	_, err := r.pool.Exec(ctx, query, callID, now)
	if err != nil {
		return fmt.Errorf("failed to expire invitations: %w", err)
	}

	return nil
}

// GetInvitations retrieves all invitation records for a call
func (r *CallRepository) GetInvitations(ctx context.Context, callID uuid.UUID) ([]*domain.CallInvitation, error) {
	query := `
		SELECT id, call_id, invited_user_id, invited_by, status,
		       invited_at, responded_at, expires_at
		FROM call_invitations
		WHERE call_id = $1
		ORDER BY invited_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*domain.CallInvitation
	for rows.Next() {
		inv := &domain.CallInvitation{}
		err := rows.Scan(
			&inv.ID,
			&inv.CallID,
			&inv.InvitedUserID,
			&inv.InvitedBy,
			&inv.Status,
			&inv.InvitedAt,
			&inv.RespondedAt,
			&inv.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	return invitations, nil
}
