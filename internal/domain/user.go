package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the platform user record this service needs: identity
// resolution and the active flag checked before ringing someone.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
