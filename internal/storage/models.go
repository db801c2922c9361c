package storage

import (
	"time"

	"github.com/google/uuid"
)

// Screen is a stored screen definition.
type Screen struct {
	ID         uuid.UUID `json:"id"`
	ScreenID   string    `json:"screen_id"`
	Title      string    `json:"title"`
	Definition []byte    `json:"definition"` // JSONB
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type User struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"` // Never expose in JSON
	Role                string     `json:"role"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}
