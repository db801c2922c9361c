package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

const userColumns = `id, username, password_hash, role, created_at, last_login_at,
	failed_login_attempts, locked_until`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
		&u.CreatedAt, &u.LastLoginAt, &u.FailedLoginAttempts, &u.LockedUntil)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresClient) getUser(ctx context.Context, where string, key any) (*User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, key)
	u, err := scanUser(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("user %v: %w", key, types.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (p *PostgresClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return p.getUser(ctx, "username", username)
}

func (p *PostgresClient) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	return p.getUser(ctx, "id", userID)
}

func (p *PostgresClient) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, username, passwordHash, role)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return u, nil
}

// SeedUsers inserts the users declared in the config file. Existing
// usernames are left untouched so that changed passwords survive restarts.
func (p *PostgresClient) SeedUsers(ctx context.Context, users []config.StaticUser) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range users {
		role := u.Role
		if role == "" {
			role = "operator"
		}
		batch.Queue(`
			INSERT INTO users (username, password_hash, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (username) DO NOTHING
		`, u.Username, u.PasswordHash, role)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for _, u := range users {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (p *PostgresClient) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// RecordFailedLogin counts a failed attempt and locks the account for
// lockFor once maxAttempts is reached.
func (p *PostgresClient) RecordFailedLogin(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END
		WHERE id = $1
	`, userID, maxAttempts, lockFor.Seconds())
	return err
}

func (p *PostgresClient) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE id = $1
	`, userID)
	return err
}

// LogAuthEvent appends to the audit table. userID is nil for unknown users.
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, user_id, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, userID, ipAddress, userAgent, success, reason)
	return err
}
