package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/storage"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
)

// UserStore is the user backend used for login. Lookups return an error
// matching types.ErrNotFound for unknown users.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error)
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error
	ResetFailedLogins(ctx context.Context, userID uuid.UUID) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ip, userAgent string, success bool, reason string) error
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	User        *storage.User `json:"user"`
}

type AuthService struct {
	store          UserStore
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	maxAttempts    int
	lockFor        time.Duration
	logger         *zap.Logger
}

func NewAuthService(store UserStore, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		store:          store,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		maxAttempts:    cfg.MaxFailedLoginAttempts,
		lockFor:        cfg.AccountLockDuration,
		logger:         logger,
	}
}

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (*LoginResult, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		a.logAuthEvent(ctx, "user_login_failed", nil, ipAddress, userAgent, false, "user not found")
		return nil, ErrInvalidCredentials
	}

	// Gesperrte Accounts erst nach Ablauf wieder zulassen
	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "account locked")
		return nil, fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		if err := a.store.RecordFailedLogin(ctx, user.ID, a.maxAttempts, a.lockFor); err != nil {
			a.logger.Warn("Failed to record failed login", zap.String("username", username), zap.Error(err))
		}
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "invalid password")
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 {
		if err := a.store.ResetFailedLogins(ctx, user.ID); err != nil {
			a.logger.Warn("Failed to reset failed logins", zap.String("username", username), zap.Error(err))
		}
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if err := a.store.UpdateLastLogin(ctx, user.ID); err != nil {
		a.logger.Warn("Failed to update last login", zap.String("username", username), zap.Error(err))
	}
	a.logAuthEvent(ctx, "user_login_success", &user.ID, ipAddress, userAgent, true, "")

	return &LoginResult{AccessToken: token, ExpiresAt: expiresAt, User: user}, nil
}

// ValidateToken validates a JWT and returns its claims and permissions
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, RoleToPermissions(claims.Role), nil
}

// GetUserByID retrieves a user by ID
func (a *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	return a.store.GetUserByID(ctx, userID)
}

// HashPassword hashes a password for storage or a config file.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	if err := a.store.LogAuthEvent(ctx, eventType, userID, ip, userAgent, success, reason); err != nil {
		a.logger.Debug("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}

// StaticUserStore serves the users declared in the config file. Lockout
// state is kept in memory and lost on restart.
type StaticUserStore struct {
	mu     sync.Mutex
	users  map[string]*storage.User
	logger *zap.Logger
}

// userNamespace derives stable ids for config users.
var userNamespace = uuid.MustParse("6f1c5f0e-3a8e-4d8b-9a55-1d2b7c0e4a11")

func NewStaticUserStore(users []config.StaticUser, logger *zap.Logger) *StaticUserStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StaticUserStore{users: make(map[string]*storage.User, len(users)), logger: logger}
	for _, u := range users {
		role := u.Role
		if role == "" {
			role = string(PermOperator)
		}
		s.users[u.Username] = &storage.User{
			ID:           uuid.NewSHA1(userNamespace, []byte(u.Username)),
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         role,
		}
	}
	return s
}

func (s *StaticUserStore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, types.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *StaticUserStore) GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
}

func (s *StaticUserStore) RecordFailedLogin(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	return s.update(userID, func(u *storage.User) {
		u.FailedLoginAttempts++
		if maxAttempts > 0 && u.FailedLoginAttempts >= maxAttempts {
			until := time.Now().Add(lockFor)
			u.LockedUntil = &until
		}
	})
}

func (s *StaticUserStore) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	return s.update(userID, func(u *storage.User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	})
}

func (s *StaticUserStore) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	return s.update(userID, func(u *storage.User) {
		now := time.Now()
		u.LastLoginAt = &now
	})
}

func (s *StaticUserStore) LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ip, userAgent string, success bool, reason string) error {
	s.logger.Info("Auth event",
		zap.String("event", eventType),
		zap.String("ip", ip),
		zap.Bool("success", success),
		zap.String("reason", reason))
	return nil
}

func (s *StaticUserStore) update(userID uuid.UUID, fn func(*storage.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			fn(u)
			return nil
		}
	}
	return fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
}

var (
	_ UserStore = (*StaticUserStore)(nil)
	_ UserStore = (*storage.PostgresClient)(nil)
)
