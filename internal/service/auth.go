package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

// ErrBadCredentials is returned for any login failure. Unknown email,
// wrong password, and disabled account are indistinguishable to the caller.
var ErrBadCredentials = errors.New("invalid email or password")

// ErrAdminExists is returned when creating an admin with a taken email.
var ErrAdminExists = errors.New("admin already exists")

const minPasswordLen = 8

// Auth manages admin accounts and their sessions. Session JWTs embed an
// opaque server-side token; deleting that row invalidates the JWT before
// its expiry.
type Auth struct {
	store  *store.Store
	codec  *token.SessionCodec
	logger *slog.Logger
}

// NewAuth creates the admin auth service.
func NewAuth(s *store.Store, codec *token.SessionCodec, logger *slog.Logger) *Auth {
	return &Auth{store: s, codec: codec, logger: logger}
}

// CreateAdmin registers an admin account with a bcrypt-hashed password.
func (a *Auth) CreateAdmin(ctx context.Context, email, password, name string) (*model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid admin email %q", email)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	if _, err := a.store.GetAdminByEmail(ctx, email); err == nil {
		return nil, ErrAdminExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	admin := &model.Admin{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsActive:     true,
	}
	if err := a.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	a.logger.Info("admin created", "email", email)
	return admin, nil
}

// LoginResult carries the minted session token and the admin it belongs to.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Admin     *model.Admin `json:"admin"`
}

// Login verifies credentials and mints a session JWT backed by a session
// row.
func (a *Auth) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	admin, err := a.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !admin.IsActive {
		return nil, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	opaque := hex.EncodeToString(raw)

	now := time.Now().UTC()
	sess := &model.Session{
		Token:     opaque,
		AdminID:   admin.ID,
		ExpiresAt: now.Add(token.SessionTTL),
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	jwtString, err := a.codec.Sign(admin.ID, admin.Email, opaque, now)
	if err != nil {
		return nil, err
	}

	if err := a.store.TouchAdminLogin(ctx, admin.ID); err != nil {
		a.logger.Warn("stamp last login", "error", err)
	}

	a.logger.Info("admin logged in", "email", email)
	return &LoginResult{Token: jwtString, ExpiresAt: sess.ExpiresAt, Admin: admin}, nil
}

// Authenticate resolves a bearer token to a live admin. Both the JWT and
// its backing session row must check out.
func (a *Auth) Authenticate(ctx context.Context, tokenString string) (*model.Admin, error) {
	claims, err := a.codec.Verify(tokenString)
	if err != nil {
		return nil, token.ErrInvalidToken
	}

	sess, err := a.store.GetSessionByToken(ctx, claims.SessionToken)
	if err != nil {
		return nil, token.ErrInvalidToken
	}
	if sess.AdminID != claims.UserID {
		return nil, token.ErrInvalidToken
	}

	admin, err := a.store.GetAdmin(ctx, sess.AdminID)
	if err != nil || !admin.IsActive {
		return nil, token.ErrInvalidToken
	}
	return admin, nil
}

// Logout deletes the session row behind a token. The JWT keeps its
// signature but stops authenticating.
func (a *Auth) Logout(ctx context.Context, tokenString string) error {
	claims, err := a.codec.Verify(tokenString)
	if err != nil {
		return token.ErrInvalidToken
	}
	return a.store.DeleteSession(ctx, claims.SessionToken)
}
