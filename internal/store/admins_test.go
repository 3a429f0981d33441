package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygatehq/keygate/internal/model"
)

func TestAdminAndSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: "$2a$10$notarealhash",
		Name:         "Admin",
		IsActive:     true,
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	byEmail, err := s.GetAdminByEmail(ctx, "admin@example.com")
	if err != nil || byEmail.ID != admin.ID {
		t.Fatalf("GetAdminByEmail = %+v, %v", byEmail, err)
	}
	if byEmail.LastLoginAt != nil {
		t.Error("fresh admin already has last_login_at")
	}

	if err := s.TouchAdminLogin(ctx, admin.ID); err != nil {
		t.Fatalf("TouchAdminLogin: %v", err)
	}
	touched, _ := s.GetAdmin(ctx, admin.ID)
	if touched.LastLoginAt == nil {
		t.Error("last_login_at not stamped")
	}

	sess := &model.Session{
		Token:     "opaque-session-token",
		AdminID:   admin.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSessionByToken(ctx, "opaque-session-token")
	if err != nil || got.AdminID != admin.ID {
		t.Fatalf("GetSessionByToken = %+v, %v", got, err)
	}

	if err := s.DeleteSession(ctx, "opaque-session-token"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSessionByToken(ctx, "opaque-session-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session still resolves: %v", err)
	}
}

func TestExpiredSessionIsInvisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := &model.Admin{Email: "a@example.com", PasswordHash: "h", Name: "A", IsActive: true}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	sess := &model.Session{
		Token:     "stale",
		AdminID:   admin.ID,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := s.GetSessionByToken(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session resolves: %v", err)
	}

	n, err := s.PurgeExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Errorf("PurgeExpiredSessions = %d, %v; want 1, nil", n, err)
	}
}
