package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/keygatehq/keygate/internal/model"
)

// CreateAdmin inserts an administrative account.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	if admin.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate admin id: %w", err)
		}
		admin.ID = id.String()
	}
	ts := now()
	admin.CreatedAt = ts
	admin.UpdatedAt = ts

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO admins (id, email, password_hash, name, is_active,
		                    last_login_at, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :name, :is_active,
		        :last_login_at, :created_at, :updated_at)`, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	return nil
}

// GetAdmin fetches an admin by id.
func (s *Store) GetAdmin(ctx context.Context, id string) (*model.Admin, error) {
	var admin model.Admin
	err := s.db.GetContext(ctx, &admin, s.rebind(`SELECT * FROM admins WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// GetAdminByEmail fetches an admin by email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	err := s.db.GetContext(ctx, &admin, s.rebind(`SELECT * FROM admins WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts, newest first.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	admins := []model.Admin{}
	err := s.db.SelectContext(ctx, &admins, `SELECT * FROM admins ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// TouchAdminLogin stamps last_login_at after a successful login.
func (s *Store) TouchAdminLogin(ctx context.Context, id string) error {
	ts := now()
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?`), ts, ts, id); err != nil {
		return fmt.Errorf("touch admin login: %w", err)
	}
	return nil
}

// CreateSession inserts the server-side row backing a session token.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate session id: %w", err)
		}
		sess.ID = id.String()
	}
	sess.CreatedAt = now()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, token, admin_id, expires_at, created_at)
		VALUES (:id, :token, :admin_id, :expires_at, :created_at)`, sess)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionByToken fetches a live session row. Expired rows are treated as
// absent.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.GetContext(ctx, &sess, s.rebind(
		`SELECT * FROM sessions WHERE token = ? AND expires_at > ?`), token, now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session row, killing any JWT that embeds it.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM sessions WHERE token = ?`), token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes rows past their expiry.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM sessions WHERE expires_at <= ?`), now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
