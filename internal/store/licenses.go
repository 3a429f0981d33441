package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/keygatehq/keygate/internal/model"
)

// CreateLicense inserts a newly issued license key.
func (s *Store) CreateLicense(ctx context.Context, lic *model.License) error {
	if lic.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate license id: %w", err)
		}
		lic.ID = id.String()
	}
	ts := now()
	lic.CreatedAt = ts
	lic.UpdatedAt = ts
	if lic.Status == "" {
		lic.Status = model.LicenseStatusActive
	}
	if lic.MaxActivations <= 0 {
		lic.MaxActivations = 1
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO licenses (id, app_name, license_key, status, max_activations,
		                      expires_at, metadata, created_at, updated_at)
		VALUES (:id, :app_name, :license_key, :status, :max_activations,
		        :expires_at, :metadata, :created_at, :updated_at)`, lic)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// GetLicense fetches a license by id.
func (s *Store) GetLicense(ctx context.Context, id string) (*model.License, error) {
	var lic model.License
	err := s.db.GetContext(ctx, &lic, s.rebind(`SELECT * FROM licenses WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &lic, nil
}

// GetLicenseByAppKey fetches the license identified by the (app, key) pair
// the activation protocol operates on.
func (s *Store) GetLicenseByAppKey(ctx context.Context, appName, licenseKey string) (*model.License, error) {
	var lic model.License
	err := s.db.GetContext(ctx, &lic, s.rebind(
		`SELECT * FROM licenses WHERE app_name = ? AND license_key = ?`), appName, licenseKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return &lic, nil
}

// LicenseKeyExists reports whether a key is already issued for the app.
// Used by the issuer's collision-retry loop.
func (s *Store) LicenseKeyExists(ctx context.Context, appName, licenseKey string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(
		`SELECT COUNT(*) FROM licenses WHERE app_name = ? AND license_key = ?`), appName, licenseKey)
	if err != nil {
		return false, fmt.Errorf("check license key: %w", err)
	}
	return n > 0, nil
}

// LicenseFilter narrows ListLicenses. Zero values mean "no constraint".
// AppName matches as a case-insensitive substring; Status is exact.
type LicenseFilter struct {
	AppName string
	Status  model.LicenseStatus
	Search  string
	Limit   int
	Offset  int
}

// ListLicenses returns licenses matching the filter, newest first, each
// decorated with its live active-seat count.
func (s *Store) ListLicenses(ctx context.Context, f LicenseFilter) ([]model.LicenseWithUsage, error) {
	query := `
		SELECT l.*,
		       (SELECT COUNT(*) FROM activations a
		        WHERE a.app_name = l.app_name AND a.license_key = l.license_key
		          AND a.status = 'active') AS active_activations
		FROM licenses l
		WHERE 1 = 1`
	args := []any{}

	if f.AppName != "" {
		query += ` AND LOWER(l.app_name) LIKE ?`
		args = append(args, "%"+strings.ToLower(f.AppName)+"%")
	}
	if f.Status != "" {
		query += ` AND l.status = ?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		query += ` AND LOWER(l.license_key) LIKE ?`
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}
	query += ` ORDER BY l.created_at DESC, l.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	type row struct {
		model.License
		ActiveActivations int `db:"active_activations"`
	}
	rows := []row{}
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	out := make([]model.LicenseWithUsage, 0, len(rows))
	for _, r := range rows {
		remaining := r.MaxActivations - r.ActiveActivations
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, model.LicenseWithUsage{
			License:              r.License,
			ActiveActivations:    r.ActiveActivations,
			RemainingActivations: remaining,
		})
	}
	return out, nil
}

// UpdateLicense persists mutable license fields.
func (s *Store) UpdateLicense(ctx context.Context, lic *model.License) error {
	lic.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE licenses
		SET status = :status, max_activations = :max_activations,
		    expires_at = :expires_at, metadata = :metadata, updated_at = :updated_at
		WHERE id = :id`, lic)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLicenseStatus flips a license between active and revoked.
func (s *Store) SetLicenseStatus(ctx context.Context, id string, status model.LicenseStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE licenses SET status = ?, updated_at = ? WHERE id = ?`), status, now(), id)
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLicenseCascade removes a license along with its activations and
// their audit logs.
func (s *Store) DeleteLicenseCascade(ctx context.Context, id string) error {
	lic, err := s.GetLicense(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete license: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM activation_logs WHERE activation_id IN (
			SELECT id FROM activations WHERE app_name = ? AND license_key = ?
		)`), lic.AppName, lic.LicenseKey); err != nil {
		return fmt.Errorf("delete activation logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM activations WHERE app_name = ? AND license_key = ?`),
		lic.AppName, lic.LicenseKey); err != nil {
		return fmt.Errorf("delete activations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM licenses WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete license: %w", err)
	}
	return nil
}

// CountActiveActivations returns the number of active seats held against a
// license key.
func (s *Store) CountActiveActivations(ctx context.Context, appName, licenseKey string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(`
		SELECT COUNT(*) FROM activations
		WHERE app_name = ? AND license_key = ? AND status = 'active'`), appName, licenseKey)
	if err != nil {
		return 0, fmt.Errorf("count active activations: %w", err)
	}
	return n, nil
}
