package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/keygatehq/keygate/internal/model"
)

// ClaimSeatParams carries everything ClaimSeat needs to upsert an
// activation and write its audit entry.
type ClaimSeatParams struct {
	LicenseID      string
	AppName        string
	LicenseKey     string
	MachineID      string
	AppVersion     string
	ShopName       *string
	Metadata       *string
	MaxActivations int
	ExpiresAt      *time.Time
	IPAddress      *string
	UserAgent      *string
}

// ClaimSeatResult reports the outcome of a successful seat claim.
type ClaimSeatResult struct {
	Activation      *model.Activation
	Reactivated     bool
	UsedActivations int
}

// ClaimSeat atomically grants a machine a seat on a license. The whole
// count-then-claim sequence runs in one transaction with the license row
// locked, so two machines racing for the last seat cannot both win. A
// machine that already holds a seat is reactivated in place and never
// counts twice.
func (s *Store) ClaimSeat(ctx context.Context, p ClaimSeatParams) (*ClaimSeatResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim seat: %w", err)
	}
	defer tx.Rollback()

	// Lock the license row for the duration of the claim. On SQLite the
	// single-writer connection gives the same exclusion.
	var licID string
	err = tx.GetContext(ctx, &licID, s.rebind(
		`SELECT id FROM licenses WHERE id = ?`+s.forUpdate()), p.LicenseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock license: %w", err)
	}

	existing, err := getActivationByTriple(ctx, tx, s, p.AppName, p.LicenseKey, p.MachineID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var active int
	if err := tx.GetContext(ctx, &active, s.rebind(`
		SELECT COUNT(*) FROM activations
		WHERE app_name = ? AND license_key = ? AND status = 'active'`),
		p.AppName, p.LicenseKey); err != nil {
		return nil, fmt.Errorf("count active seats: %w", err)
	}

	// An existing row for this machine always gets through; a new machine
	// needs a free seat.
	if existing == nil && active >= p.MaxActivations {
		return nil, ErrSeatLimit
	}

	ts := now()
	var act *model.Activation
	reactivated := false

	if existing != nil {
		reactivated = true
		existing.AppVersion = p.AppVersion
		existing.ShopName = p.ShopName
		existing.Metadata = p.Metadata
		existing.Status = model.ActivationStatusActive
		existing.ActivatedAt = &ts
		existing.ExpiresAt = p.ExpiresAt
		existing.UpdatedAt = ts
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE activations
			SET app_version = :app_version, shop_name = :shop_name,
			    metadata = :metadata, status = :status,
			    activated_at = :activated_at, expires_at = :expires_at,
			    updated_at = :updated_at
			WHERE id = :id`, existing); err != nil {
			return nil, fmt.Errorf("reactivate seat: %w", err)
		}
		act = existing
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate activation id: %w", err)
		}
		act = &model.Activation{
			ID:          id.String(),
			AppName:     p.AppName,
			AppVersion:  p.AppVersion,
			LicenseKey:  p.LicenseKey,
			MachineID:   p.MachineID,
			ShopName:    p.ShopName,
			Status:      model.ActivationStatusActive,
			Metadata:    p.Metadata,
			ActivatedAt: &ts,
			ExpiresAt:   p.ExpiresAt,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO activations (id, app_name, app_version, license_key, machine_id,
			                         shop_name, status, metadata, activated_at, expires_at,
			                         created_at, updated_at)
			VALUES (:id, :app_name, :app_version, :license_key, :machine_id,
			        :shop_name, :status, :metadata, :activated_at, :expires_at,
			        :created_at, :updated_at)`, act); err != nil {
			return nil, fmt.Errorf("insert activation: %w", err)
		}
	}

	action := model.LogActionActivated
	if reactivated {
		action = model.LogActionReactivated
	}
	if err := appendLog(ctx, tx, s, act.ID, action, p.IPAddress, p.UserAgent, nil); err != nil {
		return nil, err
	}

	// Recount inside the transaction so the reported usage reflects this
	// claim.
	if err := tx.GetContext(ctx, &active, s.rebind(`
		SELECT COUNT(*) FROM activations
		WHERE app_name = ? AND license_key = ? AND status = 'active'`),
		p.AppName, p.LicenseKey); err != nil {
		return nil, fmt.Errorf("recount active seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim seat: %w", err)
	}
	return &ClaimSeatResult{Activation: act, Reactivated: reactivated, UsedActivations: active}, nil
}

// GetActivation fetches an activation by id.
func (s *Store) GetActivation(ctx context.Context, id string) (*model.Activation, error) {
	var act model.Activation
	err := s.db.GetContext(ctx, &act, s.rebind(`SELECT * FROM activations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	return &act, nil
}

// GetActivationByTriple fetches the activation row for one machine's claim
// on a license key.
func (s *Store) GetActivationByTriple(ctx context.Context, appName, licenseKey, machineID string) (*model.Activation, error) {
	return getActivationByTriple(ctx, s.db, s, appName, licenseKey, machineID)
}

func getActivationByTriple(ctx context.Context, q sqlx.QueryerContext, s *Store, appName, licenseKey, machineID string) (*model.Activation, error) {
	var act model.Activation
	err := sqlx.GetContext(ctx, q, &act, s.rebind(`
		SELECT * FROM activations
		WHERE app_name = ? AND license_key = ? AND machine_id = ?`),
		appName, licenseKey, machineID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation by triple: %w", err)
	}
	return &act, nil
}

// DeactivateTriple releases a machine's seat and appends the audit entry,
// returning the released row and the post-release active count.
func (s *Store) DeactivateTriple(ctx context.Context, appName, licenseKey, machineID string, ip, ua *string) (*model.Activation, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	act, err := getActivationByTriple(ctx, tx, s, appName, licenseKey, machineID)
	if err != nil {
		return nil, 0, err
	}

	ts := now()
	act.Status = model.ActivationStatusRevoked
	act.UpdatedAt = ts
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE activations SET status = ?, updated_at = ? WHERE id = ?`),
		act.Status, ts, act.ID); err != nil {
		return nil, 0, fmt.Errorf("deactivate seat: %w", err)
	}

	if err := appendLog(ctx, tx, s, act.ID, model.LogActionDeactivated, ip, ua, nil); err != nil {
		return nil, 0, err
	}

	var active int
	if err := tx.GetContext(ctx, &active, s.rebind(`
		SELECT COUNT(*) FROM activations
		WHERE app_name = ? AND license_key = ? AND status = 'active'`),
		appName, licenseKey); err != nil {
		return nil, 0, fmt.Errorf("recount active seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit deactivate: %w", err)
	}
	return act, active, nil
}

// SetActivationStatus moves an activation to the given status with an audit
// entry. Used by the admin approve and revoke operations.
func (s *Store) SetActivationStatus(ctx context.Context, id string, status model.ActivationStatus, action string) (*model.Activation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin set activation status: %w", err)
	}
	defer tx.Rollback()

	var act model.Activation
	err = tx.GetContext(ctx, &act, s.rebind(`SELECT * FROM activations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}

	ts := now()
	act.Status = status
	act.UpdatedAt = ts
	if status == model.ActivationStatusActive && act.ActivatedAt == nil {
		act.ActivatedAt = &ts
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE activations SET status = ?, activated_at = ?, updated_at = ? WHERE id = ?`),
		act.Status, act.ActivatedAt, ts, id); err != nil {
		return nil, fmt.Errorf("set activation status: %w", err)
	}

	if err := appendLog(ctx, tx, s, id, action, nil, nil, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit set activation status: %w", err)
	}
	return &act, nil
}

// InsertPendingActivation records a seat claim awaiting manual approval.
func (s *Store) InsertPendingActivation(ctx context.Context, act *model.Activation) error {
	if act.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate activation id: %w", err)
		}
		act.ID = id.String()
	}
	ts := now()
	act.CreatedAt = ts
	act.UpdatedAt = ts
	act.Status = model.ActivationStatusPending

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activations (id, app_name, app_version, license_key, machine_id,
		                         shop_name, status, metadata, activated_at, expires_at,
		                         created_at, updated_at)
		VALUES (:id, :app_name, :app_version, :license_key, :machine_id,
		        :shop_name, :status, :metadata, :activated_at, :expires_at,
		        :created_at, :updated_at)`, act)
	if err != nil {
		return fmt.Errorf("insert pending activation: %w", err)
	}
	return nil
}

// ActivationFilter narrows ListActivations. Zero values mean "no constraint".
type ActivationFilter struct {
	AppName    string
	LicenseKey string
	Status     model.ActivationStatus
	Limit      int
	Offset     int
}

// ListActivations returns activations matching the filter, newest first.
func (s *Store) ListActivations(ctx context.Context, f ActivationFilter) ([]model.Activation, error) {
	query := `SELECT * FROM activations WHERE 1 = 1`
	args := []any{}

	if f.AppName != "" {
		query += ` AND app_name = ?`
		args = append(args, f.AppName)
	}
	if f.LicenseKey != "" {
		query += ` AND license_key = ?`
		args = append(args, f.LicenseKey)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	acts := []model.Activation{}
	if err := s.db.SelectContext(ctx, &acts, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	return acts, nil
}

// ActivationStats aggregates activation counts by status, optionally scoped
// to one app.
func (s *Store) ActivationStats(ctx context.Context, appName string) (*model.ActivationStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'revoked' THEN 1 ELSE 0 END), 0) AS revoked
		FROM activations`
	args := []any{}
	if appName != "" {
		query += ` WHERE app_name = ?`
		args = append(args, appName)
	}

	var stats model.ActivationStats
	row := s.db.QueryRowxContext(ctx, s.rebind(query), args...)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Pending, &stats.Revoked); err != nil {
		return nil, fmt.Errorf("activation stats: %w", err)
	}
	return &stats, nil
}

// ActivationLogs returns the audit trail for one activation, oldest first.
func (s *Store) ActivationLogs(ctx context.Context, activationID string) ([]model.ActivationLog, error) {
	logs := []model.ActivationLog{}
	err := s.db.SelectContext(ctx, &logs, s.rebind(`
		SELECT * FROM activation_logs WHERE activation_id = ?
		ORDER BY created_at ASC, id ASC`), activationID)
	if err != nil {
		return nil, fmt.Errorf("activation logs: %w", err)
	}
	return logs, nil
}

func appendLog(ctx context.Context, tx *sqlx.Tx, s *Store, activationID, action string, ip, ua, meta *string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate log id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO activation_logs (id, activation_id, action, ip_address, user_agent, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		id.String(), activationID, action, ip, ua, meta, now()); err != nil {
		return fmt.Errorf("append activation log: %w", err)
	}
	return nil
}
