package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/keygatehq/keygate/internal/model"
)

// CreateApp inserts a new catalog entry. Name and slug must be unique.
func (s *Store) CreateApp(ctx context.Context, app *model.App) error {
	if app.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate app id: %w", err)
		}
		app.ID = id.String()
	}
	ts := now()
	app.CreatedAt = ts
	app.UpdatedAt = ts
	if app.Status == "" {
		app.Status = model.AppStatusActive
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO apps (id, name, slug, status, metadata, created_at, updated_at)
		VALUES (:id, :name, :slug, :status, :metadata, :created_at, :updated_at)`, app)
	if err != nil {
		return fmt.Errorf("insert app: %w", err)
	}
	return nil
}

// GetApp fetches an app by id.
func (s *Store) GetApp(ctx context.Context, id string) (*model.App, error) {
	var app model.App
	err := s.db.GetContext(ctx, &app, s.rebind(`SELECT * FROM apps WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	return &app, nil
}

// GetAppByName fetches an app by its exact name.
func (s *Store) GetAppByName(ctx context.Context, name string) (*model.App, error) {
	var app model.App
	err := s.db.GetContext(ctx, &app, s.rebind(`SELECT * FROM apps WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app by name: %w", err)
	}
	return &app, nil
}

// GetAppBySlug fetches an app by its slug.
func (s *Store) GetAppBySlug(ctx context.Context, slug string) (*model.App, error) {
	var app model.App
	err := s.db.GetContext(ctx, &app, s.rebind(`SELECT * FROM apps WHERE slug = ?`), slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app by slug: %w", err)
	}
	return &app, nil
}

// ListApps returns the full catalog, newest first.
func (s *Store) ListApps(ctx context.Context) ([]model.App, error) {
	apps := []model.App{}
	err := s.db.SelectContext(ctx, &apps, `SELECT * FROM apps ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// UpdateAppCascade updates an app row and, when the name changed, renames
// the denormalized app_name on its licenses and activations in the same
// transaction.
func (s *Store) UpdateAppCascade(ctx context.Context, app *model.App, previousName string) error {
	app.UpdatedAt = now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update app: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE apps
		SET name = :name, slug = :slug, status = :status, metadata = :metadata,
		    updated_at = :updated_at
		WHERE id = :id`, app)
	if err != nil {
		return fmt.Errorf("update app: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if previousName != "" && previousName != app.Name {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE licenses SET app_name = ?, updated_at = ? WHERE app_name = ?`),
			app.Name, app.UpdatedAt, previousName); err != nil {
			return fmt.Errorf("rename app on licenses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE activations SET app_name = ?, updated_at = ? WHERE app_name = ?`),
			app.Name, app.UpdatedAt, previousName); err != nil {
			return fmt.Errorf("rename app on activations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update app: %w", err)
	}
	return nil
}

// DeleteAppCascade removes an app together with its licenses, activations
// and their audit logs.
func (s *Store) DeleteAppCascade(ctx context.Context, id string) error {
	app, err := s.GetApp(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete app: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM activation_logs WHERE activation_id IN (
			SELECT id FROM activations WHERE app_name = ?
		)`), app.Name); err != nil {
		return fmt.Errorf("delete activation logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM activations WHERE app_name = ?`), app.Name); err != nil {
		return fmt.Errorf("delete activations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM licenses WHERE app_name = ?`), app.Name); err != nil {
		return fmt.Errorf("delete licenses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM apps WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete app: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete app: %w", err)
	}
	return nil
}
