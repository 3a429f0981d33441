package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/store"
)

// ErrAppExists is returned when creating an app whose name or slug is taken.
var ErrAppExists = errors.New("app already exists")

// Catalog manages the registered apps and resolves the loose identifiers
// clients send (display name, slug, or close variants) to catalog entries.
type Catalog struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCatalog creates the app catalog service.
func NewCatalog(s *store.Store, logger *slog.Logger) *Catalog {
	return &Catalog{store: s, logger: logger}
}

// slugify lowercases an identifier and collapses every non-alphanumeric run
// to a single hyphen.
func slugify(s string) string {
	var b strings.Builder
	prevHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevHyphen = false
		} else if !prevHyphen {
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// compactIdentifier strips everything but letters and digits, lowercased.
// "My Widget", "my-widget" and "mywidget" all compact to "mywidget".
func compactIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps a client-supplied app identifier to a catalog entry. The
// match ladder is exact name, slug, slug of the input, then case-insensitive
// or compacted name. Returns store.ErrNotFound when nothing matches.
func (c *Catalog) Resolve(ctx context.Context, identifier string) (*model.App, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, store.ErrNotFound
	}

	if app, err := c.store.GetAppByName(ctx, identifier); err == nil {
		return app, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if app, err := c.store.GetAppBySlug(ctx, identifier); err == nil {
		return app, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if slug := slugify(identifier); slug != identifier {
		if app, err := c.store.GetAppBySlug(ctx, slug); err == nil {
			return app, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	apps, err := c.store.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(identifier)
	compact := compactIdentifier(identifier)
	for i := range apps {
		if strings.ToLower(apps[i].Name) == lower || compactIdentifier(apps[i].Name) == compact {
			return &apps[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// Create registers a new app. The slug is derived from the name when empty.
func (c *Catalog) Create(ctx context.Context, name, slug string, metadata *string) (*model.App, error) {
	name = strings.TrimSpace(name)
	if slug == "" {
		slug = slugify(name)
	}

	if _, err := c.store.GetAppByName(ctx, name); err == nil {
		return nil, ErrAppExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := c.store.GetAppBySlug(ctx, slug); err == nil {
		return nil, ErrAppExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	app := &model.App{
		Name:     name,
		Slug:     slug,
		Status:   model.AppStatusActive,
		Metadata: metadata,
	}
	if err := c.store.CreateApp(ctx, app); err != nil {
		return nil, err
	}
	c.logger.Info("app created", "app", app.Name, "slug", app.Slug)
	return app, nil
}

// Get fetches an app by id.
func (c *Catalog) Get(ctx context.Context, id string) (*model.App, error) {
	return c.store.GetApp(ctx, id)
}

// List returns the full catalog.
func (c *Catalog) List(ctx context.Context) ([]model.App, error) {
	return c.store.ListApps(ctx)
}

// UpdateParams carries the mutable app fields. Nil pointers leave the field
// unchanged.
type AppUpdateParams struct {
	Name     *string
	Slug     *string
	Status   *model.AppStatus
	Metadata *string
}

// Update edits an app; renaming cascades to its licenses and activations.
func (c *Catalog) Update(ctx context.Context, id string, p AppUpdateParams) (*model.App, error) {
	app, err := c.store.GetApp(ctx, id)
	if err != nil {
		return nil, err
	}
	previousName := app.Name

	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		app.Name = strings.TrimSpace(*p.Name)
	}
	if p.Slug != nil && *p.Slug != "" {
		app.Slug = *p.Slug
	} else if app.Name != previousName {
		app.Slug = slugify(app.Name)
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, fmt.Errorf("invalid app status %q", *p.Status)
		}
		app.Status = *p.Status
	}
	if p.Metadata != nil {
		app.Metadata = p.Metadata
	}

	if err := c.store.UpdateAppCascade(ctx, app, previousName); err != nil {
		return nil, err
	}
	if app.Name != previousName {
		c.logger.Info("app renamed", "from", previousName, "to", app.Name)
	}
	return app, nil
}

// Delete removes an app and everything issued under it.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteAppCascade(ctx, id); err != nil {
		return err
	}
	c.logger.Info("app deleted", "id", id)
	return nil
}
