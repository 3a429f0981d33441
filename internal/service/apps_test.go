package service

import (
	"context"
	"errors"
	"testing"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/store"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Widget":       "my-widget",
		"  My  Widget  ":  "my-widget",
		"widget":          "widget",
		"Widget 2.0 Pro!": "widget-2-0-pro",
		"ÜberTool":        "übertool",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveIdentifierLadder(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	app := e.app(t, "My Widget")

	for _, id := range []string{
		"My Widget", // exact name
		"my-widget", // slug
		"My-Widget", // slug after slugify
		"my widget", // case-insensitive name via slugify
		"MY WIDGET", // case-insensitive name
		"mywidget",  // compacted
	} {
		got, err := e.catalog.Resolve(ctx, id)
		if err != nil {
			t.Errorf("Resolve(%q): %v", id, err)
			continue
		}
		if got.ID != app.ID {
			t.Errorf("Resolve(%q) = %q, want %q", id, got.ID, app.ID)
		}
	}

	if _, err := e.catalog.Resolve(ctx, "Gadget"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Resolve(unknown) = %v, want ErrNotFound", err)
	}
	if _, err := e.catalog.Resolve(ctx, "  "); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Resolve(blank) = %v, want ErrNotFound", err)
	}
}

func TestCreateAppDuplicate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.app(t, "Widget")

	if _, err := e.catalog.Create(ctx, "Widget", "", nil); !errors.Is(err, ErrAppExists) {
		t.Errorf("duplicate name error = %v, want ErrAppExists", err)
	}
	// A different name colliding on slug is also rejected.
	if _, err := e.catalog.Create(ctx, "Other", "widget", nil); !errors.Is(err, ErrAppExists) {
		t.Errorf("duplicate slug error = %v, want ErrAppExists", err)
	}
}

func TestUpdateAppRenameRetargetsLicenses(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	app := e.app(t, "Widget")
	lic := e.license(t, "Widget", 1)
	e.activate(t, "Widget", lic.LicenseKey, "m1")

	name := "Widget Pro"
	if _, err := e.catalog.Update(ctx, app.ID, AppUpdateParams{Name: &name}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Activation under the new app name still works through the rename.
	res, err := e.licensing.Activate(ctx, ActivateParams{
		AppIdentifier: "Widget Pro",
		LicenseKey:    lic.LicenseKey,
		MachineID:     "m1",
		AppVersion:    "1.0.1",
	})
	if err != nil {
		t.Fatalf("activate after rename: %v", err)
	}
	if !res.Reactivated {
		t.Error("rename should preserve the machine's existing seat")
	}

	// The old identifier no longer resolves.
	if _, err := e.licensing.Activate(ctx, ActivateParams{
		AppIdentifier: "Widget",
		LicenseKey:    lic.LicenseKey,
		MachineID:     "m1",
		AppVersion:    "1.0.1",
	}); !errors.Is(err, ErrAppNotFound) {
		t.Errorf("old name error = %v, want ErrAppNotFound", err)
	}
}

func TestUpdateAppStatusValidation(t *testing.T) {
	e := newTestEnv(t)
	app := e.app(t, "Widget")

	bad := model.AppStatus("archived")
	if _, err := e.catalog.Update(context.Background(), app.ID, AppUpdateParams{Status: &bad}); err == nil {
		t.Error("expected error for unknown app status")
	}
}
