package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	store     *store.Store
	catalog   *Catalog
	licensing *Licensing
	auth      *Auth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actCodec, err := token.NewActivationCodec(testSecret)
	if err != nil {
		t.Fatalf("activation codec: %v", err)
	}
	sessCodec, err := token.NewSessionCodec(testSecret)
	if err != nil {
		t.Fatalf("session codec: %v", err)
	}

	catalog := NewCatalog(s, logger)
	return &testEnv{
		store:     s,
		catalog:   catalog,
		licensing: NewLicensing(s, catalog, actCodec, 0, logger),
		auth:      NewAuth(s, sessCodec, logger),
	}
}

func (e *testEnv) app(t *testing.T, name string) *model.App {
	t.Helper()
	app, err := e.catalog.Create(context.Background(), name, "", nil)
	if err != nil {
		t.Fatalf("create app %q: %v", name, err)
	}
	return app
}

func (e *testEnv) license(t *testing.T, appName string, seats int) model.License {
	t.Helper()
	lics, err := e.licensing.Issue(context.Background(), IssueParams{
		AppIdentifier:  appName,
		Count:          1,
		MaxActivations: seats,
	})
	if err != nil {
		t.Fatalf("issue license: %v", err)
	}
	return lics[0]
}

func (e *testEnv) activate(t *testing.T, app, key, machine string) *ActivateResult {
	t.Helper()
	res, err := e.licensing.Activate(context.Background(), ActivateParams{
		AppIdentifier: app,
		LicenseKey:    key,
		MachineID:     machine,
		AppVersion:    "1.0.0",
	})
	if err != nil {
		t.Fatalf("activate %s/%s on %s: %v", app, key, machine, err)
	}
	return res
}

func (e *testEnv) validate(t *testing.T, app, machine, tok string) *ValidationResult {
	t.Helper()
	v, err := e.licensing.Validate(context.Background(), ValidateParams{
		AppIdentifier:   app,
		MachineID:       machine,
		ActivationToken: tok,
	})
	if err != nil {
		t.Fatalf("validate %s on %s: %v", app, machine, err)
	}
	return v
}

func (e *testEnv) deactivate(t *testing.T, app, machine, tok string) *DeactivateResult {
	t.Helper()
	d, err := e.licensing.Deactivate(context.Background(), DeactivateParams{
		AppIdentifier:   app,
		MachineID:       machine,
		ActivationToken: tok,
	})
	if err != nil {
		t.Fatalf("deactivate %s on %s: %v", app, machine, err)
	}
	return d
}
