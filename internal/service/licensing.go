// Package service holds keygate's business logic: license issuance, the
// activation protocol state machine, app identifier resolution, and admin
// authentication. Handlers stay thin; every rule lives here.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

// Sentinel errors mapped to HTTP statuses by the handler layer.
var (
	ErrAppNotFound     = errors.New("application not found")
	ErrLicenseNotFound = errors.New("license not found")
	ErrLicenseInactive = errors.New("license is not active")
	ErrLicenseExpired  = errors.New("license has expired")
	ErrMachineMismatch = errors.New("license is locked to a different machine")
	ErrSeatLimit       = errors.New("license activation limit reached")
	ErrInvalidToken    = token.ErrInvalidToken
	ErrTokenMismatch   = errors.New("activation token does not match app or machine")
	ErrActivationGone  = errors.New("no activation found for this machine")
)

// reasonBadToken is the validate-side wording for a token that fails
// signature or expiry checks.
const reasonBadToken = "invalid or expired activation token"

// Activation token lifetime bounds, in days.
const (
	DefaultTokenTTLDays = 30
	MaxTokenTTLDays     = 365
)

// Licensing implements the license registry and the activation protocol.
type Licensing struct {
	store   *store.Store
	catalog *Catalog
	codec   *token.ActivationCodec
	ttlDays int
	logger  *slog.Logger
}

// NewLicensing creates the licensing service. ttlDays is the configured
// activation token lifetime; zero or negative falls back to
// DefaultTokenTTLDays.
func NewLicensing(s *store.Store, catalog *Catalog, codec *token.ActivationCodec, ttlDays int, logger *slog.Logger) *Licensing {
	return &Licensing{store: s, catalog: catalog, codec: codec, ttlDays: ttlDays, logger: logger}
}

// IssueParams describes a batch of licenses to mint.
type IssueParams struct {
	AppIdentifier   string
	Count           int
	MaxActivations  int
	ExpiresAt       *time.Time
	LockedMachineID string
	Metadata        *string
}

// mergeLockedMachine folds a machine lock into the metadata blob under the
// lockedMachineId key, preserving any other metadata the caller supplied.
func mergeLockedMachine(metadata *string, machineID string) (*string, error) {
	machineID = strings.TrimSpace(machineID)
	if machineID == "" {
		return metadata, nil
	}
	meta := map[string]any{}
	if metadata != nil && *metadata != "" {
		if err := json.Unmarshal([]byte(*metadata), &meta); err != nil {
			return nil, fmt.Errorf("parse license metadata: %w", err)
		}
	}
	meta["lockedMachineId"] = machineID
	merged, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode license metadata: %w", err)
	}
	s := string(merged)
	return &s, nil
}

// Issue mints Count license keys for an app. Keys are generated from the
// unambiguous alphabet and retried on collision.
func (l *Licensing) Issue(ctx context.Context, p IssueParams) ([]model.License, error) {
	app, err := l.catalog.Resolve(ctx, p.AppIdentifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}
	if p.Count <= 0 {
		p.Count = 1
	}
	if p.MaxActivations <= 0 {
		p.MaxActivations = 1
	}

	metadata, err := mergeLockedMachine(p.Metadata, p.LockedMachineID)
	if err != nil {
		return nil, err
	}

	out := make([]model.License, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		key, err := generateKey(ctx, func(ctx context.Context, k string) (bool, error) {
			return l.store.LicenseKeyExists(ctx, app.Name, k)
		})
		if err != nil {
			return nil, err
		}
		lic := model.License{
			AppName:        app.Name,
			LicenseKey:     key,
			Status:         model.LicenseStatusActive,
			MaxActivations: p.MaxActivations,
			ExpiresAt:      p.ExpiresAt,
			Metadata:       metadata,
		}
		if err := l.store.CreateLicense(ctx, &lic); err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	l.logger.Info("licenses issued", "app", app.Name, "count", len(out))
	return out, nil
}

// Get fetches a license by id with usage counts.
func (l *Licensing) Get(ctx context.Context, id string) (*model.LicenseWithUsage, error) {
	lic, err := l.store.GetLicense(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	active, err := l.store.CountActiveActivations(ctx, lic.AppName, lic.LicenseKey)
	if err != nil {
		return nil, err
	}
	remaining := lic.MaxActivations - active
	if remaining < 0 {
		remaining = 0
	}
	return &model.LicenseWithUsage{
		License:              *lic,
		ActiveActivations:    active,
		RemainingActivations: remaining,
	}, nil
}

// List returns licenses matching the filter.
func (l *Licensing) List(ctx context.Context, f store.LicenseFilter) ([]model.LicenseWithUsage, error) {
	return l.store.ListLicenses(ctx, f)
}

// LicenseUpdateParams carries the mutable license fields. Nil pointers leave
// the field unchanged.
type LicenseUpdateParams struct {
	MaxActivations *int
	ExpiresAt      *time.Time
	ClearExpiry    bool
	Metadata       *string
}

// Update edits a license's limits and metadata.
func (l *Licensing) Update(ctx context.Context, id string, p LicenseUpdateParams) (*model.License, error) {
	lic, err := l.store.GetLicense(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	if p.MaxActivations != nil && *p.MaxActivations > 0 {
		lic.MaxActivations = *p.MaxActivations
	}
	if p.ClearExpiry {
		lic.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		lic.ExpiresAt = p.ExpiresAt
	}
	if p.Metadata != nil {
		lic.Metadata = p.Metadata
	}

	if err := l.store.UpdateLicense(ctx, lic); err != nil {
		return nil, err
	}
	return lic, nil
}

// SetStatus activates or revokes a license key.
func (l *Licensing) SetStatus(ctx context.Context, id string, status model.LicenseStatus) (*model.License, error) {
	if err := l.store.SetLicenseStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	lic, err := l.store.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("license status changed", "id", id, "status", status)
	return lic, nil
}

// Delete removes a license and its activation history.
func (l *Licensing) Delete(ctx context.Context, id string) error {
	if err := l.store.DeleteLicenseCascade(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrLicenseNotFound
		}
		return err
	}
	l.logger.Info("license deleted", "id", id)
	return nil
}

// ActivateParams is one machine's request to claim a seat.
type ActivateParams struct {
	AppIdentifier string
	LicenseKey    string
	MachineID     string
	AppVersion    string
	ShopName      *string
	Metadata      *string
	IPAddress     *string
	UserAgent     *string
}

// ActivateResult is the successful activation response.
type ActivateResult struct {
	ActivationToken string            `json:"activationToken"`
	TokenExpiresAt  time.Time         `json:"tokenExpiresAt"`
	Activation      *model.Activation `json:"activation"`
	License         LicenseSummary    `json:"license"`
	Reactivated     bool              `json:"reactivated"`
}

// LicenseSummary is the license projection embedded in activation and
// validation responses.
type LicenseSummary struct {
	ID                   string               `json:"id"`
	AppName              string               `json:"appName"`
	Status               model.LicenseStatus  `json:"status"`
	ActivationType       model.ActivationType `json:"activationType"`
	MaxActivations       int                  `json:"maxActivations"`
	UsedActivations      int                  `json:"usedActivations"`
	RemainingActivations int                  `json:"remainingActivations"`
	ExpiresAt            *time.Time           `json:"expiresAt"`
}

func summarize(lic *model.License, used int) LicenseSummary {
	remaining := lic.MaxActivations - used
	if remaining < 0 {
		remaining = 0
	}
	return LicenseSummary{
		ID:                   lic.ID,
		AppName:              lic.AppName,
		Status:               lic.Status,
		ActivationType:       lic.PolicyFor(),
		MaxActivations:       lic.MaxActivations,
		UsedActivations:      used,
		RemainingActivations: remaining,
		ExpiresAt:            lic.ExpiresAt,
	}
}

// resolveAppName maps a caller-supplied identifier to the canonical app
// name, falling back to the trimmed input when no app matches. The license
// lookup then decides whether the name means anything.
func (l *Licensing) resolveAppName(ctx context.Context, identifier string) (string, error) {
	app, err := l.catalog.Resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return strings.TrimSpace(identifier), nil
		}
		return "", err
	}
	return app.Name, nil
}

// tokenExpiry clamps the configured TTL and never outlives a license's own
// hard expiry.
func tokenExpiry(now time.Time, ttlDays int, lic *model.License) time.Time {
	if ttlDays <= 0 {
		ttlDays = DefaultTokenTTLDays
	}
	if ttlDays > MaxTokenTTLDays {
		ttlDays = MaxTokenTTLDays
	}
	exp := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(exp) {
		exp = *lic.ExpiresAt
	}
	return exp
}

// checkLicense runs the shared license gate: status, hard expiry, machine
// binding.
func checkLicense(lic *model.License, machineID string, now time.Time) error {
	if lic.Status != model.LicenseStatusActive {
		return ErrLicenseInactive
	}
	if lic.Expired(now) {
		return ErrLicenseExpired
	}
	if locked := lic.LockedMachineID(); locked != "" && locked != machineID {
		return ErrMachineMismatch
	}
	return nil
}

// Activate claims a seat for a machine and mints its activation token. An
// identifier that resolves to no app falls through to the raw name, so the
// failure mode is a license lookup miss. The error ladder is license not
// found, inactive, expired, machine mismatch, then seat limit; the seat
// claim itself is atomic.
func (l *Licensing) Activate(ctx context.Context, p ActivateParams) (*ActivateResult, error) {
	appName, err := l.resolveAppName(ctx, p.AppIdentifier)
	if err != nil {
		return nil, err
	}

	lic, err := l.store.GetLicenseByAppKey(ctx, appName, p.LicenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	if err := checkLicense(lic, p.MachineID, now); err != nil {
		return nil, err
	}

	exp := tokenExpiry(now, l.ttlDays, lic)
	res, err := l.store.ClaimSeat(ctx, store.ClaimSeatParams{
		LicenseID:      lic.ID,
		AppName:        appName,
		LicenseKey:     p.LicenseKey,
		MachineID:      p.MachineID,
		AppVersion:     p.AppVersion,
		ShopName:       p.ShopName,
		Metadata:       p.Metadata,
		MaxActivations: lic.MaxActivations,
		ExpiresAt:      &exp,
		IPAddress:      p.IPAddress,
		UserAgent:      p.UserAgent,
	})
	if err != nil {
		if errors.Is(err, store.ErrSeatLimit) {
			return nil, ErrSeatLimit
		}
		return nil, err
	}

	tok, err := l.codec.Sign(lic.ID, appName, p.MachineID, exp, now)
	if err != nil {
		return nil, err
	}

	l.logger.Info("license activated",
		"app", appName, "license", lic.ID, "machine", p.MachineID,
		"reactivated", res.Reactivated, "used", res.UsedActivations)

	return &ActivateResult{
		ActivationToken: tok,
		TokenExpiresAt:  exp,
		Activation:      res.Activation,
		License:         summarize(lic, res.UsedActivations),
		Reactivated:     res.Reactivated,
	}, nil
}

// ValidationResult is the validate response. Reason is set when Valid is
// false and names the first failed check.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Reason     string            `json:"reason,omitempty"`
	License    *LicenseSummary   `json:"license,omitempty"`
	Activation *model.Activation `json:"activation,omitempty"`
}

// ValidateParams names the context a client must present alongside its
// token: the app and machine the token was minted for.
type ValidateParams struct {
	AppIdentifier   string
	MachineID       string
	ActivationToken string
}

// Validate re-checks a held activation token against the ledger. Every
// failure, a bad token included, is reported as an invalid result with a
// reason rather than an error; errors are reserved for store faults. The
// token's embedded app and machine must match the request exactly, so a
// stolen token cannot be replayed from another machine or app.
func (l *Licensing) Validate(ctx context.Context, p ValidateParams) (*ValidationResult, error) {
	appName, err := l.resolveAppName(ctx, p.AppIdentifier)
	if err != nil {
		return nil, err
	}

	claims, err := l.codec.Verify(p.ActivationToken)
	if err != nil {
		return &ValidationResult{Valid: false, Reason: reasonBadToken}, nil
	}
	if claims.AppName != appName || claims.MachineID != p.MachineID {
		return &ValidationResult{Valid: false, Reason: ErrTokenMismatch.Error()}, nil
	}

	lic, err := l.store.GetLicense(ctx, claims.LicenseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ValidationResult{Valid: false, Reason: "license not found"}, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if lic.Status != model.LicenseStatusActive {
		return &ValidationResult{Valid: false, Reason: "license is not active"}, nil
	}
	if lic.Expired(now) {
		return &ValidationResult{Valid: false, Reason: "license has expired"}, nil
	}
	if locked := lic.LockedMachineID(); locked != "" && locked != claims.MachineID {
		return &ValidationResult{Valid: false, Reason: "machine mismatch"}, nil
	}

	// The triple is looked up under the app name baked into the token, so a
	// token survives neither app renames nor cross-app replay.
	act, err := l.store.GetActivationByTriple(ctx, claims.AppName, lic.LicenseKey, claims.MachineID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ValidationResult{Valid: false, Reason: "no activation for this machine"}, nil
		}
		return nil, err
	}
	if act.Status != model.ActivationStatusActive {
		return &ValidationResult{Valid: false, Reason: "activation is " + string(act.Status)}, nil
	}
	if act.ExpiresAt != nil && act.ExpiresAt.Before(now) {
		return &ValidationResult{Valid: false, Reason: "activation has expired"}, nil
	}

	used, err := l.store.CountActiveActivations(ctx, lic.AppName, lic.LicenseKey)
	if err != nil {
		return nil, err
	}
	summary := summarize(lic, used)
	return &ValidationResult{Valid: true, License: &summary, Activation: act}, nil
}

// DeactivateResult is the deactivate response.
type DeactivateResult struct {
	Activation     *model.Activation `json:"activation"`
	RemainingSeats int               `json:"remainingSeats"`
}

// DeactivateParams carries the token plus the app/machine context it must
// match, and the caller identity for the audit log.
type DeactivateParams struct {
	AppIdentifier   string
	MachineID       string
	ActivationToken string
	IPAddress       *string
	UserAgent       *string
}

// Deactivate releases the seat named by an activation token. The token's
// embedded app and machine must match the request, mirroring Validate. The
// freed seat immediately becomes claimable by another machine.
func (l *Licensing) Deactivate(ctx context.Context, p DeactivateParams) (*DeactivateResult, error) {
	appName, err := l.resolveAppName(ctx, p.AppIdentifier)
	if err != nil {
		return nil, err
	}

	claims, err := l.codec.Verify(p.ActivationToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.AppName != appName || claims.MachineID != p.MachineID {
		return nil, ErrTokenMismatch
	}

	lic, err := l.store.GetLicense(ctx, claims.LicenseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	act, remaining, err := l.store.DeactivateTriple(ctx, claims.AppName, lic.LicenseKey, claims.MachineID, p.IPAddress, p.UserAgent)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrActivationGone
		}
		return nil, err
	}

	free := lic.MaxActivations - remaining
	if free < 0 {
		free = 0
	}
	l.logger.Info("license deactivated",
		"app", claims.AppName, "license", lic.ID, "machine", claims.MachineID)
	return &DeactivateResult{Activation: act, RemainingSeats: free}, nil
}

// Activations lists ledger rows for the admin API.
func (l *Licensing) Activations(ctx context.Context, f store.ActivationFilter) ([]model.Activation, error) {
	return l.store.ListActivations(ctx, f)
}

// Activation fetches one ledger row by id.
func (l *Licensing) Activation(ctx context.Context, activationID string) (*model.Activation, error) {
	act, err := l.store.GetActivation(ctx, activationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrActivationGone
		}
		return nil, err
	}
	return act, nil
}

// PendingParams describes a manually recorded seat claim.
type PendingParams struct {
	AppIdentifier string
	LicenseKey    string
	MachineID     string
	AppVersion    string
	ShopName      *string
	Metadata      *string
}

// CreatePending records a seat claim that waits for admin approval instead
// of activating immediately. The license gate applies but the seat limit is
// only enforced at approval time.
func (l *Licensing) CreatePending(ctx context.Context, p PendingParams) (*model.Activation, error) {
	app, err := l.catalog.Resolve(ctx, p.AppIdentifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}

	lic, err := l.store.GetLicenseByAppKey(ctx, app.Name, p.LicenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	if err := checkLicense(lic, p.MachineID, time.Now().UTC()); err != nil {
		return nil, err
	}

	act := &model.Activation{
		AppName:    app.Name,
		AppVersion: p.AppVersion,
		LicenseKey: p.LicenseKey,
		MachineID:  p.MachineID,
		ShopName:   p.ShopName,
		Metadata:   p.Metadata,
		ExpiresAt:  lic.ExpiresAt,
	}
	if err := l.store.InsertPendingActivation(ctx, act); err != nil {
		return nil, err
	}

	l.logger.Info("pending activation recorded",
		"app", app.Name, "license", lic.ID, "machine", p.MachineID)
	return act, nil
}

// ActivationLogs returns one activation's audit trail.
func (l *Licensing) ActivationLogs(ctx context.Context, activationID string) ([]model.ActivationLog, error) {
	if _, err := l.store.GetActivation(ctx, activationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrActivationGone
		}
		return nil, err
	}
	return l.store.ActivationLogs(ctx, activationID)
}

// Stats aggregates activation counts, optionally per app.
func (l *Licensing) Stats(ctx context.Context, appName string) (*model.ActivationStats, error) {
	return l.store.ActivationStats(ctx, appName)
}

// Approve moves a pending activation to active.
func (l *Licensing) Approve(ctx context.Context, activationID string) (*model.Activation, error) {
	act, err := l.store.SetActivationStatus(ctx, activationID, model.ActivationStatusActive, model.LogActionApproved)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrActivationGone
		}
		return nil, err
	}
	return act, nil
}

// Revoke force-releases a seat from the admin side.
func (l *Licensing) Revoke(ctx context.Context, activationID string) (*model.Activation, error) {
	act, err := l.store.SetActivationStatus(ctx, activationID, model.ActivationStatusRevoked, model.LogActionRevoked)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrActivationGone
		}
		return nil, err
	}
	return act, nil
}
