package model

import (
	"encoding/json"
	"strings"
	"time"
)

// LicenseStatus is the lifecycle state of a license.
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// Valid reports whether the status is one of the known license states.
func (s LicenseStatus) Valid() bool {
	return s == LicenseStatusActive || s == LicenseStatusRevoked
}

// metadataLockKey is the metadata field that pins a license to one machine.
const metadataLockKey = "lockedMachineId"

// License is an issued license key for an app. (AppName, LicenseKey) is
// unique; MaxActivations bounds how many machines may hold an active seat
// at the same time.
type License struct {
	ID             string        `json:"id" db:"id"`
	AppName        string        `json:"appName" db:"app_name"`
	LicenseKey     string        `json:"licenseKey" db:"license_key"`
	Status         LicenseStatus `json:"status" db:"status"`
	MaxActivations int           `json:"maxActivations" db:"max_activations"`
	ExpiresAt      *time.Time    `json:"expiresAt" db:"expires_at"`
	Metadata       *string       `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time     `json:"updatedAt" db:"updated_at"`
}

// Expired reports whether the license has a hard expiry in the past.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// LockedMachineID returns the machine id this license is pinned to, or ""
// for a pre-generated (first-N-wins) license. Malformed metadata is treated
// as unlocked rather than failing the request.
func (l *License) LockedMachineID() string {
	if l.Metadata == nil || *l.Metadata == "" {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(*l.Metadata), &meta); err != nil {
		return ""
	}
	locked, _ := meta[metadataLockKey].(string)
	return strings.TrimSpace(locked)
}

// LicenseWithUsage decorates a license with live seat accounting.
type LicenseWithUsage struct {
	License
	ActiveActivations    int `json:"activeActivations"`
	RemainingActivations int `json:"remainingActivations"`
}

// ActivationType describes the licensing policy a license operates under.
type ActivationType string

const (
	// ActivationTypeMachineBound is a license pinned to a single machine id
	// at issuance time.
	ActivationTypeMachineBound ActivationType = "machine_id_bound"
	// ActivationTypePreGenerated is a license open to the first N machines
	// that claim a seat.
	ActivationTypePreGenerated ActivationType = "pre_generated"
)

// PolicyFor returns the activation policy implied by the license metadata.
func (l *License) PolicyFor() ActivationType {
	if l.LockedMachineID() != "" {
		return ActivationTypeMachineBound
	}
	return ActivationTypePreGenerated
}
