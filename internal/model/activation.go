package model

import "time"

// ActivationStatus is the lifecycle state of an activation record.
type ActivationStatus string

const (
	ActivationStatusPending ActivationStatus = "pending"
	ActivationStatusActive  ActivationStatus = "active"
	ActivationStatusRevoked ActivationStatus = "revoked"
)

// Valid reports whether the status is one of the known activation states.
func (s ActivationStatus) Valid() bool {
	switch s {
	case ActivationStatusPending, ActivationStatusActive, ActivationStatusRevoked:
		return true
	}
	return false
}

// Audit log actions recorded for activation state changes.
const (
	LogActionActivated   = "activated"
	LogActionReactivated = "reactivated"
	LogActionApproved    = "approved"
	LogActionRevoked     = "revoked"
	LogActionDeactivated = "deactivated"
)

// Activation is one machine's claim on a license seat. The
// (AppName, LicenseKey, MachineID) triple is unique; repeated activations
// for the same triple update this row in place rather than inserting a
// duplicate.
type Activation struct {
	ID          string           `json:"id" db:"id"`
	AppName     string           `json:"appName" db:"app_name"`
	AppVersion  string           `json:"appVersion" db:"app_version"`
	LicenseKey  string           `json:"licenseKey" db:"license_key"`
	MachineID   string           `json:"machineId" db:"machine_id"`
	ShopName    *string          `json:"shopName,omitempty" db:"shop_name"`
	Status      ActivationStatus `json:"status" db:"status"`
	Metadata    *string          `json:"metadata,omitempty" db:"metadata"`
	ActivatedAt *time.Time       `json:"activatedAt" db:"activated_at"`
	ExpiresAt   *time.Time       `json:"expiresAt" db:"expires_at"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time        `json:"updatedAt" db:"updated_at"`
}

// ActivationLog is one immutable audit entry for an activation state change.
type ActivationLog struct {
	ID           string    `json:"id" db:"id"`
	ActivationID string    `json:"activationId" db:"activation_id"`
	Action       string    `json:"action" db:"action"`
	IPAddress    *string   `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent    *string   `json:"userAgent,omitempty" db:"user_agent"`
	Metadata     *string   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// ActivationStats is the dashboard projection of activation counts by status.
type ActivationStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
	Revoked int `json:"revoked"`
}
