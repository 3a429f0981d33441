package model

import "time"

// AppStatus is the lifecycle state of a managed application.
type AppStatus string

const (
	AppStatusActive   AppStatus = "active"
	AppStatusInactive AppStatus = "inactive"
)

// Valid reports whether the status is one of the known app states.
func (s AppStatus) Valid() bool {
	return s == AppStatusActive || s == AppStatusInactive
}

// App is an application registered in the catalog. Licenses and activations
// reference apps by denormalized name, so renaming an app cascades to both.
type App struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	Status    AppStatus `json:"status" db:"status"`
	Metadata  *string   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
