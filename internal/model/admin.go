package model

import "time"

// Admin is an administrative user who manages licenses through the admin API.
// Passwords are stored as bcrypt hashes.
type Admin struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// Session is the server-side row backing an admin session token. The session
// JWT embeds Token; logging out deletes the row so the JWT dies with it.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Token     string    `json:"-" db:"token"`
	AdminID   string    `json:"adminId" db:"admin_id"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
