package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown profiles.
	ErrNotFound = errors.New("profile not found")
	// ErrEmailTaken is returned when registering an email that already has
	// a profile.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for a failed login. It never says
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Roles a profile can hold. Admin additionally passes every role check.
const (
	RolePatient  = "patient"
	RoleProvider = "provider"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

func validRole(r string) bool {
	switch r {
	case RolePatient, RoleProvider, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// Profile is a registered user of the record-sharing service. PasswordHash
// is an argon2id encoded string and never leaves the server.
type Profile struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         string    `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
