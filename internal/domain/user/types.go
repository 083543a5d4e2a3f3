package user

import (
	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

var ErrInvalidRole = errs.New("invalid role")

type Role string

const (
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	switch r {
	case RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}

func NewRole(s string) (Role, error) {
	role := Role(s)
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Principal is the authenticated caller. Its ID is the lease holder id.
type Principal struct {
	ID   uuid.UUID
	Role Role
}
