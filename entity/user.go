package entity

import (
	"net/http"
	"time"
	"warreg/lib/validate"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer" // read-only access to listings and stats
)

// User is an admin API identity authenticated by bearer token.
// The acting username stamps claim_processed_by on claim transitions.
type User struct {
	Username  string    `json:"username" bson:"username" validate:"required"`
	Name      string    `json:"name" bson:"name" validate:"omitempty"`
	Email     string    `json:"email" bson:"email" validate:"omitempty"`
	Token     string    `json:"token" bson:"token" validate:"required,min=1"`
	Role      Role      `json:"role" bson:"role"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
