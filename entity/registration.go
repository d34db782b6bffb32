package entity

import (
	"net/http"
	"strings"
	"time"
	"warreg/lib/validate"

	"github.com/biter777/countries"
)

type RegistrationStatus string

const (
	StatusActive  RegistrationStatus = "active"
	StatusExpired RegistrationStatus = "expired"
	StatusClaimed RegistrationStatus = "claimed"
)

type ClaimType string

const (
	ClaimReplacement ClaimType = "replacement"
	ClaimRepair      ClaimType = "repair"
	ClaimRefund      ClaimType = "refund"
	ClaimTechnical   ClaimType = "technical"
)

// SyncState is the secondary marketing-sync status carried on a
// registration. It never influences the primary API result.
type SyncState struct {
	CRM      bool       `json:"crm" bson:"crm"`
	Store    bool       `json:"store" bson:"store"`
	SyncedAt *time.Time `json:"synced_at,omitempty" bson:"synced_at,omitempty"`
}

// Registration is a customer registration holding a consumed warranty
// code. Code is set once at creation and never mutated; update requests
// attempting to change it are ignored, not rejected.
type Registration struct {
	Id        string `json:"id" bson:"id"`
	FirstName string `json:"first_name" bson:"first_name" validate:"required"`
	LastName  string `json:"last_name" bson:"last_name" validate:"required"`
	FullName  string `json:"full_name" bson:"full_name"`
	Email     string `json:"email" bson:"email" validate:"required,email"`
	Phone     string `json:"phone,omitempty" bson:"phone,omitempty"`
	Country   string `json:"country,omitempty" bson:"country,omitempty"`

	Product   string `json:"product" bson:"product" validate:"required"`
	ProductId string `json:"product_id" bson:"product_id" validate:"required"`
	Source    string `json:"source,omitempty" bson:"source,omitempty"`
	OrderId   string `json:"order_id,omitempty" bson:"order_id,omitempty"`

	Code string `json:"code" bson:"code" validate:"required"`

	PurchaseDate      time.Time `json:"purchase_date" bson:"purchase_date"`
	WarrantyStartDate time.Time `json:"warranty_start_date" bson:"warranty_start_date"`
	WarrantyEndDate   time.Time `json:"warranty_end_date" bson:"warranty_end_date"`

	Status           RegistrationStatus `json:"status" bson:"status"`
	ClaimDate        *time.Time         `json:"claim_date,omitempty" bson:"claim_date,omitempty"`
	ClaimType        ClaimType          `json:"claim_type,omitempty" bson:"claim_type,omitempty"`
	ClaimNotes       string             `json:"claim_notes,omitempty" bson:"claim_notes,omitempty"`
	ClaimProcessedBy string             `json:"claim_processed_by,omitempty" bson:"claim_processed_by,omitempty"`

	MarketingSync SyncState `json:"marketing_sync" bson:"marketing_sync"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// CountryCode maps the free-form customer country to ISO-3166 alpha-2
// for the CRM and store mirrors. Empty when it cannot be resolved.
func (r *Registration) CountryCode() string {
	if r.Country == "" {
		return ""
	}
	if len(r.Country) == 2 {
		return strings.ToUpper(r.Country)
	}
	country := countries.ByName(r.Country)
	code := country.Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName resolves the customer name used in listings and mirrors.
func (r *Registration) DisplayName() string {
	if r.FullName != "" {
		return r.FullName
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// IsActive reports whether the warranty is currently in force: status
// active and the end date still in the future.
func (r *Registration) IsActive(now time.Time) bool {
	return r.Status == StatusActive && r.WarrantyEndDate.After(now)
}

// RegisterRequest is the public registration payload.
type RegisterRequest struct {
	Code         string    `json:"code" validate:"required"`
	FirstName    string    `json:"first_name" validate:"required"`
	LastName     string    `json:"last_name" validate:"required"`
	Email        string    `json:"email" validate:"required,email"`
	Phone        string    `json:"phone"`
	Country      string    `json:"country"`
	ProductId    string    `json:"product_id" validate:"required"`
	Source       string    `json:"source"`
	OrderId      string    `json:"order_id"`
	PurchaseDate time.Time `json:"purchase_date"`
}

func (r *RegisterRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

// RegistrationPatch is a partial admin update. Nil fields are left
// untouched. Code is deliberately absent.
type RegistrationPatch struct {
	FirstName    *string             `json:"first_name"`
	LastName     *string             `json:"last_name"`
	Email        *string             `json:"email" validate:"omitempty,email"`
	Phone        *string             `json:"phone"`
	Country      *string             `json:"country"`
	OrderId      *string             `json:"order_id"`
	PurchaseDate *time.Time          `json:"purchase_date"`
	Status       *RegistrationStatus `json:"status" validate:"omitempty,oneof=active expired claimed"`
	ClaimDate    *time.Time          `json:"claim_date"`
	ClaimType    *ClaimType          `json:"claim_type" validate:"omitempty,oneof=replacement repair refund technical"`
	ClaimNotes   *string             `json:"claim_notes"`
}

func (p *RegistrationPatch) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

// SearchFilter narrows ledger search. Exact filters (ProductId, Status)
// combine with case-insensitive substring filters; Search matches any of
// the substring-capable fields at once.
type SearchFilter struct {
	ProductId string
	Status    RegistrationStatus
	Email     string
	Name      string
	Code      string
	OrderId   string
	Product   string
	Search    string
}
