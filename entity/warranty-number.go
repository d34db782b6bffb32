package entity

import (
	"net/http"
	"time"
	"warreg/lib/validate"
)

// WarrantyNumber is a pre-issued warranty code held in the pool.
// A code is created by bulk import or a single admin insert, consumed
// at most once by a registration and never deleted. The used flag and
// RegistrationId are mutated only by the registration coordinator.
//
// Invariant: Used is true iff RegistrationId points at an existing
// registration whose code equals this record's code.
type WarrantyNumber struct {
	Code           string     `json:"code" bson:"code" validate:"required"`
	ProductId      string     `json:"product_id" bson:"product_id" validate:"required"`
	ProductName    string     `json:"product_name" bson:"product_name" validate:"required"`
	Used           bool       `json:"used" bson:"used"`
	UsedAt         *time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
	RegistrationId string     `json:"registration_id,omitempty" bson:"registration_id,omitempty"`
	ImportBatch    string     `json:"import_batch,omitempty" bson:"import_batch,omitempty"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
}

func (n *WarrantyNumber) Bind(_ *http.Request) error {
	return validate.Struct(n)
}

// IsComplete reports whether the record carries all fields required for
// insertion. Bulk import skips incomplete rows before touching storage.
func (n *WarrantyNumber) IsComplete() bool {
	return n.Code != "" && n.ProductId != "" && n.ProductName != ""
}

// CodeFilter narrows pool listing. Nil fields match everything.
type CodeFilter struct {
	ProductId string
	Used      *bool
}

// ItemError reports a single failed row of a bulk import.
type ItemError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk import: rows inserted plus the per-row
// failures that did not abort the batch.
type BulkResult struct {
	SuccessCount int         `json:"success_count"`
	ImportBatch  string      `json:"import_batch"`
	Errors       []ItemError `json:"errors,omitempty"`
}
