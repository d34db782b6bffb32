package ledger

import (
	"fmt"
	"log/slog"
	"time"
	"warreg/entity"
	"warreg/lib/clock"
	"warreg/lib/sl"
	"warreg/lib/validate"

	"github.com/google/uuid"
)

// Database is the storage surface the ledger needs. Implemented by
// internal/database.MongoDB.
type Database interface {
	InsertRegistration(reg *entity.Registration) error
	GetRegistration(id string) (*entity.Registration, error)
	UpdateRegistration(id string, fields map[string]interface{}) error
	DeleteRegistration(id string) error
	SearchRegistrations(filter *entity.SearchFilter, page, pageSize int64) ([]*entity.Registration, int64, error)
	StatsCounts(now time.Time) (*entity.Stats, error)
}

// Ledger manages customer registration records. Records are created
// only through the registration coordinator; admins may update claim
// state or delete, which frees the pool entry via the coordinator.
type Ledger struct {
	db  Database
	log *slog.Logger
}

func New(db Database, log *slog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With(sl.Module("ledger")),
	}
}

// Create validates the request and persists a new registration.
// Warranty end date is the purchase date plus one calendar year; the
// start date defaults to now. The product name comes from the pool
// entry the coordinator already resolved.
func (l *Ledger) Create(req *entity.RegisterRequest, productName string) (*entity.Registration, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, err)
	}
	now := time.Now()
	purchase := req.PurchaseDate
	if purchase.IsZero() {
		purchase = now
	}
	reg := &entity.Registration{
		Id:                uuid.New().String(),
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Email:             req.Email,
		Phone:             req.Phone,
		Country:           req.Country,
		Product:           productName,
		ProductId:         req.ProductId,
		Source:            req.Source,
		OrderId:           req.OrderId,
		Code:              req.Code,
		PurchaseDate:      purchase,
		WarrantyStartDate: now,
		WarrantyEndDate:   clock.WarrantyEnd(purchase),
		Status:            entity.StatusActive,
		CreatedAt:         now,
	}
	reg.FullName = reg.DisplayName()
	if err := l.db.InsertRegistration(reg); err != nil {
		return nil, fmt.Errorf("insert registration: %w", err)
	}
	return reg, nil
}

func (l *Ledger) Get(id string) (*entity.Registration, error) {
	return l.db.GetRegistration(id)
}

// Update applies an admin patch. Attempts to change the code are
// ignored by construction: the patch type does not carry one. A status
// transition to claimed stamps claim date and the acting admin when the
// patch does not supply them.
func (l *Ledger) Update(id string, patch *entity.RegistrationPatch, adminUsername string) (*entity.Registration, error) {
	if err := validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, err)
	}

	fields := map[string]interface{}{}
	if patch.FirstName != nil {
		fields["first_name"] = *patch.FirstName
	}
	if patch.LastName != nil {
		fields["last_name"] = *patch.LastName
	}
	if patch.Email != nil {
		fields["email"] = *patch.Email
	}
	if patch.Phone != nil {
		fields["phone"] = *patch.Phone
	}
	if patch.Country != nil {
		fields["country"] = *patch.Country
	}
	if patch.OrderId != nil {
		fields["order_id"] = *patch.OrderId
	}
	if patch.FirstName != nil || patch.LastName != nil {
		current, err := l.db.GetRegistration(id)
		if err != nil {
			return nil, err
		}
		first, last := current.FirstName, current.LastName
		if patch.FirstName != nil {
			first = *patch.FirstName
		}
		if patch.LastName != nil {
			last = *patch.LastName
		}
		fields["full_name"] = first + " " + last
	}
	if patch.PurchaseDate != nil {
		fields["purchase_date"] = *patch.PurchaseDate
		fields["warranty_end_date"] = clock.WarrantyEnd(*patch.PurchaseDate)
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
		if *patch.Status == entity.StatusClaimed {
			claimDate := time.Now()
			if patch.ClaimDate != nil {
				claimDate = *patch.ClaimDate
			}
			fields["claim_date"] = claimDate
			fields["claim_processed_by"] = adminUsername
		}
	}
	if patch.ClaimType != nil {
		fields["claim_type"] = *patch.ClaimType
	}
	if patch.ClaimNotes != nil {
		fields["claim_notes"] = *patch.ClaimNotes
	}

	if len(fields) > 0 {
		if err := l.db.UpdateRegistration(id, fields); err != nil {
			return nil, err
		}
	}
	updated, err := l.db.GetRegistration(id)
	if err != nil {
		return nil, err
	}
	l.log.With(
		slog.String("registration_id", id),
		slog.String("admin", adminUsername),
	).Debug("registration updated")
	return updated, nil
}

// Delete removes a registration and returns the code it held so the
// caller can free the pool entry.
func (l *Ledger) Delete(id string) (string, error) {
	reg, err := l.db.GetRegistration(id)
	if err != nil {
		return "", err
	}
	if err = l.db.DeleteRegistration(id); err != nil {
		return "", err
	}
	return reg.Code, nil
}

func (l *Ledger) Search(filter *entity.SearchFilter, page, pageSize int64) ([]*entity.Registration, int64, error) {
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return l.db.SearchRegistrations(filter, page, pageSize)
}

func (l *Ledger) Stats() (*entity.Stats, error) {
	return l.db.StatsCounts(time.Now())
}
