package pool

import (
	"fmt"
	"log/slog"
	"time"
	"warreg/entity"
	"warreg/lib/sl"

	"github.com/google/uuid"
)

// Database is the storage surface the pool needs. Implemented by
// internal/database.MongoDB.
type Database interface {
	InsertCode(number *entity.WarrantyNumber) error
	GetCode(code string) (*entity.WarrantyNumber, error)
	FindAvailableCode(code, productId string) (*entity.WarrantyNumber, error)
	MarkCodeUsed(code, registrationId string, usedAt time.Time) error
	MarkCodeFree(code string) error
	FindCodes(filter *entity.CodeFilter, page, pageSize int64) ([]*entity.WarrantyNumber, int64, error)
}

// Pool manages the set of issued warranty numbers. Codes are created by
// admins, consumed at most once and never deleted.
type Pool struct {
	db  Database
	log *slog.Logger
}

func New(db Database, log *slog.Logger) *Pool {
	return &Pool{
		db:  db,
		log: log.With(sl.Module("pool")),
	}
}

// Insert issues a single warranty number. Duplicate codes are rejected
// with entity.ErrDuplicateCode.
func (p *Pool) Insert(code, productId, productName string) (*entity.WarrantyNumber, error) {
	number := &entity.WarrantyNumber{
		Code:        code,
		ProductId:   productId,
		ProductName: productName,
		CreatedAt:   time.Now(),
	}
	if !number.IsComplete() {
		return nil, fmt.Errorf("%w: code, product_id and product_name are required", entity.ErrValidation)
	}
	if err := p.db.InsertCode(number); err != nil {
		return nil, err
	}
	p.log.With(
		sl.Code(code),
		slog.String("product_id", productId),
	).Info("warranty number issued")
	return number, nil
}

// BulkInsert applies Insert per record independently and never aborts
// the batch: incomplete rows are skipped silently, duplicates collected
// as per-item errors. All inserted rows share one import batch id.
func (p *Pool) BulkInsert(records []*entity.WarrantyNumber) *entity.BulkResult {
	result := &entity.BulkResult{
		ImportBatch: uuid.New().String(),
	}
	now := time.Now()
	for _, record := range records {
		if record == nil || !record.IsComplete() {
			continue
		}
		record.Used = false
		record.UsedAt = nil
		record.RegistrationId = ""
		record.ImportBatch = result.ImportBatch
		record.CreatedAt = now
		if err := p.db.InsertCode(record); err != nil {
			result.Errors = append(result.Errors, entity.ItemError{
				Code:   record.Code,
				Reason: err.Error(),
			})
			continue
		}
		result.SuccessCount++
	}
	p.log.With(
		slog.String("import_batch", result.ImportBatch),
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", len(result.Errors)),
	).Info("bulk import finished")
	return result
}

// Get returns a pool entry regardless of used state.
func (p *Pool) Get(code string) (*entity.WarrantyNumber, error) {
	return p.db.GetCode(code)
}

// FindAvailable is the registration precondition lookup: exists, same
// product, unused.
func (p *Pool) FindAvailable(code, productId string) (*entity.WarrantyNumber, error) {
	return p.db.FindAvailableCode(code, productId)
}

// MarkUsed consumes a code for a registration. The storage update is
// conditional on used=false, which serializes concurrent consumers.
func (p *Pool) MarkUsed(code, registrationId string) error {
	return p.db.MarkCodeUsed(code, registrationId, time.Now())
}

// MarkFree releases a code regardless of prior state.
func (p *Pool) MarkFree(code string) error {
	return p.db.MarkCodeFree(code)
}

func (p *Pool) Find(filter *entity.CodeFilter, page, pageSize int64) ([]*entity.WarrantyNumber, int64, error) {
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return p.db.FindCodes(filter, page, pageSize)
}
