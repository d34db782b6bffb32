package core

import (
	"fmt"
	"log/slog"
	"warreg/entity"
	"warreg/impl/coordinator"
	"warreg/impl/ledger"
	"warreg/impl/pool"
	"warreg/lib/sl"
)

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

// Core is the facade the HTTP handlers talk to. Handlers depend on
// narrow per-handler interfaces; Core satisfies all of them.
type Core struct {
	pool   *pool.Pool
	ledger *ledger.Ledger
	coord  *coordinator.Coordinator
	auth   AuthService
	log    *slog.Logger
}

func New(p *pool.Pool, l *ledger.Ledger, c *coordinator.Coordinator, log *slog.Logger) *Core {
	if p == nil || l == nil || c == nil {
		panic("core services are nil")
	}
	return &Core{
		pool:   p,
		ledger: l,
		coord:  c,
		log:    log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

// --- public registration ---

func (c *Core) Register(req *entity.RegisterRequest) (*entity.Registration, error) {
	return c.coord.Register(req)
}

// --- admin: warranty numbers ---

func (c *Core) CodeInsert(code, productId, productName string) (*entity.WarrantyNumber, error) {
	return c.pool.Insert(code, productId, productName)
}

func (c *Core) CodeImport(records []*entity.WarrantyNumber) *entity.BulkResult {
	return c.pool.BulkInsert(records)
}

func (c *Core) CodeFind(filter *entity.CodeFilter, page, pageSize int64) ([]*entity.WarrantyNumber, int64, error) {
	return c.pool.Find(filter, page, pageSize)
}

// --- admin: registrations ---

func (c *Core) RegistrationSearch(filter *entity.SearchFilter, page, pageSize int64) ([]*entity.Registration, int64, error) {
	return c.ledger.Search(filter, page, pageSize)
}

func (c *Core) RegistrationUpdate(id string, patch *entity.RegistrationPatch, adminUsername string) (*entity.Registration, error) {
	return c.ledger.Update(id, patch, adminUsername)
}

func (c *Core) RegistrationDelete(id string) error {
	return c.coord.Delete(id)
}

func (c *Core) RegistrationUnlink(id string) error {
	return c.coord.Unlink(id)
}

func (c *Core) RegistrationStats() (*entity.Stats, error) {
	return c.ledger.Stats()
}
