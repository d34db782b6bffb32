package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"warreg/entity"
	"warreg/lib/sl"
)

// linkAttempts bounds the mark-used retry loop after a registration has
// been created. Transient storage failures are retried; exhaustion is
// escalated to an operator instead of discarding the registration.
const (
	linkAttempts = 3
	linkBackoff  = 200 * time.Millisecond
)

type PoolService interface {
	FindAvailable(code, productId string) (*entity.WarrantyNumber, error)
	Get(code string) (*entity.WarrantyNumber, error)
	MarkUsed(code, registrationId string) error
	MarkFree(code string) error
}

type LedgerService interface {
	Create(req *entity.RegisterRequest, productName string) (*entity.Registration, error)
	Get(id string) (*entity.Registration, error)
	Delete(id string) (string, error)
}

// Notifier delivers marketing-sync events after a successful
// registration. Implementations must never block the caller.
type Notifier interface {
	Enqueue(reg *entity.Registration, number *entity.WarrantyNumber)
}

// Alerter surfaces inconsistencies that need manual reconciliation.
type Alerter interface {
	Alert(message string)
}

// Coordinator binds warranty numbers to registrations and reverses the
// binding on delete/unlink. It is the only writer of the pool's used
// flag, which moves a code Available → Consumed → Available.
type Coordinator struct {
	pool    PoolService
	ledger  LedgerService
	notify  Notifier
	alerter Alerter
	log     *slog.Logger
	sleep   func(time.Duration) // test seam for the retry backoff
}

func New(pool PoolService, ledger LedgerService, log *slog.Logger) *Coordinator {
	return &Coordinator{
		pool:   pool,
		ledger: ledger,
		log:    log.With(sl.Module("coordinator")),
		sleep:  time.Sleep,
	}
}

func (c *Coordinator) SetNotifier(n Notifier) {
	c.notify = n
}

func (c *Coordinator) SetAlerter(a Alerter) {
	c.alerter = a
}

// Register performs the create-then-link sequence:
//  1. precondition lookup (code exists, matches product, unused) — any
//     miss collapses into entity.ErrInvalidCode so callers learn nothing
//     about pool contents;
//  2. create the registration record;
//  3. mark the code used, linked to the new registration id.
//
// Step 3 failures after step 2 succeeded must not orphan the customer's
// record: a lost race is compensated by deleting the never-exposed
// registration, a persistent transient failure is escalated as
// entity.ErrPartialRegistration with the registration retained.
func (c *Coordinator) Register(req *entity.RegisterRequest) (*entity.Registration, error) {
	log := c.log.With(
		sl.Code(req.Code),
		slog.String("product_id", req.ProductId),
	)

	number, err := c.pool.FindAvailable(req.Code, req.ProductId)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			log.Info("registration rejected")
			return nil, fmt.Errorf("%w", entity.ErrInvalidCode)
		}
		return nil, fmt.Errorf("code lookup: %w", err)
	}

	reg, err := c.ledger.Create(req, number.ProductName)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("registration_id", reg.Id))

	if err = c.link(reg, log); err != nil {
		return nil, err
	}

	if c.notify != nil {
		number.Used = true
		number.RegistrationId = reg.Id
		c.notify.Enqueue(reg, number)
	}
	log.Info("product registered")
	return reg, nil
}

func (c *Coordinator) link(reg *entity.Registration, log *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= linkAttempts; attempt++ {
		err = c.pool.MarkUsed(reg.Code, reg.Id)
		if err == nil {
			return nil
		}
		if errors.Is(err, entity.ErrNotFound) {
			return c.compensate(reg, log)
		}
		if errors.Is(err, entity.ErrAlreadyUsed) {
			// The consumed entry may be our own earlier write whose
			// acknowledgement was lost in transit. Re-read before
			// concluding the race was lost to someone else.
			number, getErr := c.pool.Get(reg.Code)
			if getErr == nil && number.Used && number.RegistrationId == reg.Id {
				log.Debug("code link confirmed after lost acknowledgement")
				return nil
			}
			if getErr == nil {
				return c.compensate(reg, log)
			}
			err = getErr
			log.Warn("code ownership recheck failed",
				slog.Int("attempt", attempt),
				sl.Err(err))
		} else {
			log.Warn("code link attempt failed",
				slog.Int("attempt", attempt),
				sl.Err(err))
		}
		if attempt < linkAttempts {
			c.sleep(linkBackoff)
		}
	}

	log.Error("code link exhausted retries", sl.Err(err))
	if c.alerter != nil {
		c.alerter.Alert(fmt.Sprintf(
			"registration %s created but code %s could not be marked used: %v",
			reg.Id, reg.Code, err))
	}
	return fmt.Errorf("%w: registration %s code %s", entity.ErrPartialRegistration, reg.Id, reg.Code)
}

// compensate removes a registration whose code went to another consumer
// between lookup and link. The record was never exposed to the customer,
// so deleting it is safe.
func (c *Coordinator) compensate(reg *entity.Registration, log *slog.Logger) error {
	if _, delErr := c.ledger.Delete(reg.Id); delErr != nil {
		log.Error("compensation delete failed", sl.Err(delErr))
	}
	log.Info("registration lost code race")
	return fmt.Errorf("%w", entity.ErrInvalidCode)
}

// Delete removes a registration and releases its code. The code is
// freed before the record is deleted so a crash in between can never
// leave a consumed code with no owning registration.
func (c *Coordinator) Delete(id string) error {
	return c.release(id, true)
}

// Unlink is Delete under a different admin verb: identical
// postcondition, the code becomes available again.
func (c *Coordinator) Unlink(id string) error {
	return c.release(id, false)
}

func (c *Coordinator) release(id string, deleting bool) error {
	reg, err := c.ledger.Get(id)
	if err != nil {
		return err
	}
	log := c.log.With(
		slog.String("registration_id", id),
		sl.Code(reg.Code),
	)

	// MarkFree is idempotent, so a pool entry already freed by an
	// earlier partial failure does not block the reversal.
	if err = c.pool.MarkFree(reg.Code); err != nil && !errors.Is(err, entity.ErrNotFound) {
		return fmt.Errorf("free code: %w", err)
	}

	if _, err = c.ledger.Delete(id); err != nil {
		return err
	}
	if deleting {
		log.Info("registration deleted")
	} else {
		log.Info("registration unlinked")
	}
	return nil
}
