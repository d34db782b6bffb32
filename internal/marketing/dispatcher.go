package marketing

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"warreg/entity"
	"warreg/lib/sl"

	"github.com/google/uuid"
)

const (
	queueSize    = 64
	maxAttempts  = 5
	syncTimeout  = 30 * time.Second
	retryEvery   = 3 * time.Minute
	pendingBatch = 50

	// claimStale bounds how long an in_flight claim is honored. A claim
	// older than this belongs to a worker that crashed mid-delivery and
	// the event becomes eligible for the sweep again.
	claimStale = 10 * time.Minute
)

// Database is the outbox storage the dispatcher needs.
type Database interface {
	SaveSyncEvent(evt *entity.SyncEvent) error
	ClaimSyncEvent(id string, staleBefore time.Time) (bool, error)
	PendingSyncEvents(limit int64, staleBefore time.Time) ([]*entity.SyncEvent, error)
	SetRegistrationSyncState(id string, state entity.SyncState) error
}

// CrmTarget mirrors a registration into the email/CRM provider.
type CrmTarget interface {
	SyncRegistration(ctx context.Context, reg *entity.Registration, number *entity.WarrantyNumber) error
}

// StoreTarget mirrors a registration into the e-commerce customer
// directory.
type StoreTarget interface {
	SyncRegistration(reg *entity.Registration, number *entity.WarrantyNumber) error
}

// Dispatcher decouples marketing-sync side effects from registration.
// Every event is persisted to the outbox before delivery is attempted,
// so a full queue or a crash only delays the mirror, never loses it,
// and the registration path never blocks on a third-party call.
type Dispatcher struct {
	db    Database
	crm   CrmTarget
	store StoreTarget
	log   *slog.Logger
	queue chan *entity.SyncEvent
	stop  chan struct{}
	once  sync.Once
	mutex sync.Mutex // serializes the outbox retry sweep
}

func New(db Database, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		db:    db,
		log:   log.With(sl.Module("marketing")),
		queue: make(chan *entity.SyncEvent, queueSize),
		stop:  make(chan struct{}),
	}
}

func (d *Dispatcher) WithCRM(crm CrmTarget) *Dispatcher {
	d.crm = crm
	return d
}

func (d *Dispatcher) WithStore(store StoreTarget) *Dispatcher {
	d.store = store
	return d
}

// Start launches the delivery worker and the outbox retry ticker.
func (d *Dispatcher) Start() {
	go func() {
		for {
			select {
			case evt := <-d.queue:
				d.process(evt)
			case <-d.stop:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(retryEvery)
		defer ticker.Stop()
		d.RetryPending()
		for {
			select {
			case <-ticker.C:
				d.RetryPending()
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop terminates the worker and retry goroutines. Undelivered events
// remain in the outbox and are picked up on the next start.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stop)
	})
}

// Enqueue accepts a registration event for mirroring. It never blocks:
// the event is persisted first, and if the in-process queue is full the
// retry sweep will pick it up from the outbox.
func (d *Dispatcher) Enqueue(reg *entity.Registration, number *entity.WarrantyNumber) {
	now := time.Now()
	evt := &entity.SyncEvent{
		Id:             uuid.New().String(),
		RegistrationId: reg.Id,
		Registration:   *reg,
		Warranty:       *number,
		Status:         entity.SyncPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	persisted := true
	if err := d.db.SaveSyncEvent(evt); err != nil {
		persisted = false
		d.log.Error("persist sync event", sl.Err(err),
			slog.String("registration_id", reg.Id))
		// still try in-memory delivery below
	}
	select {
	case d.queue <- evt:
	default:
		if persisted {
			d.log.Warn("sync queue full, deferring to outbox",
				slog.String("registration_id", reg.Id))
		} else {
			d.log.Error("sync queue full and outbox write failed, event lost",
				slog.String("registration_id", reg.Id),
				slog.String("event_id", evt.Id))
		}
	}
}

// RetryPending re-drives outbox events that were deferred or failed a
// previous attempt.
func (d *Dispatcher) RetryPending() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	events, err := d.db.PendingSyncEvents(pendingBatch, time.Now().Add(-claimStale))
	if err != nil {
		d.log.Error("load pending sync events", sl.Err(err))
		return
	}
	for _, evt := range events {
		d.process(evt)
	}
}

func (d *Dispatcher) process(evt *entity.SyncEvent) {
	if evt.Status == entity.SyncDone {
		return
	}
	// The worker and the retry sweep can both see the same event; a
	// conditional claim makes sure only one of them delivers it.
	claimed, err := d.db.ClaimSyncEvent(evt.Id, time.Now().Add(-claimStale))
	if err != nil {
		d.log.Error("claim sync event", sl.Err(err),
			slog.String("event_id", evt.Id))
		return
	}
	if !claimed {
		return
	}
	log := d.log.With(
		slog.String("event_id", evt.Id),
		slog.String("registration_id", evt.RegistrationId),
		slog.Int("attempt", evt.Attempts+1),
	)
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	evt.Attempts++
	evt.LastError = ""

	if d.crm != nil && !evt.CrmDone {
		if err := d.crm.SyncRegistration(ctx, &evt.Registration, &evt.Warranty); err != nil {
			log.Warn("crm sync failed", sl.Err(err))
			evt.LastError = err.Error()
		} else {
			evt.CrmDone = true
		}
	}
	if d.store != nil && !evt.StoreDone {
		if err := d.store.SyncRegistration(&evt.Registration, &evt.Warranty); err != nil {
			log.Warn("store sync failed", sl.Err(err))
			evt.LastError = err.Error()
		} else {
			evt.StoreDone = true
		}
	}

	crmSettled := d.crm == nil || evt.CrmDone
	storeSettled := d.store == nil || evt.StoreDone
	switch {
	case crmSettled && storeSettled:
		evt.Status = entity.SyncDone
	case evt.Attempts >= maxAttempts:
		evt.Status = entity.SyncFailed
		log.Error("sync abandoned after max attempts",
			slog.String("last_error", evt.LastError))
	default:
		evt.Status = entity.SyncPending
	}
	evt.UpdatedAt = time.Now()

	if err := d.db.SaveSyncEvent(evt); err != nil {
		log.Error("update sync event", sl.Err(err))
	}

	// Secondary status flag only; registration results never depend on it.
	now := time.Now()
	state := entity.SyncState{CRM: evt.CrmDone, Store: evt.StoreDone}
	if evt.Status == entity.SyncDone {
		state.SyncedAt = &now
	}
	if err := d.db.SetRegistrationSyncState(evt.RegistrationId, state); err != nil {
		log.Error("update registration sync state", sl.Err(err))
	}
}
