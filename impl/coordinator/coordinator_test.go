package coordinator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	"warreg/entity"
	"warreg/impl/ledger"
	"warreg/impl/pool"
)

// memDB is an in-memory stand-in for internal/database.MongoDB with the
// same conditional-update semantics for mark-used. markUsedHook injects
// failures before the write applies; markUsedAfter injects them after,
// which models a write whose acknowledgement was lost in transit.
type memDB struct {
	mu            sync.Mutex
	codes         map[string]*entity.WarrantyNumber
	regs          map[string]*entity.Registration
	markUsedHook  func(attempt int) error
	markUsedAfter func(attempt int) error
	markUsedCalls int
}

func newMemDB() *memDB {
	return &memDB{
		codes: make(map[string]*entity.WarrantyNumber),
		regs:  make(map[string]*entity.Registration),
	}
}

func (m *memDB) InsertCode(number *entity.WarrantyNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[number.Code]; ok {
		return fmt.Errorf("%w: %s", entity.ErrDuplicateCode, number.Code)
	}
	copied := *number
	m.codes[number.Code] = &copied
	return nil
}

func (m *memDB) GetCode(code string) (*entity.WarrantyNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	number, ok := m.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	copied := *number
	return &copied, nil
}

func (m *memDB) FindAvailableCode(code, productId string) (*entity.WarrantyNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	number, ok := m.codes[code]
	if !ok || number.Used || number.ProductId != productId {
		return nil, fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	copied := *number
	return &copied, nil
}

func (m *memDB) MarkCodeUsed(code, registrationId string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markUsedCalls++
	if m.markUsedHook != nil {
		if err := m.markUsedHook(m.markUsedCalls); err != nil {
			return err
		}
	}
	number, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	if number.Used {
		return fmt.Errorf("%w: code %s", entity.ErrAlreadyUsed, code)
	}
	number.Used = true
	number.UsedAt = &usedAt
	number.RegistrationId = registrationId
	if m.markUsedAfter != nil {
		if err := m.markUsedAfter(m.markUsedCalls); err != nil {
			return err
		}
	}
	return nil
}

func (m *memDB) MarkCodeFree(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	number, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	number.Used = false
	number.UsedAt = nil
	number.RegistrationId = ""
	return nil
}

func (m *memDB) FindCodes(_ *entity.CodeFilter, _, _ int64) ([]*entity.WarrantyNumber, int64, error) {
	return nil, 0, nil
}

func (m *memDB) InsertRegistration(reg *entity.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *reg
	m.regs[reg.Id] = &copied
	return nil
}

func (m *memDB) GetRegistration(id string) (*entity.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return nil, fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	copied := *reg
	return &copied, nil
}

func (m *memDB) UpdateRegistration(id string, _ map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[id]; !ok {
		return fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	return nil
}

func (m *memDB) DeleteRegistration(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[id]; !ok {
		return fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	delete(m.regs, id)
	return nil
}

func (m *memDB) SearchRegistrations(_ *entity.SearchFilter, _, _ int64) ([]*entity.Registration, int64, error) {
	return nil, 0, nil
}

func (m *memDB) StatsCounts(_ time.Time) (*entity.Stats, error) {
	return &entity.Stats{}, nil
}

// checkInvariant verifies that used==true iff exactly one registration
// references the code.
func (m *memDB) checkInvariant(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, number := range m.codes {
		owners := 0
		for _, reg := range m.regs {
			if reg.Code == code {
				owners++
			}
		}
		if number.Used && owners != 1 {
			t.Fatalf("code %s used but has %d owning registrations", code, owners)
		}
		if !number.Used && owners != 0 {
			t.Fatalf("code %s free but has %d owning registrations", code, owners)
		}
		if number.Used && m.regs[number.RegistrationId] == nil {
			t.Fatalf("code %s links to missing registration %s", code, number.RegistrationId)
		}
	}
}

type memAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *memAlerter) Alert(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func newCoordinator(db *memDB) (*Coordinator, *memAlerter) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(pool.New(db, log), ledger.New(db, log), log)
	alerter := &memAlerter{}
	c.SetAlerter(alerter)
	c.sleep = func(time.Duration) {}
	return c, alerter
}

func seedCode(t *testing.T, db *memDB, code, productId string) {
	t.Helper()
	err := db.InsertCode(&entity.WarrantyNumber{
		Code:        code,
		ProductId:   productId,
		ProductName: "Thermo Plus",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("seed code: %v", err)
	}
}

func registerRequest(code string) *entity.RegisterRequest {
	return &entity.RegisterRequest{
		Code:      code,
		FirstName: "Jan",
		LastName:  "Kowalski",
		Email:     "jan@example.com",
		ProductId: "TH-11",
	}
}

func TestRegisterConsumesCode(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	c, _ := newCoordinator(db)

	reg, err := c.Register(registerRequest("WRN-001"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Product != "Thermo Plus" {
		t.Errorf("product = %q, want pool product name", reg.Product)
	}

	number, err := db.GetCode("WRN-001")
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	if !number.Used {
		t.Error("code not marked used")
	}
	if number.RegistrationId != reg.Id {
		t.Errorf("registration link = %q, want %q", number.RegistrationId, reg.Id)
	}
	db.checkInvariant(t)
}

func TestRegisterPreconditionFailuresMerge(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	c, _ := newCoordinator(db)

	if _, err := c.Register(registerRequest("WRN-001")); err != nil {
		t.Fatalf("first register: %v", err)
	}

	tests := []struct {
		name string
		req  *entity.RegisterRequest
	}{
		{
			name: "code does not exist",
			req:  registerRequest("WRN-999"),
		},
		{
			name: "code already used",
			req:  registerRequest("WRN-001"),
		},
		{
			name: "wrong product",
			req: func() *entity.RegisterRequest {
				seedCode(t, db, "WRN-002", "TH-12")
				r := registerRequest("WRN-002")
				return r
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Register(tt.req)
			if !errors.Is(err, entity.ErrInvalidCode) {
				t.Errorf("err = %v, want ErrInvalidCode", err)
			}
		})
	}
	db.checkInvariant(t)
}

func TestConcurrentRegisterSameCode(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	c, _ := newCoordinator(db)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Register(registerRequest("WRN-001"))
		}(i)
	}
	wg.Wait()

	successes, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, entity.ErrInvalidCode):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || losses != 1 {
		t.Fatalf("successes = %d, losses = %d, want exactly one of each", successes, losses)
	}
	db.checkInvariant(t)
}

func TestDeleteFreesCodeForReRegistration(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	c, _ := newCoordinator(db)

	reg, err := c.Register(registerRequest("WRN-001"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err = c.Delete(reg.Id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	db.checkInvariant(t)

	number, _ := db.GetCode("WRN-001")
	if number.Used {
		t.Fatal("code still used after delete")
	}
	if number.RegistrationId != "" {
		t.Fatal("registration link not cleared")
	}

	if _, err = c.Register(registerRequest("WRN-001")); err != nil {
		t.Fatalf("re-register after delete: %v", err)
	}
	db.checkInvariant(t)
}

func TestUnlinkMatchesDeletePostcondition(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	c, _ := newCoordinator(db)

	reg, err := c.Register(registerRequest("WRN-001"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err = c.Unlink(reg.Id); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	db.checkInvariant(t)

	number, _ := db.GetCode("WRN-001")
	if number.Used {
		t.Fatal("code still used after unlink")
	}
	if _, err = c.Register(registerRequest("WRN-001")); err != nil {
		t.Fatalf("re-register after unlink: %v", err)
	}
}

func TestDeleteMissingRegistration(t *testing.T) {
	db := newMemDB()
	c, _ := newCoordinator(db)

	if err := c.Delete("no-such-id"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLinkRetriesTransientFailure(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	db.markUsedHook = func(attempt int) error {
		if attempt <= 2 {
			return fmt.Errorf("connection reset")
		}
		return nil
	}
	c, alerter := newCoordinator(db)

	reg, err := c.Register(registerRequest("WRN-001"))
	if err != nil {
		t.Fatalf("register should survive transient link failures: %v", err)
	}
	if db.markUsedCalls != 3 {
		t.Errorf("markUsed calls = %d, want 3", db.markUsedCalls)
	}
	if len(alerter.messages) != 0 {
		t.Errorf("unexpected alerts: %v", alerter.messages)
	}
	number, _ := db.GetCode("WRN-001")
	if !number.Used || number.RegistrationId != reg.Id {
		t.Error("code not linked after retries")
	}
	db.checkInvariant(t)
}

func TestLinkExhaustionEscalates(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	db.markUsedHook = func(int) error {
		return fmt.Errorf("connection reset")
	}
	c, alerter := newCoordinator(db)

	_, err := c.Register(registerRequest("WRN-001"))
	if !errors.Is(err, entity.ErrPartialRegistration) {
		t.Fatalf("err = %v, want ErrPartialRegistration", err)
	}
	if len(alerter.messages) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerter.messages))
	}
	// customer data is retained for manual reconciliation
	if len(db.regs) != 1 {
		t.Fatalf("registrations = %d, want the orphan kept", len(db.regs))
	}
}

func TestRaceLostAfterCreateCompensates(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	// Another consumer takes the code between lookup and link. The hook
	// runs under the fake's lock, so it mutates the stored entry directly.
	db.markUsedHook = func(int) error {
		number := db.codes["WRN-001"]
		number.Used = true
		number.RegistrationId = "someone-else"
		return fmt.Errorf("%w: code WRN-001", entity.ErrAlreadyUsed)
	}
	c, alerter := newCoordinator(db)

	_, err := c.Register(registerRequest("WRN-001"))
	if !errors.Is(err, entity.ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
	if len(db.regs) != 0 {
		t.Fatal("compensation should remove the never-exposed registration")
	}
	if len(alerter.messages) != 0 {
		t.Errorf("race loss must not page operators, got %v", alerter.messages)
	}
}

func TestLinkRecoversLostAcknowledgement(t *testing.T) {
	db := newMemDB()
	seedCode(t, db, "WRN-001", "TH-11")
	// The first mark-used write lands on storage but the response is
	// lost. The retry's conditional update then reports the code as
	// consumed, by this very registration.
	db.markUsedAfter = func(attempt int) error {
		if attempt == 1 {
			return fmt.Errorf("connection reset")
		}
		return nil
	}
	c, alerter := newCoordinator(db)

	reg, err := c.Register(registerRequest("WRN-001"))
	if err != nil {
		t.Fatalf("register must recover its own write: %v", err)
	}
	if db.markUsedCalls != 2 {
		t.Errorf("markUsed calls = %d, want 2", db.markUsedCalls)
	}
	if len(db.regs) != 1 {
		t.Fatal("registration must be retained, not compensated away")
	}
	if len(alerter.messages) != 0 {
		t.Errorf("unexpected alerts: %v", alerter.messages)
	}
	number, _ := db.GetCode("WRN-001")
	if !number.Used || number.RegistrationId != reg.Id {
		t.Error("code not linked to the registration")
	}
	db.checkInvariant(t)
}
