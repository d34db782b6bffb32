package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
	"warreg/entity"
)

type memDB struct {
	regs map[string]*entity.Registration
}

func newMemDB() *memDB {
	return &memDB{regs: make(map[string]*entity.Registration)}
}

func (m *memDB) InsertRegistration(reg *entity.Registration) error {
	copied := *reg
	m.regs[reg.Id] = &copied
	return nil
}

func (m *memDB) GetRegistration(id string) (*entity.Registration, error) {
	reg, ok := m.regs[id]
	if !ok {
		return nil, fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	copied := *reg
	return &copied, nil
}

// UpdateRegistration applies the same field patch the Mongo $set would.
func (m *memDB) UpdateRegistration(id string, fields map[string]interface{}) error {
	reg, ok := m.regs[id]
	if !ok {
		return fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	for key, value := range fields {
		switch key {
		case "first_name":
			reg.FirstName = value.(string)
		case "last_name":
			reg.LastName = value.(string)
		case "full_name":
			reg.FullName = value.(string)
		case "email":
			reg.Email = value.(string)
		case "phone":
			reg.Phone = value.(string)
		case "country":
			reg.Country = value.(string)
		case "order_id":
			reg.OrderId = value.(string)
		case "purchase_date":
			reg.PurchaseDate = value.(time.Time)
		case "warranty_end_date":
			reg.WarrantyEndDate = value.(time.Time)
		case "status":
			reg.Status = value.(entity.RegistrationStatus)
		case "claim_date":
			d := value.(time.Time)
			reg.ClaimDate = &d
		case "claim_type":
			reg.ClaimType = value.(entity.ClaimType)
		case "claim_notes":
			reg.ClaimNotes = value.(string)
		case "claim_processed_by":
			reg.ClaimProcessedBy = value.(string)
		default:
			return fmt.Errorf("unexpected patch field %q", key)
		}
	}
	return nil
}

func (m *memDB) DeleteRegistration(id string) error {
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

func newLedger(db *memDB) *Ledger {
	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func request() *entity.RegisterRequest {
	return &entity.RegisterRequest{
		Code:      "WRN-001",
		FirstName: "Anna",
		LastName:  "Nowak",
		Email:     "anna@example.com",
		ProductId: "TH-11",
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateComputesWarrantyEnd(t *testing.T) {
	tests := []struct {
		name     string
		purchase time.Time
		want     time.Time
	}{
		{
			name:     "plain date",
			purchase: date(2024, time.March, 15),
			want:     date(2025, time.March, 15),
		},
		{
			name:     "leap day rolls to March 1st",
			purchase: date(2024, time.February, 29),
			want:     date(2025, time.March, 1),
		},
		{
			name:     "end of year",
			purchase: date(2023, time.December, 31),
			want:     date(2024, time.December, 31),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(newMemDB())
			req := request()
			req.PurchaseDate = tt.purchase

			reg, err := l.Create(req, "Thermo Plus")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if !reg.WarrantyEndDate.Equal(tt.want) {
				t.Errorf("warranty end = %v, want %v", reg.WarrantyEndDate, tt.want)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	l := newLedger(newMemDB())
	before := time.Now()

	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reg.Status != entity.StatusActive {
		t.Errorf("status = %q, want active", reg.Status)
	}
	if reg.WarrantyStartDate.Before(before) {
		t.Error("warranty start should default to now")
	}
	if reg.PurchaseDate.IsZero() {
		t.Error("purchase date should default to now")
	}
	if reg.FullName != "Anna Nowak" {
		t.Errorf("full name = %q", reg.FullName)
	}
	if reg.Id == "" {
		t.Error("registration id not assigned")
	}
}

func TestCreateValidation(t *testing.T) {
	l := newLedger(newMemDB())
	tests := []struct {
		name   string
		mutate func(*entity.RegisterRequest)
	}{
		{"missing email", func(r *entity.RegisterRequest) { r.Email = "" }},
		{"bad email", func(r *entity.RegisterRequest) { r.Email = "not-an-email" }},
		{"missing code", func(r *entity.RegisterRequest) { r.Code = "" }},
		{"missing first name", func(r *entity.RegisterRequest) { r.FirstName = "" }},
		{"missing product", func(r *entity.RegisterRequest) { r.ProductId = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request()
			tt.mutate(req)
			if _, err := l.Create(req, "Thermo Plus"); !errors.Is(err, entity.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestUpdateClaimedStampsDateAndAdmin(t *testing.T) {
	db := newMemDB()
	l := newLedger(db)
	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed := entity.StatusClaimed
	repair := entity.ClaimRepair
	before := time.Now()
	updated, err := l.Update(reg.Id, &entity.RegistrationPatch{
		Status:    &claimed,
		ClaimType: &repair,
	}, "helpdesk")
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Status != entity.StatusClaimed {
		t.Errorf("status = %q", updated.Status)
	}
	if updated.ClaimType != entity.ClaimRepair {
		t.Errorf("claim type = %q", updated.ClaimType)
	}
	if updated.ClaimDate == nil || updated.ClaimDate.Before(before) {
		t.Error("claim date should default to now")
	}
	if updated.ClaimProcessedBy != "helpdesk" {
		t.Errorf("claim processed by = %q, want acting admin", updated.ClaimProcessedBy)
	}
}

func TestUpdateClaimedKeepsSuppliedDate(t *testing.T) {
	db := newMemDB()
	l := newLedger(db)
	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed := entity.StatusClaimed
	supplied := date(2025, time.January, 10)
	updated, err := l.Update(reg.Id, &entity.RegistrationPatch{
		Status:    &claimed,
		ClaimDate: &supplied,
	}, "helpdesk")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ClaimDate == nil || !updated.ClaimDate.Equal(supplied) {
		t.Errorf("claim date = %v, want supplied %v", updated.ClaimDate, supplied)
	}
}

func TestUpdateRecomputesWarrantyEnd(t *testing.T) {
	db := newMemDB()
	l := newLedger(db)
	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newPurchase := date(2024, time.June, 1)
	updated, err := l.Update(reg.Id, &entity.RegistrationPatch{
		PurchaseDate: &newPurchase,
	}, "helpdesk")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := date(2025, time.June, 1)
	if !updated.WarrantyEndDate.Equal(want) {
		t.Errorf("warranty end = %v, want %v", updated.WarrantyEndDate, want)
	}
}

func TestUpdateIgnoresCodeChanges(t *testing.T) {
	db := newMemDB()
	l := newLedger(db)
	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A client sending a code field should see it silently dropped:
	// the patch type does not carry one.
	var patch entity.RegistrationPatch
	body := `{"code":"WRN-HIJACK","first_name":"Ewa"}`
	if err = json.Unmarshal([]byte(body), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}

	updated, err := l.Update(reg.Id, &patch, "helpdesk")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Code != "WRN-001" {
		t.Errorf("code = %q, must stay immutable", updated.Code)
	}
	if updated.FirstName != "Ewa" {
		t.Errorf("first name = %q, rest of patch should apply", updated.FirstName)
	}
	if updated.FullName != "Ewa Nowak" {
		t.Errorf("full name = %q, should follow the name change", updated.FullName)
	}
}

func TestUpdateMissingRegistration(t *testing.T) {
	l := newLedger(newMemDB())
	notes := "x"
	_, err := l.Update("no-such-id", &entity.RegistrationPatch{ClaimNotes: &notes}, "helpdesk")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteReturnsCode(t *testing.T) {
	db := newMemDB()
	l := newLedger(db)
	reg, err := l.Create(request(), "Thermo Plus")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	code, err := l.Delete(reg.Id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if code != "WRN-001" {
		t.Errorf("code = %q, want the freed warranty code", code)
	}
	if _, err = l.Get(reg.Id); !errors.Is(err, entity.ErrNotFound) {
		t.Error("registration should be gone")
	}
}
