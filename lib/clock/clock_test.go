package clock

import (
	"testing"
	"time"
)

func TestWarrantyEnd(t *testing.T) {
	tests := []struct {
		name     string
		purchase string
		want     string
	}{
		{"mid month", "2024-03-15", "2025-03-15"},
		{"leap day rolls forward", "2024-02-29", "2025-03-01"},
		{"year boundary", "2023-12-31", "2024-12-31"},
		{"into leap year", "2023-02-28", "2024-02-28"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purchase, err := time.Parse("2006-01-02", tt.purchase)
			if err != nil {
				t.Fatal(err)
			}
			want, err := time.Parse("2006-01-02", tt.want)
			if err != nil {
				t.Fatal(err)
			}
			if got := WarrantyEnd(purchase); !got.Equal(want) {
				t.Errorf("WarrantyEnd(%s) = %s, want %s", tt.purchase, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestNowFormat(t *testing.T) {
	value := Now()
	if _, err := time.Parse("2006-01-02T15:04:05Z", value); err != nil {
		t.Errorf("Now() = %q: %v", value, err)
	}
}
