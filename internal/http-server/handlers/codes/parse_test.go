package codes

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"code,product_id,product_name",
		"WRN-001,TH-11,Thermo Plus",
		" WRN-002 , TH-11 ,Thermo Plus",
		"WRN-003,TH-11", // short row, filtered later by the pool
	}, "\n")

	records, err := parseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3 (header skipped)", len(records))
	}
	if records[0].Code != "WRN-001" || records[0].ProductName != "Thermo Plus" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Code != "WRN-002" || records[1].ProductId != "TH-11" {
		t.Errorf("whitespace not trimmed: %+v", records[1])
	}
	if records[2].ProductName != "" {
		t.Errorf("short row product name = %q, want empty", records[2].ProductName)
	}
	if records[2].IsComplete() {
		t.Error("short row should be incomplete")
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	records, err := parseCSV(strings.NewReader("WRN-001,TH-11,Thermo Plus\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Code != "WRN-001" {
		t.Errorf("code = %q", records[0].Code)
	}
}

func TestParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]interface{}{
		{"Code", "Product ID", "Product Name"},
		{"WRN-001", "TH-11", "Thermo Plus"},
		{"WRN-002", "TH-12", "Thermo Max"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err = book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatal(err)
	}

	records, err := parseXLSX(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (header skipped)", len(records))
	}
	if records[0].Code != "WRN-001" || records[1].ProductId != "TH-12" {
		t.Errorf("records = %+v, %+v", records[0], records[1])
	}
}

func TestIsHeader(t *testing.T) {
	tests := []struct {
		row  []string
		want bool
	}{
		{[]string{"code", "product_id"}, true},
		{[]string{"Code", "Product"}, true},
		{[]string{" CODE "}, true},
		{[]string{"WRN-001", "TH-11"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isHeader(tt.row); got != tt.want {
			t.Errorf("isHeader(%v) = %v, want %v", tt.row, got, tt.want)
		}
	}
}
