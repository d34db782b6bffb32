package codes

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"warreg/entity"

	"github.com/xuri/excelize/v2"
)

// Expected column order for both formats: code, product_id, product_name.
// A leading header row is recognized by its first cell and skipped.

func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "code")
}

func rowToRecord(row []string) *entity.WarrantyNumber {
	number := &entity.WarrantyNumber{}
	if len(row) > 0 {
		number.Code = strings.TrimSpace(row[0])
	}
	if len(row) > 1 {
		number.ProductId = strings.TrimSpace(row[1])
	}
	if len(row) > 2 {
		number.ProductName = strings.TrimSpace(row[2])
	}
	return number
}

func parseCSV(r io.Reader) ([]*entity.WarrantyNumber, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // malformed rows are the pool's problem, not the parser's
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	var records []*entity.WarrantyNumber
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		records = append(records, rowToRecord(row))
	}
	return records, nil
}

func parseXLSX(r io.Reader) ([]*entity.WarrantyNumber, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	var records []*entity.WarrantyNumber
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		records = append(records, rowToRecord(row))
	}
	return records, nil
}
