package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrInvalidStatement indicates an unreadable bank statement file.
var ErrInvalidStatement = errors.New("reconcile: invalid statement")

var statementDateLayouts = []string{time.DateOnly, "02/01/2006", "2/1/2006", time.RFC3339}

// ParseStatementCSV reads a statement with a header row naming id, date,
// amount and description columns (any order, case-insensitive).
func ParseStatementCSV(r io.Reader) ([]BankTransaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatement, err)
	}
	return parseRows(rows)
}

// ParseStatementXLSX reads the first sheet of a workbook laid out like the CSV form.
func ParseStatementXLSX(r io.Reader) ([]BankTransaction, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatement, err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidStatement)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatement, err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]BankTransaction, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidStatement)
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "date", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrInvalidStatement, required)
		}
	}
	cell := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	out := make([]BankTransaction, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		id := cell(row, "id")
		if id == "" {
			continue
		}
		date, err := parseStatementDate(cell(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidStatement, line, err)
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(cell(row, "amount"), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: amount: %v", ErrInvalidStatement, line, err)
		}
		out = append(out, BankTransaction{ID: id, Date: date, Amount: amount, Description: cell(row, "description")})
	}
	return out, nil
}

func parseStatementDate(v string) (time.Time, error) {
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}
