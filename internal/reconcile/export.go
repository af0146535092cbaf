package reconcile

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/akaunkita/finledger/internal/money"
)

// ExportXLSX renders a session as a workbook with summary, matches and unmatched sheets.
func ExportXLSX(s Session) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	matchesSheet := "matches"
	unmatchedSheet := "unmatched"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(matchesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(unmatchedSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Bank Reconciliation", ""},
		{"Session", s.ID.String()},
		{"Bank Account", s.BankAccountRef},
		{"GL Account", s.AccountCode},
		{"Period", s.Period},
		{"From", s.DateFrom.Format(time.DateOnly)},
		{"To", s.DateTo.Format(time.DateOnly)},
		{"Status", string(s.Status)},
		{"Opening Balance", money.Format(s.OpeningBalance)},
		{"Closing Balance", money.Format(s.ClosingBalance)},
		{"System Balance", money.Format(s.SystemBalance)},
		{"Differences", money.Format(s.Differences)},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	for col, h := range []string{"Bank Txn", "Ledger Entry", "Amount", "Status", "Origin", "Confidence", "Reason", "Notes"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(matchesSheet, cell, h)
	}
	for i, m := range s.Matches {
		row := i + 2
		ledgerRef := ""
		if m.LedgerEntryID != nil {
			ledgerRef = m.LedgerEntryID.String()
		}
		amount, _ := m.Amount.Float64()
		values := []any{m.BankTxnID, ledgerRef, amount, string(m.Status), string(m.Origin), m.Confidence, m.Reason, m.Notes}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(matchesSheet, cell, v)
		}
	}

	for col, h := range []string{"Side", "Reference", "Date", "Description", "Amount"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(unmatchedSheet, cell, h)
	}
	for i, u := range s.Unmatched {
		row := i + 2
		amount, _ := u.Amount.Float64()
		values := []any{string(u.Side), u.RefID, u.Date.Format(time.DateOnly), u.Description, amount}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(unmatchedSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportPDF renders a printable session report.
func ExportPDF(s Session) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Bank Reconciliation")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Bank account: %s (GL %s)", s.BankAccountRef, s.AccountCode),
		fmt.Sprintf("Range: %s to %s", s.DateFrom.Format(time.DateOnly), s.DateTo.Format(time.DateOnly)),
		fmt.Sprintf("Status: %s", s.Status),
		fmt.Sprintf("Opening balance: %s", money.Format(s.OpeningBalance)),
		fmt.Sprintf("Closing balance: %s", money.Format(s.ClosingBalance)),
		fmt.Sprintf("System balance: %s", money.Format(s.SystemBalance)),
		fmt.Sprintf("Differences: %s", money.Format(s.Differences)),
	}
	if s.FinalizedAt != nil {
		lines = append(lines, fmt.Sprintf("Finalized: %s", s.FinalizedAt.Format(time.RFC3339)))
	}
	for _, l := range lines {
		pdf.Cell(0, 6, l)
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Bank Txn", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Origin", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Score", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, m := range s.Matches {
		pdf.CellFormat(50, 6, m.BankTxnID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, money.Format(m.Amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, string(m.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(m.Origin), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", m.Confidence), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(s.Unmatched) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Unmatched")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		for _, u := range s.Unmatched {
			pdf.CellFormat(20, 6, string(u.Side), "1", 0, "C", false, 0, "")
			pdf.CellFormat(25, 6, u.Date.Format(time.DateOnly), "1", 0, "C", false, 0, "")
			pdf.CellFormat(100, 6, truncate(u.Description, 55), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, money.Format(u.Amount), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
