package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/shared"
)

// ReceiptStatus mirrors the review pipeline state of a scanned receipt.
type ReceiptStatus string

const (
	ReceiptPending       ReceiptStatus = "pending"
	ReceiptReviewPending ReceiptStatus = "review_pending"
	ReceiptApproved      ReceiptStatus = "approved"
	ReceiptRejected      ReceiptStatus = "rejected"
)

// Receipt is an expense document extracted upstream.
type Receipt struct {
	ID               string           `json:"id"`
	VendorName       string           `json:"vendorName"`
	OriginalFilename string           `json:"originalFilename"`
	Category         string           `json:"category"`
	Status           ReceiptStatus    `json:"status"`
	GrossAmount      decimal.Decimal  `json:"grossAmount"`
	TaxAmount        decimal.Decimal  `json:"taxAmount"`
	NetAmount        *decimal.Decimal `json:"netAmount,omitempty"`
	DocumentDate     time.Time        `json:"documentDate"`
}

// PostReceipt books Dr Expense net, Dr SST Input tax, Cr Cash gross as a draft adjustment.
func (p *Poster) PostReceipt(ctx context.Context, actor shared.Actor, rc Receipt) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if rc.Status != ReceiptApproved && rc.Status != ReceiptReviewPending {
		return ledger.Entry{}, fmt.Errorf("%w (status %q)", ErrReceiptNotReady, rc.Status)
	}
	if !rc.GrossAmount.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: receipt missing gross amount", ErrInvalidDocument)
	}

	gross := money.Round2(rc.GrossAmount)
	tax := money.Round2(rc.TaxAmount)
	net := gross.Sub(tax)
	if rc.NetAmount != nil {
		net = money.Round2(*rc.NetAmount)
	}

	expense := p.chart.ExpenseAccount(rc.Category)
	cash, err := p.chart.Account(ledger.AccountCash)
	if err != nil {
		return ledger.Entry{}, err
	}

	var splits []ledger.Split
	if net.IsPositive() {
		splits = append(splits, ledger.Split{AccountCode: expense.Code, AccountName: expense.Name, Direction: ledger.Debit, Amount: net})
	}
	if tax.IsPositive() {
		input, err := p.chart.Account(ledger.AccountSSTInput)
		if err != nil {
			return ledger.Entry{}, err
		}
		splits = append(splits, ledger.Split{
			AccountCode: input.Code,
			AccountName: input.Name,
			Direction:   ledger.Debit,
			Amount:      tax,
			TaxCode:     p.chart.TaxCode,
			TaxAmount:   &tax,
		})
	}
	splits = append(splits, ledger.Split{AccountCode: cash.Code, AccountName: cash.Name, Direction: ledger.Credit, Amount: gross})

	label := rc.VendorName
	if label == "" {
		label = rc.OriginalFilename
	}
	entry, err := p.ledger.Create(ctx, ledger.Draft{
		CompanyID:   actor.CompanyID,
		SourceType:  ledger.SourceAdjustment,
		SourceID:    rc.ID,
		Reference:   receiptReference(rc.ID),
		Description: "Receipt " + label,
		Date:        p.dateOrNow(rc.DocumentDate),
		Splits:      splits,
		Status:      ledger.StatusDraft,
		CreatedBy:   actor.UserID,
		Meta:        map[string]any{"origin": "receipt.auto", "version": 1},
	})
	if err != nil {
		p.logger.Warn("receipt posting rejected",
			slog.String("company_id", actor.CompanyID.String()),
			slog.String("receipt_id", rc.ID),
			slog.Any("error", err))
		return ledger.Entry{}, err
	}
	return entry, nil
}

func receiptReference(id string) string {
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return "RCPT-" + id
}
