package posting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/shared"
)

// Invoice carries the amounts needed to recognise a sale on credit.
type Invoice struct {
	ID           string          `json:"id"`
	Number       string          `json:"invoiceNumber"`
	CustomerName string          `json:"customerName"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"taxAmount"`
	Total        decimal.Decimal `json:"total"`
	Date         time.Time       `json:"date"`
}

// PostInvoice records Dr AR total, Cr Revenue subtotal and, when tax is present,
// Cr SST Output. Subtotal + tax must equal total or the store rejects the entry.
// Invoices are not deduplicated; callers own that.
func (p *Poster) PostInvoice(ctx context.Context, actor shared.Actor, inv Invoice, status ledger.Status) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if inv.Total.IsNegative() || inv.Subtotal.IsNegative() || inv.TaxAmount.IsNegative() {
		return ledger.Entry{}, fmt.Errorf("%w: invoice amounts must not be negative", ErrInvalidDocument)
	}
	if status == "" {
		status = ledger.StatusDraft
	}
	ar, err := p.chart.Account(ledger.AccountReceivable)
	if err != nil {
		return ledger.Entry{}, err
	}
	revenue, err := p.chart.Account(ledger.AccountRevenue)
	if err != nil {
		return ledger.Entry{}, err
	}

	splits := []ledger.Split{
		{AccountCode: ar.Code, AccountName: ar.Name, Direction: ledger.Debit, Amount: money.Round2(inv.Total)},
		{AccountCode: revenue.Code, AccountName: revenue.Name, Direction: ledger.Credit, Amount: money.Round2(inv.Subtotal)},
	}
	if inv.TaxAmount.IsPositive() {
		sst, err := p.chart.Account(ledger.AccountSSTOutput)
		if err != nil {
			return ledger.Entry{}, err
		}
		tax := money.Round2(inv.TaxAmount)
		splits = append(splits, ledger.Split{
			AccountCode: sst.Code,
			AccountName: sst.Name,
			Direction:   ledger.Credit,
			Amount:      tax,
			TaxCode:     p.chart.TaxCode,
			TaxAmount:   &tax,
		})
	}

	sourceID := inv.ID
	if sourceID == "" && inv.Number != "" {
		sourceID = invoiceSourceID(actor.CompanyID, inv.Number)
	}
	customer := inv.CustomerName
	if customer == "" {
		customer = "customer"
	}
	entry, err := p.ledger.Create(ctx, ledger.Draft{
		CompanyID:   actor.CompanyID,
		SourceType:  ledger.SourceInvoice,
		SourceID:    sourceID,
		Reference:   inv.Number,
		Description: strings.Join(strings.Fields(fmt.Sprintf("Invoice %s for %s", inv.Number, customer)), " "),
		Date:        p.dateOrNow(inv.Date),
		Splits:      splits,
		Currency:    inv.Currency,
		Status:      status,
		CreatedBy:   actor.UserID,
		Meta:        map[string]any{"version": 1},
	})
	if err != nil {
		p.logger.Warn("invoice posting rejected",
			slog.String("company_id", actor.CompanyID.String()),
			slog.String("invoice", inv.Number),
			slog.Any("error", err))
		return ledger.Entry{}, err
	}
	return entry, nil
}

// invoiceSourceID derives a stable id for invoices that arrive without one.
func invoiceSourceID(companyID uuid.UUID, number string) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("invoice:%s:%s", companyID, number))).String()
}
