package posting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/ledger/ledgertest"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/shared"
)

func newPoster(t *testing.T) (*Poster, *ledgertest.Store, shared.Actor) {
	t.Helper()
	store := ledgertest.NewStore()
	svc := ledger.NewService(store, nil, nil)
	poster := NewPoster(svc, nil, nil)
	poster.WithNow(func() time.Time { return time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC) })
	return poster, store, shared.Actor{CompanyID: uuid.New(), UserID: uuid.New()}
}

func TestPostInvoiceWithTax(t *testing.T) {
	poster, store, actor := newPoster(t)
	entry, err := poster.PostInvoice(context.Background(), actor, Invoice{
		ID:           "inv-1",
		Number:       "INV-001",
		CustomerName: "Kedai Runcit",
		Subtotal:     money.MustParse("100.00"),
		TaxAmount:    money.MustParse("6.00"),
		Total:        money.MustParse("106.00"),
	}, "")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDraft, entry.Status)
	require.Len(t, entry.Splits, 3)
	require.Equal(t, "1100", entry.Splits[0].AccountCode)
	require.Equal(t, ledger.Debit, entry.Splits[0].Direction)
	require.Equal(t, "106.00", money.Format(entry.Splits[0].Amount))
	require.Equal(t, "2100", entry.Splits[2].AccountCode)
	require.Equal(t, "SST", entry.Splits[2].TaxCode)
	require.Equal(t, "Invoice INV-001 for Kedai Runcit", entry.Description)
	require.Equal(t, "2025-02", entry.Period)
	require.Len(t, store.Entries(), 1)
}

func TestPostInvoiceWithoutTaxHasTwoSplits(t *testing.T) {
	poster, _, actor := newPoster(t)
	entry, err := poster.PostInvoice(context.Background(), actor, Invoice{
		Number:   "INV-002",
		Subtotal: money.MustParse("50"),
		Total:    money.MustParse("50"),
	}, ledger.StatusPosted)
	require.NoError(t, err)
	require.Len(t, entry.Splits, 2)
	require.Equal(t, ledger.StatusPosted, entry.Status)
	require.NotEmpty(t, entry.SourceID)
}

func TestPostInvoiceMismatchRejected(t *testing.T) {
	poster, store, actor := newPoster(t)
	_, err := poster.PostInvoice(context.Background(), actor, Invoice{
		Number:    "INV-003",
		Subtotal:  money.MustParse("100.00"),
		TaxAmount: money.MustParse("6.00"),
		Total:     money.MustParse("105.00"),
	}, "")
	require.ErrorIs(t, err, ledger.ErrUnbalanced)
	require.Empty(t, store.Entries())
}

func TestPostInvoiceIsNotDeduplicated(t *testing.T) {
	poster, store, actor := newPoster(t)
	inv := Invoice{ID: "inv-9", Number: "INV-009", Subtotal: money.MustParse("10"), Total: money.MustParse("10")}
	_, err := poster.PostInvoice(context.Background(), actor, inv, "")
	require.NoError(t, err)
	_, err = poster.PostInvoice(context.Background(), actor, inv, "")
	require.NoError(t, err)
	require.Len(t, store.Entries(), 2)
}

func TestPostInvoiceRequiresActor(t *testing.T) {
	poster, _, _ := newPoster(t)
	_, err := poster.PostInvoice(context.Background(), shared.Actor{}, Invoice{}, "")
	require.ErrorIs(t, err, shared.ErrNoActor)
}

func TestPostReceipt(t *testing.T) {
	poster, _, actor := newPoster(t)
	entry, err := poster.PostReceipt(context.Background(), actor, Receipt{
		ID:          "rcpt-000123456",
		VendorName:  "Petronas",
		Category:    "Fuel",
		Status:      ReceiptApproved,
		GrossAmount: money.MustParse("53.00"),
		TaxAmount:   money.MustParse("3.00"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.SourceAdjustment, entry.SourceType)
	require.Equal(t, "RCPT-123456", entry.Reference)
	require.Len(t, entry.Splits, 3)
	require.Equal(t, "6020", entry.Splits[0].AccountCode)
	require.Equal(t, "50.00", money.Format(entry.Splits[0].Amount))
	require.Equal(t, "2105", entry.Splits[1].AccountCode)
	require.Equal(t, "1000", entry.Splits[2].AccountCode)
	require.Equal(t, ledger.Credit, entry.Splits[2].Direction)
}

func TestPostReceiptRequiresApproval(t *testing.T) {
	poster, _, actor := newPoster(t)
	_, err := poster.PostReceipt(context.Background(), actor, Receipt{
		ID:          "r1",
		Status:      ReceiptPending,
		GrossAmount: money.MustParse("10"),
	})
	require.ErrorIs(t, err, ErrReceiptNotReady)

	_, err = poster.PostReceipt(context.Background(), actor, Receipt{ID: "r2", Status: ReceiptApproved})
	require.ErrorIs(t, err, ErrInvalidDocument)
}
