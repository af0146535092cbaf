// Package posting turns business documents into balanced ledger drafts.
package posting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/akaunkita/finledger/internal/ledger"
)

// Ledger persists drafts through the entry store boundary.
type Ledger interface {
	Create(ctx context.Context, draft ledger.Draft) (ledger.Entry, error)
}

var (
	// ErrInvalidDocument indicates the document failed validation.
	ErrInvalidDocument = errors.New("posting: invalid document")
	// ErrReceiptNotReady indicates the receipt has not been approved for posting.
	ErrReceiptNotReady = errors.New("posting: receipt not approved or ready for posting")
)

// Poster maps documents onto the chart of accounts and writes them to the ledger.
type Poster struct {
	ledger Ledger
	chart  *ledger.Chart
	logger *slog.Logger
	now    func() time.Time
}

// NewPoster constructs a Poster. A nil chart falls back to the embedded default.
func NewPoster(l Ledger, chart *ledger.Chart, logger *slog.Logger) *Poster {
	if chart == nil {
		chart = ledger.DefaultChart()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{ledger: l, chart: chart, logger: logger.With(slog.String("component", "posting")), now: time.Now}
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Poster) dateOrNow(d time.Time) time.Time {
	if d.IsZero() {
		return p.now().UTC()
	}
	return d
}
