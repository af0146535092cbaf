package perf

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/ledger/ledgertest"
	"github.com/akaunkita/finledger/internal/reconcile"
)

func statementFixture(n int) ([]reconcile.BankTransaction, []reconcile.InternalTransaction) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bank := make([]reconcile.BankTransaction, 0, n)
	internal := make([]reconcile.InternalTransaction, 0, n)
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(100 + i)).Div(decimal.NewFromInt(4))
		date := start.AddDate(0, 0, i%28)
		bank = append(bank, reconcile.BankTransaction{
			ID:          fmt.Sprintf("TX-%04d", i),
			Date:        date,
			Amount:      amount.Neg(),
			Description: fmt.Sprintf("DUITNOW TRANSFER SUPPLIER %d", i),
		})
		internal = append(internal, reconcile.InternalTransaction{
			ID:          fmt.Sprintf("GL-%04d", i),
			Date:        date.AddDate(0, 0, i%2),
			Amount:      amount,
			Description: fmt.Sprintf("Payment supplier %d", i),
		})
	}
	return bank, internal
}

func TestMatcherLatencyTargets(t *testing.T) {
	bank, internal := statementFixture(200)
	matcher := reconcile.NewGreedyMatcher()

	samples := make([]time.Duration, 0, 10)
	var res reconcile.Result
	for i := 0; i < 10; i++ {
		start := time.Now()
		res = matcher.Match(bank, internal)
		samples = append(samples, time.Since(start))
	}
	if res.Summary.MatchedCount != 200 {
		t.Fatalf("expected every line matched, got %d", res.Summary.MatchedCount)
	}
	if p95 := percentile95(samples); p95 > 2*time.Second {
		t.Fatalf("matching latency regression: p95=%s", p95)
	}
}

func BenchmarkGreedyMatcher(b *testing.B) {
	bank, internal := statementFixture(100)
	matcher := reconcile.NewGreedyMatcher()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		matcher.Match(bank, internal)
	}
}

func BenchmarkLedgerCreate(b *testing.B) {
	svc := ledger.NewService(ledgertest.NewStore(), nil, nil)
	company := uuid.New()
	amount := decimal.RequireFromString("118.80")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := svc.Create(ctx, ledger.Draft{
			CompanyID:  company,
			SourceType: ledger.SourceInvoice,
			SourceID:   fmt.Sprintf("INV-%d", i),
			Date:       time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Splits: []ledger.Split{
				{AccountCode: "1100", Direction: ledger.Debit, Amount: amount},
				{AccountCode: "4000", Direction: ledger.Credit, Amount: decimal.RequireFromString("110.00")},
				{AccountCode: "2100", Direction: ledger.Credit, Amount: decimal.RequireFromString("8.80")},
			},
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
