package pos

import (
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/money"
)

// Totals is the reduction of a set of normalized records.
type Totals struct {
	Gross    decimal.Decimal `json:"gross"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Net      decimal.Decimal `json:"net"`
	Sales    int             `json:"-"`
	Refunds  int             `json:"-"`
}

// Counts summarises record kinds for reporting.
type Counts struct {
	Sales   int `json:"sales"`
	Refunds int `json:"refunds"`
	Total   int `json:"total"`
}

// Counts returns the sale/refund breakdown.
func (t Totals) Counts() Counts {
	return Counts{Sales: t.Sales, Refunds: t.Refunds, Total: t.Sales + t.Refunds}
}

// Negative reports a refund-heavy day.
func (t Totals) Negative() bool {
	return t.Net.IsNegative()
}

// Aggregate sums the signed totals of the records. Refunds already carry
// negative amounts so a single summation covers both kinds.
func Aggregate(sales []Sale) Totals {
	var t Totals
	for _, s := range sales {
		t.Gross = t.Gross.Add(s.TotalGross)
		t.Discount = t.Discount.Add(s.TotalDiscount)
		t.Tax = t.Tax.Add(s.TotalTax)
		t.Net = t.Net.Add(s.TotalNet)
		if s.Type == SaleTypeRefund {
			t.Refunds++
		} else {
			t.Sales++
		}
	}
	t.Gross = money.Round2(t.Gross)
	t.Discount = money.Round2(t.Discount)
	t.Tax = money.Round2(t.Tax)
	t.Net = money.Round2(t.Net)
	return t
}

// BuildDailySplits maps totals onto the chart. The sign of net decides which
// side cash lands on; every split amount is a magnitude.
//
//	net >= 0: Dr Cash |net|, Cr Revenue |gross-discount|, Cr SST Output |tax|
//	net <  0: Dr Revenue (Return) |gross-discount|, Dr SST Output (Return) |tax|, Cr Cash |net|
//
// Zero revenue or tax portions are omitted. The result is checked for balance
// before it is returned.
func BuildDailySplits(t Totals, chart *ledger.Chart) ([]ledger.Split, error) {
	cash, err := chart.Account(ledger.AccountCash)
	if err != nil {
		return nil, err
	}
	revenue, err := chart.Account(ledger.AccountRevenue)
	if err != nil {
		return nil, err
	}
	sst, err := chart.Account(ledger.AccountSSTOutput)
	if err != nil {
		return nil, err
	}

	revenuePortion := money.Round2(t.Gross.Sub(t.Discount)).Abs()
	tax := t.Tax.Abs()
	net := t.Net.Abs()

	var splits []ledger.Split
	if !t.Negative() {
		splits = append(splits, ledger.Split{AccountCode: cash.Code, AccountName: cash.Name, Direction: ledger.Debit, Amount: net})
		if !revenuePortion.IsZero() {
			splits = append(splits, ledger.Split{AccountCode: revenue.Code, AccountName: revenue.Name, Direction: ledger.Credit, Amount: revenuePortion})
		}
		if !tax.IsZero() {
			splits = append(splits, taxSplit(sst, chart.TaxCode, ledger.Credit, tax, ""))
		}
	} else {
		if !revenuePortion.IsZero() {
			splits = append(splits, ledger.Split{AccountCode: revenue.Code, AccountName: revenue.Name + " (Return)", Direction: ledger.Debit, Amount: revenuePortion})
		}
		if !tax.IsZero() {
			splits = append(splits, taxSplit(sst, chart.TaxCode, ledger.Debit, tax, " (Return)"))
		}
		splits = append(splits, ledger.Split{AccountCode: cash.Code, AccountName: cash.Name, Direction: ledger.Credit, Amount: net})
	}

	debit, credit := ledger.Totals(splits)
	if !debit.Equal(credit) {
		return nil, &UnbalancedPostingError{Debit: debit, Credit: credit}
	}
	return splits, nil
}

func taxSplit(acct ledger.Account, code string, dir ledger.Direction, amount decimal.Decimal, suffix string) ledger.Split {
	taxAmount := amount
	return ledger.Split{
		AccountCode: acct.Code,
		AccountName: acct.Name + suffix,
		Direction:   dir,
		Amount:      amount,
		TaxCode:     code,
		TaxAmount:   &taxAmount,
	}
}
