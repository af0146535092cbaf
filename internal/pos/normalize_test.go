package pos

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/money"
)

func TestNormalizeSale(t *testing.T) {
	company := uuid.New()
	raw := rawSale("R-1", "2025-03-04T23:30:00+08:00",
		RawItem{Name: "Nasi Lemak", Qty: 2, Price: 45, Discount: 10, Tax: 6},
		RawItem{Name: "Teh Tarik", Qty: 1, Price: 10},
	)

	sale, err := Normalize(raw, company, nil)
	require.NoError(t, err)
	require.Equal(t, SaleTypeSale, sale.Type)
	require.Equal(t, StatusNormalized, sale.Status)
	require.Equal(t, "MYR", sale.Currency)
	require.Equal(t, "100.00", money.Format(sale.TotalGross))
	require.Equal(t, "10.00", money.Format(sale.TotalDiscount))
	require.Equal(t, "6.00", money.Format(sale.TotalTax))
	require.Equal(t, "96.00", money.Format(sale.TotalNet))
	require.Len(t, sale.Items, 2)
	require.Equal(t, 2, sale.Items[1].LineNumber)
	// 23:30 +08:00 is 15:30 UTC on the same calendar day.
	require.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), sale.BusinessDate)
	require.Equal(t, ContentHash("R-1", company, sale.TotalGross, 2), sale.Hash)
}

func TestNormalizeRefundInvertsEverySign(t *testing.T) {
	company := uuid.New()
	item := RawItem{Name: "Kopi", Qty: 2, Price: 20, Tax: 2.4}

	sale, err := Normalize(rawSale("S-1", "2025-03-04T10:00:00Z", item), company, nil)
	require.NoError(t, err)
	refund, err := Normalize(rawRefund("F-1", "S-1", "2025-03-04T11:00:00Z", item), company, nil)
	require.NoError(t, err)

	require.Equal(t, SaleTypeRefund, refund.Type)
	require.Equal(t, "S-1", refund.OriginalSaleExternalID)
	require.True(t, refund.TotalGross.Equal(sale.TotalGross.Neg()))
	require.True(t, refund.TotalTax.Equal(sale.TotalTax.Neg()))
	require.True(t, refund.TotalNet.Equal(sale.TotalNet.Neg()))
	require.Equal(t, "-42.40", money.Format(refund.TotalNet))
	require.Equal(t, "-2", refund.Items[0].Quantity.String())
	require.True(t, refund.Items[0].Net.IsNegative())
}

func TestNormalizeRejectsInvalidRecords(t *testing.T) {
	company := uuid.New()
	cases := map[string]RawSale{
		"missing id":        rawSale("", "2025-03-04T10:00:00Z", RawItem{Name: "x", Qty: 1, Price: 1}),
		"no items":          rawSale("R-2", "2025-03-04T10:00:00Z"),
		"bad datetime":      rawSale("R-3", "04/03/2025", RawItem{Name: "x", Qty: 1, Price: 1}),
		"zero quantity":     rawSale("R-4", "2025-03-04T10:00:00Z", RawItem{Name: "x", Qty: 0, Price: 1}),
		"negative price":    rawSale("R-5", "2025-03-04T10:00:00Z", RawItem{Name: "x", Qty: 1, Price: -1}),
		"refund w/o origin": rawRefund("R-6", "", "2025-03-04T10:00:00Z", RawItem{Name: "x", Qty: 1, Price: 1}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(raw, company, nil)
			require.ErrorIs(t, err, ErrInvalidRawSale)
		})
	}
}

func TestContentHashIsStable(t *testing.T) {
	company := uuid.New()
	a := ContentHash("R-1", company, money.MustParse("10.5"), 1)
	b := ContentHash("R-1", company, money.MustParse("10.50"), 1)
	require.Equal(t, a, b)
	require.NotEqual(t, a, ContentHash("R-1", company, money.MustParse("10.50"), 2))
	require.Len(t, a, 64)
}
