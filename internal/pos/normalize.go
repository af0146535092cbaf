package pos

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/money"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a raw provider record against the accepted schema.
func Validate(raw RawSale) error {
	if err := validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return fmt.Errorf("%w %q: %s", ErrInvalidRawSale, raw.ID, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w %q: %v", ErrInvalidRawSale, raw.ID, err)
	}
	return nil
}

// Normalize converts a raw provider record into a Sale. It performs no I/O.
// Refunds carry every monetary field and quantity sign-inverted so that daily
// aggregation sums sales and refunds without branching on type.
func Normalize(raw RawSale, companyID uuid.UUID, storeLocationID *uuid.UUID) (Sale, error) {
	if err := Validate(raw); err != nil {
		return Sale{}, err
	}
	saleAt, err := time.Parse(time.RFC3339, raw.DateTime)
	if err != nil {
		return Sale{}, fmt.Errorf("%w %q: datetime: %v", ErrInvalidRawSale, raw.ID, err)
	}
	saleAt = saleAt.UTC()

	sign := decimal.NewFromInt(1)
	saleType := SaleTypeSale
	if raw.Refund {
		sign = decimal.NewFromInt(-1)
		saleType = SaleTypeRefund
	}

	var gross, discount, tax decimal.Decimal
	items := make([]Item, 0, len(raw.Items))
	for idx, ri := range raw.Items {
		qty := decimal.NewFromFloat(ri.Qty)
		price := decimal.NewFromFloat(ri.Price)
		lineGross := money.Round2(qty.Mul(price))
		lineDiscount := money.FromFloat(ri.Discount)
		lineTax := money.FromFloat(ri.Tax)
		gross = gross.Add(lineGross)
		discount = discount.Add(lineDiscount)
		tax = tax.Add(lineTax)

		line := ri.Line
		if line == 0 {
			line = idx + 1
		}
		items = append(items, Item{
			LineNumber: line,
			SKU:        ri.SKU,
			Name:       ri.Name,
			Quantity:   qty.Abs().Mul(sign),
			UnitPrice:  price,
			Gross:      lineGross.Mul(sign),
			Discount:   lineDiscount.Mul(sign),
			Tax:        lineTax.Mul(sign),
			Net:        money.Round2(lineGross.Sub(lineDiscount).Add(lineTax)).Mul(sign),
			Category:   ri.Category,
		})
	}
	net := gross.Sub(discount).Add(tax)

	currency := raw.Currency
	if currency == "" {
		currency = "MYR"
	}
	sale := Sale{
		CompanyID:       companyID,
		StoreLocationID: storeLocationID,
		ExternalID:      raw.ID,
		Type:            saleType,
		BusinessDate:    BusinessDate(saleAt),
		SaleDateTime:    saleAt,
		Currency:        strings.ToUpper(currency),
		Items:           items,
		TotalGross:      money.Round2(gross).Mul(sign),
		TotalDiscount:   money.Round2(discount).Mul(sign),
		TotalTax:        money.Round2(tax).Mul(sign),
		TotalNet:        money.Round2(net).Mul(sign),
		Status:          StatusNormalized,
		Provider:        ProviderLoyverse,
	}
	if raw.Refund {
		sale.OriginalSaleExternalID = raw.OriginalSaleID
	}
	sale.Hash = ContentHash(sale.ExternalID, companyID, sale.TotalGross, len(items))
	return sale, nil
}

// BusinessDate truncates a timestamp to its UTC calendar day.
func BusinessDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ContentHash fingerprints a record from {externalId, companyId, totalGross, itemCount}.
func ContentHash(externalID string, companyID uuid.UUID, totalGross decimal.Decimal, itemCount int) string {
	payload, _ := json.Marshal(struct {
		ID         string `json:"id"`
		CompanyID  string `json:"companyId"`
		TotalGross string `json:"totalGross"`
		Items      int    `json:"items"`
	}{externalID, companyID.String(), money.Format(totalGross), itemCount})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
