package pos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/money"
)

// ProviderLoyverse identifies the Loyverse integration.
const ProviderLoyverse = "loyverse"

// RawItem is one line of a provider transaction.
type RawItem struct {
	Line     int     `json:"line"`
	SKU      string  `json:"sku,omitempty"`
	Name     string  `json:"name" validate:"required"`
	Qty      float64 `json:"qty" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gte=0"`
	Discount float64 `json:"discount,omitempty" validate:"gte=0"`
	Tax      float64 `json:"tax,omitempty" validate:"gte=0"`
	Category string  `json:"category,omitempty"`
}

// RawSale is the provider payload accepted at the normalizer boundary.
type RawSale struct {
	ID             string    `json:"id" validate:"required"`
	StoreID        string    `json:"store_id" validate:"required"`
	StoreName      string    `json:"store_name,omitempty"`
	Currency       string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	DateTime       string    `json:"datetime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Items          []RawItem `json:"items" validate:"required,min=1,dive"`
	Refund         bool      `json:"refund,omitempty"`
	OriginalSaleID string    `json:"original_sale_id,omitempty" validate:"required_if=Refund true"`
}

// SaleType distinguishes sales from refunds.
type SaleType string

const (
	SaleTypeSale   SaleType = "sale"
	SaleTypeRefund SaleType = "refund"
)

// SaleStatus tracks a record through ingestion and posting.
type SaleStatus string

const (
	StatusRaw        SaleStatus = "raw"
	StatusNormalized SaleStatus = "normalized"
	StatusPosted     SaleStatus = "posted"
	StatusError      SaleStatus = "error"
)

// Item is a normalized sale line. Refund lines carry negative amounts and quantity.
type Item struct {
	LineNumber int             `json:"lineNumber"`
	SKU        string          `json:"sku,omitempty"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Gross      decimal.Decimal `json:"grossAmount"`
	Discount   decimal.Decimal `json:"discountAmount"`
	Tax        decimal.Decimal `json:"taxAmount"`
	Net        decimal.Decimal `json:"netAmount"`
	Category   string          `json:"category,omitempty"`
}

// Sale is a persisted POS sale record.
type Sale struct {
	ID                     uuid.UUID       `json:"id"`
	CompanyID              uuid.UUID       `json:"companyId"`
	StoreLocationID        *uuid.UUID      `json:"storeLocationId,omitempty"`
	ExternalID             string          `json:"externalId"`
	Type                   SaleType        `json:"type"`
	OriginalSaleExternalID string          `json:"originalSaleExternalId,omitempty"`
	BusinessDate           time.Time       `json:"businessDate"`
	SaleDateTime           time.Time       `json:"saleDateTime"`
	Currency               string          `json:"currency"`
	Items                  []Item          `json:"items"`
	TotalGross             decimal.Decimal `json:"totalGross"`
	TotalDiscount          decimal.Decimal `json:"totalDiscount"`
	TotalTax               decimal.Decimal `json:"totalTax"`
	TotalNet               decimal.Decimal `json:"totalNet"`
	Status                 SaleStatus      `json:"status"`
	Hash                   string          `json:"hash"`
	LedgerEntryID          *uuid.UUID      `json:"ledgerEntryId,omitempty"`
	Provider               string          `json:"provider"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// SyncState remembers the high-water mark of incremental syncs.
type SyncState struct {
	CompanyID  uuid.UUID `json:"companyId"`
	Provider   string    `json:"provider"`
	LastSyncAt time.Time `json:"lastSyncAt"`
}

// StoreLocation maps a provider store to a company outlet.
type StoreLocation struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  uuid.UUID `json:"companyId"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Currency   string    `json:"currency"`
}

var (
	// ErrInvalidRawSale indicates a provider record failed schema validation.
	ErrInvalidRawSale = errors.New("pos: invalid raw sale")
	// ErrDuplicateSale indicates (company, external id) already exists.
	ErrDuplicateSale = errors.New("pos: sale already ingested")
	// ErrNoUnpostedSales indicates nothing is left to post for the date/store.
	ErrNoUnpostedSales = errors.New("pos: no unposted sales")
	// ErrProviderDisabled indicates the integration has no credentials.
	ErrProviderDisabled = errors.New("pos: provider integration disabled")
	// ErrProviderUnavailable wraps retryable transport failures.
	ErrProviderUnavailable = errors.New("pos: provider unavailable")
	// ErrCrossStepInconsistency indicates a ledger entry exists but its records were not linked back.
	ErrCrossStepInconsistency = errors.New("pos: ledger entry created but source records not updated")
)

// UnbalancedPostingError reports a locally built daily posting that does not balance.
type UnbalancedPostingError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedPostingError) Error() string {
	return fmt.Sprintf("pos: unbalanced POS posting: debit %s != credit %s", money.Format(e.Debit), money.Format(e.Credit))
}
