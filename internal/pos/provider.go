package pos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider fetches raw transactions from a POS system.
type Provider interface {
	Enabled() bool
	FetchSales(ctx context.Context, companyID uuid.UUID, since *time.Time) ([]RawSale, error)
}

// LoyverseConfig configures the Loyverse receipts client.
type LoyverseConfig struct {
	APIKey   string
	BaseURL  string
	Currency string
	Timeout  time.Duration
	PageSize int
	MaxPages int
}

// LoyverseClient reads receipts from the Loyverse REST API.
type LoyverseClient struct {
	cfg        LoyverseConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLoyverseClient constructs the client with sane defaults.
func NewLoyverseClient(cfg LoyverseConfig, logger *slog.Logger) *LoyverseClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.loyverse.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 250 {
		cfg.PageSize = 250
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Currency == "" {
		cfg.Currency = "MYR"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoyverseClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "pos.loyverse")),
	}
}

// Enabled reports whether an API key is configured.
func (c *LoyverseClient) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

type loyverseReceipts struct {
	Receipts []loyverseReceipt `json:"receipts"`
	Cursor   string            `json:"cursor"`
}

type loyverseReceipt struct {
	ReceiptNumber string             `json:"receipt_number"`
	ReceiptType   string             `json:"receipt_type"`
	RefundFor     string             `json:"refund_for"`
	StoreID       string             `json:"store_id"`
	CreatedAt     string             `json:"created_at"`
	ReceiptDate   string             `json:"receipt_date"`
	LineItems     []loyverseLineItem `json:"line_items"`
}

type loyverseLineItem struct {
	ItemName      string        `json:"item_name"`
	SKU           string        `json:"sku"`
	Quantity      float64       `json:"quantity"`
	Price         float64       `json:"price"`
	TotalDiscount float64       `json:"total_discount"`
	LineTaxes     []loyverseTax `json:"line_taxes"`
}

type loyverseTax struct {
	MoneyAmount float64 `json:"money_amount"`
}

// FetchSales pages through receipts created after since. Transport failures and
// 5xx/429 responses wrap ErrProviderUnavailable so callers may retry.
func (c *LoyverseClient) FetchSales(ctx context.Context, companyID uuid.UUID, since *time.Time) ([]RawSale, error) {
	if !c.Enabled() {
		return nil, ErrProviderDisabled
	}
	var (
		out    []RawSale
		cursor string
	)
	for page := 0; page < c.cfg.MaxPages; page++ {
		batch, next, err := c.fetchPage(ctx, since, cursor)
		if err != nil {
			return nil, err
		}
		for _, r := range batch.Receipts {
			out = append(out, r.toRaw(c.cfg.Currency))
		}
		if next == "" {
			break
		}
		cursor = next
	}
	c.logger.Info("loyverse receipts fetched",
		slog.String("company_id", companyID.String()),
		slog.Int("count", len(out)))
	return out, nil
}

func (c *LoyverseClient) fetchPage(ctx context.Context, since *time.Time, cursor string) (loyverseReceipts, string, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(c.cfg.PageSize))
	if since != nil && !since.IsZero() {
		q.Set("created_at_min", since.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1.0/receipts?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return loyverseReceipts{}, "", fmt.Errorf("pos: build loyverse request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return loyverseReceipts{}, "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("loyverse response",
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return loyverseReceipts{}, "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return loyverseReceipts{}, "", fmt.Errorf("pos: loyverse status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload loyverseReceipts
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return loyverseReceipts{}, "", fmt.Errorf("pos: decode loyverse receipts: %w", err)
	}
	return payload, payload.Cursor, nil
}

func (r loyverseReceipt) toRaw(currency string) RawSale {
	at := r.ReceiptDate
	if at == "" {
		at = r.CreatedAt
	}
	raw := RawSale{
		ID:       r.ReceiptNumber,
		StoreID:  r.StoreID,
		Currency: currency,
		DateTime: at,
		Refund:   strings.EqualFold(r.ReceiptType, "REFUND"),
	}
	if raw.Refund {
		raw.OriginalSaleID = r.RefundFor
	}
	for idx, li := range r.LineItems {
		var tax float64
		for _, t := range li.LineTaxes {
			tax += t.MoneyAmount
		}
		raw.Items = append(raw.Items, RawItem{
			Line:     idx + 1,
			SKU:      li.SKU,
			Name:     li.ItemName,
			Qty:      math.Abs(li.Quantity),
			Price:    li.Price,
			Discount: math.Abs(li.TotalDiscount),
			Tax:      math.Abs(tax),
		})
	}
	return raw
}
