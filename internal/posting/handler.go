package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/platform/httpx"
	"github.com/akaunkita/finledger/internal/shared"
)

// Entries is the slice of the ledger service the handler drives directly.
type Entries interface {
	GetEntry(ctx context.Context, companyID, id uuid.UUID) (ledger.Entry, error)
	Post(ctx context.Context, actor shared.Actor, id uuid.UUID) (ledger.Entry, error)
	Reverse(ctx context.Context, actor shared.Actor, id uuid.UUID, memo string) (ledger.Entry, error)
}

// Handler exposes document posting and entry lifecycle endpoints.
type Handler struct {
	poster   *Poster
	entries  Entries
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(poster *Poster, entries Entries, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		poster:   poster,
		entries:  entries,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "posting.http")),
	}
}

// MountRoutes registers the ledger endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/invoices", h.handleInvoice)
		r.Post("/receipts", h.handleReceipt)
		r.Route("/entries/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/post", h.handlePost)
			r.Post("/reverse", h.handleReverse)
		})
	})
}

type invoiceRequest struct {
	ID           string          `json:"id,omitempty" validate:"max=128"`
	Number       string          `json:"invoiceNumber" validate:"required,max=64"`
	CustomerName string          `json:"customerName,omitempty" validate:"max=256"`
	Currency     string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"taxAmount"`
	Total        decimal.Decimal `json:"total"`
	Date         string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Status       ledger.Status   `json:"status,omitempty" validate:"omitempty,oneof=draft posted"`
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req invoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv := Invoice{
		ID:           req.ID,
		Number:       req.Number,
		CustomerName: req.CustomerName,
		Currency:     req.Currency,
		Subtotal:     req.Subtotal,
		TaxAmount:    req.TaxAmount,
		Total:        req.Total,
	}
	if req.Date != "" {
		inv.Date, _ = time.Parse(time.DateOnly, req.Date)
	}
	entry, err := h.poster.PostInvoice(r.Context(), actor, inv, req.Status)
	if err != nil {
		h.respond(w, "post invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type receiptRequest struct {
	ID               string           `json:"id" validate:"required,max=128"`
	VendorName       string           `json:"vendorName,omitempty" validate:"max=256"`
	OriginalFilename string           `json:"originalFilename,omitempty"`
	Category         string           `json:"category,omitempty"`
	Status           ReceiptStatus    `json:"status" validate:"required"`
	GrossAmount      decimal.Decimal  `json:"grossAmount"`
	TaxAmount        decimal.Decimal  `json:"taxAmount"`
	NetAmount        *decimal.Decimal `json:"netAmount,omitempty"`
	DocumentDate     string           `json:"documentDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	rc := Receipt{
		ID:               req.ID,
		VendorName:       req.VendorName,
		OriginalFilename: req.OriginalFilename,
		Category:         req.Category,
		Status:           req.Status,
		GrossAmount:      req.GrossAmount,
		TaxAmount:        req.TaxAmount,
		NetAmount:        req.NetAmount,
	}
	if req.DocumentDate != "" {
		rc.DocumentDate, _ = time.Parse(time.DateOnly, req.DocumentDate)
	}
	entry, err := h.poster.PostReceipt(r.Context(), actor, rc)
	if err != nil {
		h.respond(w, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(actor shared.Actor, id uuid.UUID) (ledger.Entry, error) {
		return h.entries.GetEntry(r.Context(), actor.CompanyID, id)
	})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(actor shared.Actor, id uuid.UUID) (ledger.Entry, error) {
		return h.entries.Post(r.Context(), actor, id)
	})
}

type reverseRequest struct {
	Memo string `json:"memo,omitempty" validate:"max=512"`
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withEntry(w, r, func(actor shared.Actor, id uuid.UUID) (ledger.Entry, error) {
		return h.entries.Reverse(r.Context(), actor, id, req.Memo)
	})
}

func (h *Handler) withEntry(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, uuid.UUID) (ledger.Entry, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid entry id: %w", err)))
		return
	}
	entry, err := fn(actor, id)
	if err != nil {
		h.respond(w, "ledger entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, shared.ErrNoActor))
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	var inv *ledger.InvariantError
	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ledger.ErrInvalidStatus), errors.Is(err, ledger.ErrSourceAlreadyPosted):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	case errors.As(err, &inv), errors.Is(err, ledger.ErrUnbalanced), errors.Is(err, ledger.ErrNegativeAmount),
		errors.Is(err, ledger.ErrNoSplits), errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrReceiptNotReady):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnprocessable, err))
	case errors.Is(err, shared.ErrNoActor):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
