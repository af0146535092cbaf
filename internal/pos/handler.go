package pos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/platform/httpx"
	"github.com/akaunkita/finledger/internal/shared"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerDelivery  = "X-Webhook-Delivery"
	webhookModule   = "pos_webhook"
)

// Idempotency records processed webhook deliveries. shared.IdempotencyStore satisfies it.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, companyID uuid.UUID, module, key string) error
	Delete(ctx context.Context, companyID uuid.UUID, module, key string) error
}

// HandlerConfig tunes the webhook surface.
type HandlerConfig struct {
	WebhookSecret    string
	WebhookRateLimit int
	WebhookRateWin   time.Duration
}

// Handler exposes POS sync, daily posting and the provider webhook over HTTP.
type Handler struct {
	syncer   *Syncer
	poster   *Poster
	idem     Idempotency
	validate *validator.Validate
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler constructs the POS handler.
func NewHandler(syncer *Syncer, poster *Poster, idem Idempotency, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.WebhookRateLimit <= 0 {
		cfg.WebhookRateLimit = 120
	}
	if cfg.WebhookRateWin <= 0 {
		cfg.WebhookRateWin = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		syncer:   syncer,
		poster:   poster,
		idem:     idem,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pos.http")),
	}
}

// MountRoutes registers the authenticated POS endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Post("/pos/sync", h.handleSync)
	r.Post("/pos/post-daily", h.handlePostDaily)
}

// MountWebhook registers the provider webhook. It authenticates by signature,
// not by caller headers, so it must sit outside the actor middleware.
func (h *Handler) MountWebhook(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.cfg.WebhookRateLimit, h.cfg.WebhookRateWin,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "pos-webhook:" + chi.URLParam(r, "companyID"), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "webhook rate limit exceeded")
		}),
	)
	r.With(limiter).Post("/pos/webhook/{companyID}", h.handleWebhook)
}

type syncRequest struct {
	Full bool `json:"full"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, shared.ErrNoActor))
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.syncer.SyncRecentSales(r.Context(), actor.CompanyID, SyncOptions(req))
	if err != nil {
		h.respond(w, "pos sync", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type postDailyRequest struct {
	BusinessDate    string `json:"businessDate" validate:"required,datetime=2006-01-02"`
	StoreLocationID string `json:"storeLocationId,omitempty" validate:"omitempty,uuid"`
	Status          string `json:"status,omitempty" validate:"omitempty,oneof=draft posted"`
}

func (h *Handler) handlePostDaily(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, shared.ErrNoActor))
		return
	}
	var req postDailyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	day, _ := time.Parse(time.DateOnly, req.BusinessDate)
	in := PostDailyInput{BusinessDate: day, Status: ledger.Status(req.Status)}
	if req.StoreLocationID != "" {
		id := uuid.MustParse(req.StoreLocationID)
		in.StoreLocationID = &id
	}
	result, err := h.poster.PostDaily(r.Context(), actor, in)
	if err != nil {
		h.respond(w, "pos post daily", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type webhookPayload struct {
	Sales []RawSale `json:"sales"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid company id: %w", err)))
		return
	}
	if h.cfg.WebhookSecret == "" {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnavailable, errors.New("pos webhook not configured")))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	if !VerifySignature(h.cfg.WebhookSecret, body, r.Header.Get(headerSignature)) {
		h.logger.Warn("pos webhook signature mismatch", slog.String("company_id", companyID.String()))
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, errors.New("invalid webhook signature")))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	var payload webhookPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}

	delivery := strings.TrimSpace(r.Header.Get(headerDelivery))
	if delivery != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), companyID, webhookModule, delivery); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.JSON(w, http.StatusOK, map[string]any{"duplicate": true})
				return
			}
			h.respond(w, "pos webhook idempotency", err)
			return
		}
	}

	result, err := h.syncer.Ingest(r.Context(), companyID, payload.Sales)
	if err != nil {
		// Release the key so the provider's retry is processed.
		if delivery != "" && h.idem != nil {
			if derr := h.idem.Delete(r.Context(), companyID, webhookModule, delivery); derr != nil {
				h.logger.Error("pos webhook key release failed", slog.Any("error", derr))
			}
		}
		h.respond(w, "pos webhook ingest", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, result)
}

// VerifySignature checks a hex HMAC-SHA256 of body, optionally prefixed "sha256=".
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	mapped := classify(err)
	if errors.Is(mapped, httpx.ErrUnavailable) || !isClassified(mapped) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func classify(err error) error {
	var unbalanced *UnbalancedPostingError
	switch {
	case errors.Is(err, shared.ErrNoActor):
		return httpx.Wrap(httpx.ErrUnauthorized, err)
	case errors.Is(err, shared.ErrAlreadyRunning), errors.Is(err, ledger.ErrSourceAlreadyPosted):
		return httpx.Wrap(httpx.ErrConflict, err)
	case errors.Is(err, ErrNoUnpostedSales), errors.As(err, &unbalanced), errors.Is(err, ledger.ErrUnbalanced):
		return httpx.Wrap(httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrProviderDisabled), errors.Is(err, ErrProviderUnavailable):
		return httpx.Wrap(httpx.ErrUnavailable, err)
	}
	return err
}

func isClassified(err error) bool {
	for _, kind := range []error{httpx.ErrNotFound, httpx.ErrConflict, httpx.ErrValidation, httpx.ErrUnprocessable, httpx.ErrUnauthorized, httpx.ErrUnavailable} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
