package reconcile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/platform/httpx"
	"github.com/akaunkita/finledger/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler exposes reconciliation sessions over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "reconcile.http")),
	}
}

// MountRoutes registers the session endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Route("/reconciliation", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/matches", h.handleAddMatch)
			r.Post("/matches/{matchID}/confirm", h.handleConfirm)
			r.Post("/matches/{matchID}/reject", h.handleReject)
			r.Post("/run", h.handleRun)
			r.Post("/finalize", h.handleFinalize)
			r.Post("/archive", h.handleArchive)
			r.Group(func(gr chi.Router) {
				gr.Use(limiter)
				gr.Get("/export.xlsx", h.handleExportXLSX)
				gr.Get("/export.pdf", h.handleExportPDF)
			})
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return "user:" + actor.UserID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type createRequest struct {
	BankAccountRef string          `json:"bankAccountRef" validate:"required"`
	AccountCode    string          `json:"accountCode,omitempty" validate:"omitempty,numeric"`
	DateFrom       string          `json:"dateFrom" validate:"required,datetime=2006-01-02"`
	DateTo         string          `json:"dateTo" validate:"required,datetime=2006-01-02"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Notes          string          `json:"notes,omitempty" validate:"max=2000"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	from, _ := time.Parse(time.DateOnly, req.DateFrom)
	to, _ := time.Parse(time.DateOnly, req.DateTo)
	session, err := h.service.CreateSession(r.Context(), actor, CreateSessionInput{
		BankAccountRef: req.BankAccountRef,
		AccountCode:    req.AccountCode,
		DateFrom:       from,
		DateTo:         to,
		OpeningBalance: req.OpeningBalance,
		ClosingBalance: req.ClosingBalance,
		Notes:          req.Notes,
	})
	if err != nil {
		h.respond(w, "create session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.service.ListSessions(r.Context(), actor, limit)
	if err != nil {
		h.respond(w, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.GetSession(r.Context(), actor, id)
	})
}

type addMatchRequest struct {
	LedgerEntryID string          `json:"ledgerEntryId,omitempty" validate:"omitempty,uuid"`
	BankTxnID     string          `json:"bankTxnId,omitempty" validate:"required_without=LedgerEntryID"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty" validate:"max=2000"`
}

func (h *Handler) handleAddMatch(w http.ResponseWriter, r *http.Request) {
	var req addMatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	in := AddMatchInput{BankTxnID: req.BankTxnID, Amount: req.Amount, Notes: req.Notes}
	if req.LedgerEntryID != "" {
		id := uuid.MustParse(req.LedgerEntryID)
		in.LedgerEntryID = &id
	}
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.AddMatch(r.Context(), actor, id, in)
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid match id: %w", err)))
		return
	}
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.ConfirmMatch(r.Context(), actor, id, matchID)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid match id: %w", err)))
		return
	}
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.RejectMatch(r.Context(), actor, id, matchID)
	})
}

type runRequest struct {
	Transactions []BankTransaction `json:"transactions" validate:"dive"`
}

type runResponse struct {
	Session Session `json:"session"`
	Summary Summary `json:"summary"`
}

// handleRun accepts the statement as JSON, or as a CSV body with Content-Type text/csv.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var bank []BankTransaction
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv":
		txns, err := ParseStatementCSV(io.LimitReader(r.Body, 5<<20))
		if err != nil {
			httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
			return
		}
		bank = txns
	default:
		var req runRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
			return
		}
		bank = req.Transactions
	}
	session, result, err := h.service.RunMatching(r.Context(), actor, id, bank)
	if err != nil {
		h.respond(w, "run matching", err)
		return
	}
	httpx.JSON(w, http.StatusOK, runResponse{Session: session, Summary: result.Summary})
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.FinalizeSession(r.Context(), actor, id)
	})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(actor shared.Actor, id uuid.UUID) (Session, error) {
		return h.service.ArchiveSession(r.Context(), actor, id)
	})
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ExportXLSX)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", ExportPDF)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, render func(Session) ([]byte, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), actor, id)
	if err != nil {
		h.respond(w, "export session", err)
		return
	}
	body, err := render(session)
	if err != nil {
		h.respond(w, "render "+ext, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=reconciliation-%s-%s.%s", session.Period, session.ID, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, uuid.UUID) (Session, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	session, err := fn(actor, id)
	if err != nil {
		h.respond(w, "reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, shared.ErrNoActor))
		return shared.Actor{}, false
	}
	return actor, true
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid session id: %w", err)))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrMatchNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionFrozen), errors.Is(err, ErrConcurrentUpdate):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	case errors.Is(err, ErrInvalidSession):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, shared.ErrNoActor):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
