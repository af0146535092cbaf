package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink persists delivered notifications.
type Sink interface {
	Save(ctx context.Context, p Payload) error
}

// Store writes notifications to PostgreSQL for the in-app inbox.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save inserts one notification row.
func (s *Store) Save(ctx context.Context, p Payload) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notifications (id, company_id, type, title, message, priority, data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, uuid.New(), p.CompanyID, p.Alert.Type, p.Alert.Title, p.Alert.Message,
		p.Alert.Priority, p.Alert.Data, p.RaisedAt)
	return err
}

// Handler consumes TaskCompanyNotification tasks.
type Handler struct {
	sink   Sink
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(sink Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sink: sink, logger: logger.With(slog.String("component", "notify"))}
}

// Handle decodes and stores a queued alert. Malformed payloads are not retried.
func (h *Handler) Handle(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.sink.Save(ctx, p); err != nil {
		return fmt.Errorf("notify: save: %w", err)
	}
	h.logger.Info("notification delivered",
		slog.String("company_id", p.CompanyID.String()),
		slog.String("title", p.Alert.Title),
		slog.String("priority", string(p.Alert.Priority)))
	return nil
}
