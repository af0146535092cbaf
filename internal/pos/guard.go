package pos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/platform/cache"
	"github.com/akaunkita/finledger/internal/shared"
)

// Locker is satisfied by cache.Locker.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RunGuard serialises sync and daily posting per company so overlapping runs
// cannot double-post a business date.
type RunGuard struct {
	locker Locker
	ttl    time.Duration
}

// NewRunGuard constructs a guard. ttl bounds how long a crashed holder blocks others.
func NewRunGuard(locker Locker, ttl time.Duration) *RunGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunGuard{locker: locker, ttl: ttl}
}

// Acquire takes the company lock or returns shared.ErrAlreadyRunning.
func (g *RunGuard) Acquire(ctx context.Context, companyID uuid.UUID) (func(), error) {
	if g == nil || g.locker == nil {
		return func() {}, nil
	}
	release, err := g.locker.Acquire(ctx, shared.POSCompanyLockKey(companyID), g.ttl)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, fmt.Errorf("pos: company %s: %w", companyID, shared.ErrAlreadyRunning)
		}
		return nil, err
	}
	return release, nil
}
