// Package visitor persists VisitorData records in a key-value store.
package visitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/retry"
	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

// DefaultTTL is how long an idle visitor record survives. Every write refreshes it.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "visitor:"

// Key returns the store key for an anonymous id.
func Key(anonymousID string) string {
	return keyPrefix + anonymousID
}

// Repository reads and writes visitor records.
type Repository struct {
	store  kvstore.Store
	ttl    time.Duration
	retry  retry.Config
	logger zerolog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetry overrides the write retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(r *Repository) { r.retry = cfg }
}

// NewRepository wraps store.
func NewRepository(store kvstore.Store, logger zerolog.Logger, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		ttl:    DefaultTTL,
		retry:  retry.DefaultConfig(),
		logger: logger.With().Str("component", "visitor_repository").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get loads a visitor. A missing or expired record returns perrors.ErrNotFound.
func (r *Repository) Get(ctx context.Context, anonymousID string) (*models.VisitorData, error) {
	key := Key(anonymousID)
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, kvstore.ErrExpired) {
		return nil, fmt.Errorf("visitor %s: %w", anonymousID, perrors.ErrNotFound)
	}
	if err != nil {
		return nil, &perrors.StoreError{Op: "get", Key: key, Err: err}
	}

	var v models.VisitorData
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &perrors.StoreError{Op: "decode", Key: key, Err: err}
	}
	if v.Signals == nil {
		v.Signals = []models.Signal{}
	}
	if v.StageHistory == nil {
		v.StageHistory = []models.StageEntry{}
	}
	return &v, nil
}

// Put writes v and refreshes its TTL, retrying transient store failures.
func (r *Repository) Put(ctx context.Context, v *models.VisitorData) error {
	key := Key(v.AnonymousID)
	raw, err := json.Marshal(v)
	if err != nil {
		return &perrors.StoreError{Op: "encode", Key: key, Err: err}
	}

	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn().Err(err).Str("key", key).Int("attempt", attempt).
			Dur("delay", delay).Msg("Retrying visitor write")
	}

	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		return r.store.Set(ctx, key, raw, r.ttl)
	})
	if err != nil {
		return &perrors.StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Ping checks the backing store.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
