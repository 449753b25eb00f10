package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
	"github.com/mikeusry/southland-platform-sub000/internal/forward"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// DefaultBatchConcurrency bounds how many visitors a batch processes at once.
const DefaultBatchConcurrency = 8

// Repository loads and stores visitors.
type Repository interface {
	Get(ctx context.Context, anonymousID string) (*models.VisitorData, error)
	Put(ctx context.Context, v *models.VisitorData) error
}

// Forwarder accepts analytics rows without blocking.
type Forwarder interface {
	Enqueue(row forward.Row) bool
}

// Recorder receives processing metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordEvent(event, status, source string, d time.Duration)
	RecordSignal(signalType string)
	RecordScore(stage, persona string)
	RecordStoreError(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string, string, time.Duration) {}
func (nopRecorder) RecordSignal(string)                               {}
func (nopRecorder) RecordScore(string, string)                        {}
func (nopRecorder) RecordStoreError(string)                           {}

type nopForwarder struct{}

func (nopForwarder) Enqueue(forward.Row) bool { return true }

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Brand            string
	BatchConcurrency int
	Forwarder        Forwarder
	Recorder         Recorder
}

// Service runs the load, process, persist and forward cycle for each event.
type Service struct {
	proc        *Processor
	repo        Repository
	fwd         Forwarder
	rec         Recorder
	brand       string
	concurrency int
	logger      zerolog.Logger
}

// NewService creates a service. A nil forwarder or recorder disables that concern.
func NewService(proc *Processor, repo Repository, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.Forwarder == nil {
		cfg.Forwarder = nopForwarder{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Service{
		proc:        proc,
		repo:        repo,
		fwd:         cfg.Forwarder,
		rec:         cfg.Recorder,
		brand:       cfg.Brand,
		concurrency: cfg.BatchConcurrency,
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// HandleEvent processes a single event.
func (s *Service) HandleEvent(ctx context.Context, evt models.PixelEvent) (models.ScoringResponse, error) {
	return s.handle(ctx, evt, "event")
}

// HandleBatch processes events and returns one response per event in input order.
// Events for the same visitor run sequentially; distinct visitors run concurrently.
// A failed element is reported in its response and never fails the batch.
func (s *Service) HandleBatch(ctx context.Context, events []models.PixelEvent) []models.ScoringResponse {
	results := make([]models.ScoringResponse, len(events))

	var order []string
	groups := make(map[string][]int)
	for i, evt := range events {
		if _, ok := groups[evt.AnonymousID]; !ok {
			order = append(order, evt.AnonymousID)
		}
		groups[evt.AnonymousID] = append(groups[evt.AnonymousID], i)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range order {
		idxs := groups[id]
		g.Go(func() error {
			for _, i := range idxs {
				resp, err := s.handle(ctx, events[i], "batch")
				if err != nil {
					resp = models.ScoringResponse{
						Success:   false,
						VisitorID: events[i].AnonymousID,
						Error:     PublicMessage(err),
					}
				}
				results[i] = resp
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// GetVisitor returns the stored record or an error matching perrors.ErrNotFound.
func (s *Service) GetVisitor(ctx context.Context, anonymousID string) (*models.VisitorData, error) {
	if anonymousID == "" {
		return nil, fmt.Errorf("visitor id is required: %w", perrors.ErrInvalidInput)
	}
	v, err := s.repo.Get(ctx, anonymousID)
	if err != nil && !perrors.IsNotFound(err) {
		s.rec.RecordStoreError("get")
	}
	return v, err
}

func (s *Service) handle(ctx context.Context, evt models.PixelEvent, source string) (models.ScoringResponse, error) {
	start := time.Now()

	if evt.AnonymousID == "" {
		s.rec.RecordEvent(evt.Event, "invalid", source, time.Since(start))
		return models.ScoringResponse{}, fmt.Errorf("anonymous_id is required: %w", perrors.ErrInvalidInput)
	}

	log := s.logger.With().Str("anonymous_id", evt.AnonymousID).Str("event", evt.Event).Logger()

	current, err := s.repo.Get(ctx, evt.AnonymousID)
	if err != nil {
		if !perrors.IsNotFound(err) {
			s.rec.RecordStoreError("get")
			log.Warn().Err(err).Msg("Visitor fetch failed, treating as new visitor")
		}
		current = nil
	}

	v, resp, added := s.proc.process(evt, current)

	if err := s.repo.Put(ctx, v); err != nil {
		s.rec.RecordStoreError("set")
		s.rec.RecordEvent(evt.Event, "error", source, time.Since(start))
		log.Error().Err(err).Msg("Visitor write failed")
		return models.ScoringResponse{}, fmt.Errorf("persisting visitor: %w", err)
	}

	s.fwd.Enqueue(forward.BuildRow(evt, v, s.brand, v.LastUpdated))

	for _, sig := range added {
		s.rec.RecordSignal(string(sig.Type))
	}
	s.rec.RecordScore(string(v.CurrentStage), string(resp.Persona))
	s.rec.RecordEvent(evt.Event, "ok", source, time.Since(start))

	log.Debug().
		Int("signals", len(added)).
		Str("persona", string(resp.Persona)).
		Float64("persona_confidence", resp.PersonaConfidence).
		Str("stage", string(resp.Stage)).
		Msg("Event processed")

	return resp, nil
}

// PublicMessage maps an error to text safe to return to callers.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case perrors.IsInvalidInput(err):
		return "anonymous_id is required"
	default:
		return "Processing failed"
	}
}
