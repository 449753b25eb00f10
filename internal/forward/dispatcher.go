package forward

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for a Dispatcher.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 1000
	DefaultTimeout   = 5 * time.Second
)

// Recorder receives forward outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordForward(result string, rows int)
	SetForwardQueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordForward(string, int) {}
func (nopRecorder) SetForwardQueueDepth(int)  {}

// Outcome labels passed to Recorder.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Config tunes a Dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	BatchSize int
	Timeout   time.Duration
}

// Dispatcher fans rows out to a sink from a bounded queue. Enqueue never blocks and a
// failed send is logged and counted, never retried.
type Dispatcher struct {
	sink     Sink
	cfg      Config
	queue    chan Row
	recorder Recorder
	logger   zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher. Call Start before enqueuing.
func NewDispatcher(sink Sink, cfg Config, recorder Recorder, logger zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		sink:     sink,
		cfg:      cfg,
		queue:    make(chan Row, cfg.QueueSize),
		recorder: recorder,
		logger:   logger.With().Str("component", "forwarder").Logger(),
	}
}

// Start launches the worker pool. Workers outlive cancellation of ctx so that Stop
// can drain the queue; only Stop's deadline abandons queued rows.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Int("batch_size", d.cfg.BatchSize).
		Msg("Forwarder started")
}

// Enqueue schedules row for delivery. It reports false when the row was dropped
// because the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(row Row) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.recorder.RecordForward(ResultDropped, 1)
		return false
	}

	select {
	case d.queue <- row:
		d.recorder.SetForwardQueueDepth(len(d.queue))
		return true
	default:
		d.recorder.RecordForward(ResultDropped, 1)
		d.logger.Warn().
			Str("anonymous_id", row.AnonymousID).
			Str("event", row.Event).
			Msg("forward queue full, dropping row")
		return false
	}
}

// Len returns the number of queued rows.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Stop closes the queue and waits for workers to drain it. When ctx expires first,
// in-flight sends are cancelled and the remaining rows are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if d.cancel != nil {
			d.cancel()
		}
		d.logger.Info().Msg("Forwarder drained")
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		d.logger.Warn().Msg("Forwarder stop deadline exceeded, remaining rows dropped")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		row, ok := <-d.queue
		if !ok {
			return
		}
		if ctx.Err() != nil {
			// Cancelled: consume the rest without sending so Stop can return.
			d.recorder.RecordForward(ResultDropped, 1)
			continue
		}
		d.send(ctx, d.collect(row))
	}
}

// collect gathers up to BatchSize rows without waiting for more to arrive.
func (d *Dispatcher) collect(first Row) []Row {
	batch := []Row{first}
	for len(batch) < d.cfg.BatchSize {
		select {
		case row, ok := <-d.queue:
			if !ok {
				return batch
			}
			batch = append(batch, row)
		default:
			return batch
		}
	}
	return batch
}

func (d *Dispatcher) send(ctx context.Context, rows []Row) {
	d.recorder.SetForwardQueueDepth(len(d.queue))

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.sink.Send(sendCtx, rows); err != nil {
		d.recorder.RecordForward(ResultFailed, len(rows))
		d.logger.Warn().Err(err).
			Int("rows", len(rows)).
			Str("anonymous_id", rows[0].AnonymousID).
			Msg("forward failed")
		return
	}
	d.recorder.RecordForward(ResultSent, len(rows))
}
