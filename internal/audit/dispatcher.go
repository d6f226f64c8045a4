// Package audit delivers changelog entries to the store off the request path.
//
// Entries go through a bounded queue drained by a fixed set of workers. A
// failed write is retried with exponential backoff; once the retry budget is
// spent, or when the queue is full, the entry is parked in the dead-letter
// table and replayed later. An entry that cannot reach either table is
// written to the error log with all of its fields.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// Store is the persistence the dispatcher writes to. *config.Store
// implements it.
type Store interface {
	AppendChangelog(ctx context.Context, e *model.ChangelogEntry) error
	AddDeadLetter(ctx context.Context, dl *model.DeadLetter) error
	ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

// Options tunes a Dispatcher. Zero values select the defaults.
type Options struct {
	QueueSize       int
	Workers         int
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	WriteTimeout    time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

const (
	defaultQueueSize       = 1024
	defaultWorkers         = 2
	defaultMaxElapsedTime  = 30 * time.Second
	defaultInitialInterval = 100 * time.Millisecond
	defaultWriteTimeout    = 5 * time.Second
)

// Dispatcher is an asynchronous service.Auditor.
type Dispatcher struct {
	store   Store
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	queue chan model.ChangelogEntry

	// stop is cancelled when Close gives up waiting, which cuts pending
	// retries short so their entries are dead-lettered.
	stop       context.Context
	cancelStop context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Call Start to launch the workers.
func New(store Store, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = defaultMaxElapsedTime
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      store,
		opts:       opts,
		log:        opts.Logger.With("component", "audit"),
		metrics:    opts.Metrics,
		queue:      make(chan model.ChangelogEntry, opts.QueueSize),
		stop:       stop,
		cancelStop: cancel,
	}
}

// Start launches the workers. Calling it more than once is harmless.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for e := range d.queue {
		d.metrics.AuditQueueDepth(len(d.queue))
		d.deliver(e)
	}
}

// Record enqueues e without waiting for the store. A full queue spills the
// entry straight to the dead-letter table. After Close, entries are written
// synchronously.
func (d *Dispatcher) Record(_ context.Context, e model.ChangelogEntry) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.deliver(e)
		return
	}
	select {
	case d.queue <- e:
		d.mu.RUnlock()
		d.metrics.AuditQueueDepth(len(d.queue))
	default:
		d.mu.RUnlock()
		d.log.Warn("audit queue full, dead-lettering entry", "entry_id", e.ID, "queue_size", d.opts.QueueSize)
		d.deadLetter(e, errors.New("audit queue full"), 0)
	}
}

// Close stops accepting queued entries and waits for the workers to drain
// the queue. If ctx ends first, pending retries are abandoned and their
// entries dead-lettered before Close returns.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// Workers are needed to drain whatever was queued before Start.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancelStop()
		return nil
	case <-ctx.Done():
		d.cancelStop()
		<-done
		return fmt.Errorf("audit drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialInterval
	b.MaxElapsedTime = d.opts.MaxElapsedTime
	return backoff.WithContext(b, d.stop)
}

// deliver writes e with retries and falls back to the dead-letter table.
func (d *Dispatcher) deliver(e model.ChangelogEntry) {
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
		defer cancel()
		err := d.store.AppendChangelog(ctx, &e)
		if errors.Is(err, config.ErrConflict) {
			// An earlier attempt landed even though it reported an error.
			return nil
		}
		if err != nil {
			d.metrics.Audit(metrics.AuditRetried)
			d.log.Debug("audit write failed", "entry_id", e.ID, "attempt", attempts, "error", err)
		}
		return err
	}

	if err := backoff.Retry(op, d.newBackOff()); err != nil {
		d.log.Warn("audit write gave up", "entry_id", e.ID, "attempts", attempts, "error", err)
		d.deadLetter(e, err, attempts)
		return
	}
	d.metrics.Audit(metrics.AuditWritten)
}

func (d *Dispatcher) deadLetter(e model.ChangelogEntry, cause error, attempts int) {
	dl := &model.DeadLetter{
		ID:        e.ID,
		Entry:     e,
		LastError: cause.Error(),
		Attempts:  attempts,
		CreatedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()

	err := d.store.AddDeadLetter(ctx, dl)
	if err == nil || errors.Is(err, config.ErrConflict) {
		d.metrics.Audit(metrics.AuditDeadLettered)
		return
	}
	d.metrics.Audit(metrics.AuditLost)
	d.log.Error("audit entry lost",
		"entry_id", e.ID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"action", string(e.Action),
		"performed_by", e.PerformedBy,
		"session_id", e.SessionID,
		"timestamp", e.Timestamp,
		"changes", e.Changes,
		"cause", cause,
		"error", err,
	)
}

// ReplayDeadLetters moves parked entries into the changelog, oldest first,
// and returns how many were moved. It stops at the first entry that still
// cannot be written. Entries already present in the changelog are dropped
// from the dead-letter table.
func (d *Dispatcher) ReplayDeadLetters(ctx context.Context) (int, error) {
	dls, err := d.store.ListDeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range dls {
		dl := &dls[i]
		if err := d.store.AppendChangelog(ctx, &dl.Entry); err != nil && !errors.Is(err, config.ErrConflict) {
			return n, fmt.Errorf("replay %s: %w", dl.ID, err)
		}
		if err := d.store.DeleteDeadLetter(ctx, dl.ID); err != nil {
			return n, fmt.Errorf("remove replayed %s: %w", dl.ID, err)
		}
		d.metrics.Audit(metrics.AuditReplayed)
		n++
	}
	if n > 0 {
		d.log.Info("replayed audit dead letters", "count", n)
	}
	return n, nil
}
