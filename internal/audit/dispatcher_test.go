package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// flakyStore fails the first n changelog writes.
type flakyStore struct {
	*config.Store
	failures  atomic.Int32
	attempts  atomic.Int32
	deadFails bool
}

func (f *flakyStore) AppendChangelog(ctx context.Context, e *model.ChangelogEntry) error {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("dial tcp: connection refused")
	}
	return f.Store.AppendChangelog(ctx, e)
}

func (f *flakyStore) AddDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	if f.deadFails {
		return errors.New("dial tcp: connection refused")
	}
	return f.Store.AddDeadLetter(ctx, dl)
}

func newStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(i int) model.ChangelogEntry {
	return model.ChangelogEntry{
		ID:          fmt.Sprintf("entry-%03d", i),
		EntityType:  "admin_user",
		EntityID:    fmt.Sprintf("u%d", i),
		Action:      model.ActionUpdated,
		Changes:     map[string]interface{}{"n": i},
		PerformedBy: "root",
		Timestamp:   time.Date(2026, 3, 1, 9, 0, i, 0, time.UTC),
	}
}

func fastOptions() Options {
	return Options{
		QueueSize:       16,
		Workers:         2,
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  50 * time.Millisecond,
	}
}

func changelogCount(t *testing.T, s *config.Store) int {
	t.Helper()
	got, err := s.ListChangelog(context.Background(), config.ChangelogFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("ListChangelog: %v", err)
	}
	return len(got)
}

func deadLetterCount(t *testing.T, s *config.Store) int {
	t.Helper()
	got, err := s.ListDeadLetters(context.Background())
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	return len(got)
}

func TestRecordWritesChangelog(t *testing.T) {
	store := newStore(t)
	d := New(store, fastOptions())
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Record(context.Background(), entry(i))
		}(i)
	}
	wg.Wait()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := changelogCount(t, store); got != 10 {
		t.Errorf("got %d entries, want 10", got)
	}
}

func TestRecordRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{Store: newStore(t)}
	store.failures.Store(2)
	d := New(store, fastOptions())
	d.Start()

	d.Record(context.Background(), entry(1))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := changelogCount(t, store.Store); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
	if got := store.attempts.Load(); got != 3 {
		t.Errorf("got %d attempts, want 3", got)
	}
	if got := deadLetterCount(t, store.Store); got != 0 {
		t.Errorf("got %d dead letters, want 0", got)
	}
}

func TestRecordDeadLettersAfterRetryBudget(t *testing.T) {
	store := &flakyStore{Store: newStore(t)}
	store.failures.Store(1 << 20)
	d := New(store, fastOptions())
	d.Start()

	d.Record(context.Background(), entry(7))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dls, err := store.ListDeadLetters(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(dls))
	}
	if dls[0].Entry.ID != "entry-007" || dls[0].Attempts < 2 || dls[0].LastError == "" {
		t.Errorf("unexpected dead letter %+v", dls[0])
	}
	if got := changelogCount(t, store.Store); got != 0 {
		t.Errorf("got %d changelog entries, want 0", got)
	}
}

func TestFullQueueSpillsToDeadLetters(t *testing.T) {
	store := newStore(t)
	opts := fastOptions()
	opts.QueueSize = 1
	d := New(store, opts)

	// Workers are not running, so the second entry finds the queue full.
	d.Record(context.Background(), entry(1))
	d.Record(context.Background(), entry(2))
	if got := deadLetterCount(t, store); got != 1 {
		t.Fatalf("got %d dead letters, want 1", got)
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := changelogCount(t, store); got != 1 {
		t.Errorf("queued entry not drained: got %d entries, want 1", got)
	}
}

func TestRecordAfterCloseWritesInline(t *testing.T) {
	store := newStore(t)
	d := New(store, fastOptions())
	d.Start()
	if err := d.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	d.Record(context.Background(), entry(3))
	if got := changelogCount(t, store); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
}

func TestReplayDeadLetters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e := entry(i)
		if err := store.AddDeadLetter(ctx, &model.DeadLetter{ID: e.ID, Entry: e, LastError: "boom", Attempts: 4,
			CreatedAt: e.Timestamp}); err != nil {
			t.Fatal(err)
		}
	}
	// entry-002 already made it into the changelog.
	e2 := entry(2)
	if err := store.AppendChangelog(ctx, &e2); err != nil {
		t.Fatal(err)
	}

	d := New(store, fastOptions())
	n, err := d.ReplayDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ReplayDeadLetters: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d replayed, want 3", n)
	}
	if got := changelogCount(t, store); got != 3 {
		t.Errorf("got %d changelog entries, want 3", got)
	}
	if got := deadLetterCount(t, store); got != 0 {
		t.Errorf("got %d dead letters left, want 0", got)
	}

	n, err = d.ReplayDeadLetters(ctx)
	if err != nil || n != 0 {
		t.Errorf("second replay: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestReplayStopsOnFailure(t *testing.T) {
	store := &flakyStore{Store: newStore(t)}
	ctx := context.Background()
	e := entry(1)
	if err := store.AddDeadLetter(ctx, &model.DeadLetter{ID: e.ID, Entry: e, LastError: "boom"}); err != nil {
		t.Fatal(err)
	}
	store.failures.Store(1)

	d := New(store, fastOptions())
	if _, err := d.ReplayDeadLetters(ctx); err == nil {
		t.Fatal("expected replay error")
	}
	if got := deadLetterCount(t, store.Store); got != 1 {
		t.Errorf("failed replay removed the dead letter")
	}
}

func TestLostEntryDoesNotPanic(t *testing.T) {
	store := &flakyStore{Store: newStore(t), deadFails: true}
	store.failures.Store(1 << 20)
	d := New(store, fastOptions())
	d.Start()
	d.Record(context.Background(), entry(9))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := deadLetterCount(t, store.Store); got != 0 {
		t.Errorf("got %d dead letters, want 0", got)
	}
}
