package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionJanitor periodically deletes long-ended sessions.
type SessionJanitor struct {
	sessions  *SessionManager
	retention time.Duration
	log       *slog.Logger
	cron      *cron.Cron
}

// NewSessionJanitor schedules purges on the cron spec (standard five-field
// syntax or descriptors such as "@hourly").
func NewSessionJanitor(sessions *SessionManager, spec string, retention time.Duration, logger *slog.Logger) (*SessionJanitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &SessionJanitor{
		sessions:  sessions,
		retention: retention,
		log:       logger,
		cron:      cron.New(),
	}
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule session purge %q: %w", spec, err)
	}
	return j, nil
}

// RunOnce performs a single purge.
func (j *SessionJanitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := j.sessions.PurgeExpired(ctx, j.retention)
	if err != nil {
		j.log.Warn("session purge failed", "error", err)
		return
	}
	if n > 0 {
		j.log.Info("purged ended sessions", "count", n)
	}
}

// Start begins running the schedule in the background.
func (j *SessionJanitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running purge to finish.
func (j *SessionJanitor) Stop() {
	<-j.cron.Stop().Done()
}
