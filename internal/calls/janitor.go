package calls

import (
	"context"
	"log/slog"
	"time"
)

// Janitor deletes terminal sessions once they are older than the retention
// window. A zero retention disables purging.
type Janitor struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
	clock     func() time.Time
}

func NewJanitor(store Store, retention, interval time.Duration, log *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{store: store, retention: retention, interval: interval, log: log, clock: time.Now}
}

func (j *Janitor) Enabled() bool { return j.retention > 0 }

// RunOnce purges and returns the number of deleted sessions.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if !j.Enabled() {
		return 0, nil
	}
	cutoff := j.clock().UTC().Add(-j.retention)
	n, err := j.store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.Info("purged terminal call sessions", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Run purges every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		j.log.Info("call janitor disabled")
		return
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error("call janitor purge failed", "err", err)
			}
		}
	}
}
