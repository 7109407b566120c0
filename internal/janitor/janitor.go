// Package janitor runs the background housekeeping the hub and the identity
// store need: purging expired refresh tokens and reporting subscriber counts.
package janitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mailpulse/mailpulse/internal/db"
	"github.com/mailpulse/mailpulse/internal/hub"
)

type Janitor struct {
	db       *db.DB
	hub      *hub.Hub
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func New(store *db.DB, h *hub.Hub, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		db:       store,
		hub:      h,
		interval: 10 * time.Minute,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				j.sweep()
			}
		}
	}()
}

func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
}

// RunOnce runs a single sweep synchronously. Used in tests.
func (j *Janitor) RunOnce() {
	j.sweep()
}

func (j *Janitor) sweep() {
	n, err := j.db.DeleteExpiredRefreshTokens()
	if err != nil {
		j.logger.Warn("janitor: token purge failed", "err", err)
	} else if n > 0 {
		j.logger.Info("janitor: purged expired refresh tokens", "count", n)
	}
	j.logger.Debug("janitor: sweep", "subscribers", j.hub.Count())
}
