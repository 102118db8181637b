package sessions

import (
	"context"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
)

// Sweeper periodically removes expired refresh tokens from the store.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
}

func NewSweeper(mgr *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Sweeper{mgr: mgr, interval: interval}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Infof("refresh token sweeper running (interval=%s)", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			logger.Infof("refresh token sweeper stopping")
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.mgr.Sweep(ctx)
	if err != nil {
		logger.Errorf("refresh token sweep failed: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("removed %d expired refresh token(s)", n)
	}
}
