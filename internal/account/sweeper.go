package account

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically clears expired locks.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewSweeper(svc *Service, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := w.svc.SweepExpiredLocks(ctx)
			if err != nil {
				w.logger.Warnw("lock sweep failed", "err", err)
				continue
			}
			if n > 0 {
				w.logger.Debugw("expired locks cleared", "count", n)
			}
		}
	}
}
