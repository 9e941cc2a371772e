package session

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/homeagent/pkg/logger"
)

// RunSweeper evicts idle sessions on the given cron schedule until ctx ends.
func (s *Store) RunSweeper(ctx context.Context, schedule string) error {
	for {
		next, err := gronx.NextTickAfter(schedule, s.now(), false)
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		n := s.Sweep(sweepCtx, s.now())
		cancel()
		logger.DebugCF("session", "Sweep finished",
			map[string]interface{}{"expired": n, "live": s.Len(), "next_after": next.Format(time.RFC3339)})
	}
}
