package tasks

import (
	"context"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/logger"
)

// Summary describes a completed post-turn job.
type Summary struct {
	JobID        string
	SessionID    string
	UserID       string
	TurnID       string
	Outcome      string
	Trust        int
	Interactions int
	Persisted    int
	Latency      time.Duration
}

// Observer receives one summary per completed job. Errors are logged and
// never retried.
type Observer interface {
	Emit(ctx context.Context, s Summary) error
}

// LogObserver writes summaries to the structured log.
type LogObserver struct{}

func (LogObserver) Emit(ctx context.Context, s Summary) error {
	logger.InfoCF("tasks", "Turn recorded",
		map[string]interface{}{
			"job_id":       s.JobID,
			"session_id":   s.SessionID,
			"user_id":      s.UserID,
			"outcome":      s.Outcome,
			"trust":        s.Trust,
			"interactions": s.Interactions,
			"persisted":    s.Persisted,
			"latency_ms":   s.Latency.Milliseconds(),
		})
	return nil
}
