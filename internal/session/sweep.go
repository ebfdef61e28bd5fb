package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/telemetry"
)

// SweepResult reports one sweeper run.
type SweepResult struct {
	ExpiredCount int `json:"expiredCount"`
	DeletedCount int `json:"deletedCount"`
}

// SweepExpired retires stale sessions in two set-based passes: transition
// every IN_PROGRESS session past its expiry to EXPIRED, then permanently
// delete EXPIRED sessions older than the retention window. Both passes gate
// purely on expires_at, which is fixed at creation, so the sweep is
// idempotent and safe to run concurrently with save and resume traffic.
func (s *Service) SweepExpired(ctx context.Context) (*SweepResult, error) {
	now := s.now()

	expired, err := s.sessions.ExpireStale(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale sessions: %w", err)
	}

	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	metrics := telemetry.GetMetrics()
	metrics.SessionsExpiredTotal.Add(ctx, int64(expired))
	metrics.SessionsPurgedTotal.Add(ctx, int64(deleted))

	if expired > 0 || deleted > 0 {
		log.Info().
			Int("expired", expired).
			Int("deleted", deleted).
			Msg("Sweep completed")
	}

	return &SweepResult{
		ExpiredCount: expired,
		DeletedCount: deleted,
	}, nil
}
