// Package jobs runs periodic maintenance against the store.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// SessionCleaner removes expired sessions.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ActivityPruner removes activities older than a cutoff.
type ActivityPruner interface {
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup deletes expired sessions and old activities on a fixed interval.
type Cleanup struct {
	sessions   SessionCleaner
	activities ActivityPruner
	interval   time.Duration
	retention  time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewCleanup creates the cleanup job.
func NewCleanup(sessions SessionCleaner, activities ActivityPruner, interval, retention time.Duration, logger zerolog.Logger) *Cleanup {
	return &Cleanup{
		sessions:   sessions,
		activities: activities,
		interval:   interval,
		retention:  retention,
		timeout:    30 * time.Second,
		now:        time.Now,
		logger:     logger.With().Str("component", "cleanup").Logger(),
	}
}

// Run executes one pass immediately and then one per interval until ctx is
// done.
func (j *Cleanup) Run(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info().Msg("cleanup disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("cleanup pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cleanup pass.
func (j *Cleanup) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	sessions, errS := j.sessions.CleanupExpired(ctx)
	var activities int64
	var errA error
	if j.retention > 0 {
		activities, errA = j.activities.DeleteActivitiesBefore(ctx, j.now().Add(-j.retention))
	}

	if sessions > 0 || activities > 0 {
		j.logger.Info().
			Int64("sessions", sessions).
			Int64("activities", activities).
			Msg("cleanup removed rows")
	}
	return errors.Join(errS, errA)
}
