// Package jobs runs periodic maintenance on the credential store.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ChallengeSweeper clears reset challenges that expired before now.
type ChallengeSweeper interface {
	ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// PINSweeper nulls stale pin/pin_expiry pairs on a cron schedule.
type PINSweeper struct {
	store   ChallengeSweeper
	cron    *cron.Cron
	log     *logrus.Entry
	timeout time.Duration
	now     func() time.Time
}

// NewPINSweeper registers the sweep on schedule, a robfig/cron expression such as
// "@every 5m" or "*/10 * * * *".
func NewPINSweeper(store ChallengeSweeper, schedule string, log *logrus.Entry) (*PINSweeper, error) {
	s := &PINSweeper{
		store:   store,
		cron:    cron.New(),
		log:     log,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule pin sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep runs one pass and returns the number of cleared challenges.
func (s *PINSweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cleared, err := s.store.ClearExpiredChallenges(ctx, s.now().UTC())
	if err != nil {
		s.log.WithError(err).Error("pin sweep failed")
		return 0
	}
	if cleared > 0 {
		s.log.WithField("cleared", cleared).Info("expired reset challenges cleared")
	}
	return cleared
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *PINSweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
