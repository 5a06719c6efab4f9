// Package jobs runs the periodic maintenance the access layer needs:
// sweeping expired sessions and purging stale recovery tokens.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sitewright.io/internal/access"
	"sitewright.io/internal/obs"
)

type Scheduler struct {
	cron     *cron.Cron
	sessions *access.Sessions
	recovery *access.Recovery
	log      zerolog.Logger
}

func NewScheduler(sessions *access.Sessions, recovery *access.Recovery, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sessions: sessions,
		recovery: recovery,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 */5 * * * *", s.sweepSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 */1 * * *", s.purgeRecovery); err != nil { // hourly purge
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs, bounded by a timeout.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	swept, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if swept > 0 {
		obs.SessionsSweptTotal.Add(float64(swept))
		s.log.Info().Int64("swept", swept).Msg("expired sessions removed")
	}
}

func (s *Scheduler) purgeRecovery() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	purged, err := s.recovery.PurgeExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("recovery purge failed")
		return
	}
	if purged > 0 {
		obs.RecoveryPurgedTotal.Add(float64(purged))
		s.log.Info().Int64("purged", purged).Msg("expired recovery tokens removed")
	}
}
