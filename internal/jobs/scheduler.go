package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type SessionPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type CredentialPurger interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs periodic maintenance. Sessions are kept for a grace period
// after they end so the sessions list can still show them.
type Scheduler struct {
	cron        *cron.Cron
	schedule    string
	sessions    SessionPurger
	credentials CredentialPurger
	grace       time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewScheduler(schedule string, sessions SessionPurger, credentials CredentialPurger, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		schedule:    schedule,
		sessions:    sessions,
		credentials: credentials,
		grace:       24 * time.Hour,
		now:         time.Now,
		log:         log.With().Str("component", "jobs").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if s.schedule == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.purge); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running job for at most five seconds.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("maintenance job still running at shutdown")
	}
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.grace)

	if s.sessions != nil {
		n, err := s.sessions.DeleteExpired(ctx, cutoff)
		if err != nil {
			s.log.Error().Err(err).Msg("purge sessions failed")
		} else {
			s.log.Info().Int64("deleted", n).Msg("expired sessions purged")
		}
	}

	if s.credentials != nil {
		n, err := s.credentials.DeleteStale(ctx, cutoff)
		if err != nil {
			s.log.Error().Err(err).Msg("purge credentials failed")
		} else {
			s.log.Info().Int64("deleted", n).Msg("stale provider credentials purged")
		}
	}
}
