package subscriptions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically deactivates lapsed subscriptions so the active flag
// stays in step with the subscription windows.
type Sweeper struct {
	db            *Database
	sweepInterval time.Duration
}

func NewSweeper(db *Database, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		db:            db,
		sweepInterval: interval,
	}
}

// Start begins the sweep loop and blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "subscription_sweeper").Logger()
	logger.Info().Dur("interval", s.sweepInterval).Msg("starting subscription sweeper")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down subscription sweeper")
			return
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				logger.Error().Err(err).Msg("failed to sweep expired subscriptions")
			}
		}
	}
}

func (s *Sweeper) sweep() error {
	logger := log.With().Str("component", "subscription_sweeper").Logger()

	expired, err := s.db.DeactivateExpired(time.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		logger.Info().Int64("deactivated", expired).Msg("deactivated expired subscriptions")
	}
	return nil
}
