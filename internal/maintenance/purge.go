package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
)

// Purger periodically deletes non-terminal jobs that fell outside the
// retention window: abandoned submissions whose provider never reported back
// and whose budget-driven fail-out was lost to a crash. Terminal jobs are
// kept; the artifact layer owns their retention.
type Purger struct {
	store  domain.JobStore
	logger infra.Logger
	window time.Duration
	cron   *cron.Cron
}

// NewPurger builds a purger for jobs stale for longer than window.
func NewPurger(store domain.JobStore, logger infra.Logger, window time.Duration) *Purger {
	return &Purger{
		store:  store,
		logger: logger,
		window: window,
		cron:   cron.New(),
	}
}

// Start schedules RunOnce on the given cron spec ("@hourly", "0 */6 * * *", ...).
func (p *Purger) Start(schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error().Err(err).Msg("maintenance: purge run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", schedule, err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running purge to finish.
func (p *Purger) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce purges stale jobs immediately.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-p.window)
	removed, err := p.store.PurgeStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		p.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("maintenance: purged stale jobs")
	}
	return removed, nil
}
