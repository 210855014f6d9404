package common

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Pruner removes expired rows and reports how many it removed.
type Pruner interface {
	PruneExpired(now time.Time) (int, error)
}

// Janitor runs periodic cleanup of time-bounded state (DNS cache entries,
// expired sessions) on a cron schedule, logging what it removes.
type Janitor struct {
	logger  arbor.ILogger
	cron    *cron.Cron
	pruners map[string]Pruner
}

// NewJanitor builds a Janitor over the named pruners; the schedule is given
// to Start.
func NewJanitor(logger arbor.ILogger, pruners map[string]Pruner) *Janitor {
	return &Janitor{
		logger:  logger,
		cron:    cron.New(),
		pruners: pruners,
	}
}

// Start schedules the prune sweep on spec (e.g. "@every 10m") and returns
// immediately; the cron scheduler runs its own goroutine.
func (j *Janitor) Start(spec string) error {
	_, err := j.cron.AddFunc(spec, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	now := time.Now()
	for name, pruner := range j.pruners {
		n, err := pruner.PruneExpired(now)
		if err != nil {
			j.logger.Warn().Err(err).Str("pruner", name).Msg("prune sweep failed")
			continue
		}
		if n > 0 {
			j.logger.Info().Str("pruner", name).Int("removed", n).Msg("prune sweep removed expired rows")
		}
	}
}
