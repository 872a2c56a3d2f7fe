package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron runs periodic maintenance jobs such as the expiry sweep.
type Cron struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Cron{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger: logger.With("component", "cron"),
	}
}

// Add schedules job under spec, e.g. "@every 10m" or "*/5 * * * *".
func (c *Cron) Add(name, spec string, job func()) error {
	if _, err := c.cron.AddFunc(spec, job); err != nil {
		return err
	}
	c.logger.Info("scheduled job", "job", name, "schedule", spec)
	return nil
}

func (c *Cron) Start() {
	c.cron.Start()
}

// Stop returns a context that is done once running jobs have finished.
func (c *Cron) Stop() context.Context {
	return c.cron.Stop()
}
