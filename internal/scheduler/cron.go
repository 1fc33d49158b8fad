package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeCron — очистка раз в час.
const DefaultPurgeCron = "0 * * * *"

// cronParser — стандартный пятипольный формат.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpr проверяет cron-выражение.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun возвращает следующее срабатывание expr после from (в UTC).
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(from.UTC()), nil
}

// RunConfig — параметры цикла Run.
type RunConfig struct {
	// TickInterval — период Tick. По умолчанию 1s.
	TickInterval time.Duration

	// PurgeCron — расписание Purge. По умолчанию DefaultPurgeCron.
	PurgeCron string
}

// Run выполняет Tick каждые TickInterval и Purge по расписанию PurgeCron
// до отмены ctx. Purge выполняет только лидер. При выходе лидерство снимается.
func (s *Scheduler) Run(ctx context.Context, cfg RunConfig) error {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PurgeCron == "" {
		cfg.PurgeCron = DefaultPurgeCron
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	_, err := c.AddFunc(cfg.PurgeCron, func() {
		if !s.IsLeader() {
			return
		}
		if err := s.Purge(ctx); err != nil {
			s.logger.Error("purge failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule purge %q: %w", cfg.PurgeCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
		s.Resign(context.WithoutCancel(ctx))
	}()

	s.logger.Info("scheduler running",
		"tick_interval", cfg.TickInterval,
		"purge_cron", cfg.PurgeCron,
	)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, ErrNotLeader) {
				s.logger.Error("tick failed", "error", err)
			}
		}
	}
}
