package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mauv0809/screener/internal/app"
	"github.com/mauv0809/screener/internal/config"
	"github.com/mauv0809/screener/internal/logging"
	"github.com/mauv0809/screener/internal/scheduler"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{RequireDatabase: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	s := scheduler.New(ctx, logger, 6*time.Hour)
	jobs := []scheduler.Job{
		{Name: "market_snapshot", Schedule: cfg.SnapshotSchedule, Run: func(ctx context.Context) error {
			_, err := a.Refresher.RefreshSnapshots(ctx)
			return err
		}},
		{Name: "market_weekly", Schedule: cfg.WeeklySchedule, Run: func(ctx context.Context) error {
			_, err := a.Refresher.WeeklyUpdate(ctx)
			return err
		}},
		{Name: "fundamentals", Schedule: cfg.FundamentalsSchedule, Run: func(ctx context.Context) error {
			_, err := a.Engine.RegenerateAll(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			logger.Fatal().Err(err).Msg("invalid schedule")
		}
	}

	s.Start()
	logger.Info().Int("jobs", s.Entries()).Msg("scheduler running")
	<-ctx.Done()
	logger.Info().Msg("stopping scheduler")
	s.Stop()
}
