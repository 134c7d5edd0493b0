// Command cleanup purges refresh tokens that are expired or revoked.  It
// runs on CLEANUP_SCHEDULE (cron syntax, default @hourly) or once with -once.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/clinic-api/internal/config"
	"github.com/iliyamo/clinic-api/internal/database"
	"github.com/iliyamo/clinic-api/internal/logger"
	"github.com/iliyamo/clinic-api/internal/repository"
	"github.com/iliyamo/clinic-api/internal/service"
)

func main() {
	once := flag.Bool("once", false, "run a single cleanup pass and exit")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("mysql connect failed")
	}
	defer db.Close()

	// purging touches no CSRF session and writes no audit event
	tokens := service.NewRefreshStore(repository.NewTokenRepo(db), nil, nil, cfg.RefreshTTL)
	if *once {
		purge(tokens)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.CleanupSchedule, func() { purge(tokens) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.CleanupSchedule).Msg("invalid cleanup schedule")
	}
	c.Start()
	logger.Info().Str("schedule", cfg.CleanupSchedule).Msg("refresh token cleanup scheduled")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	<-c.Stop().Done()
}

type purger interface {
	Cleanup(ctx context.Context) (int64, error)
}

func purge(p purger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := p.Cleanup(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("refresh token cleanup failed")
		return
	}
	logger.Info().Int64("deleted", n).Msg("refresh token cleanup done")
}
