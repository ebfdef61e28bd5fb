package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/logger"
	"github.com/wolfeidau/surveysave/internal/notify"
	"github.com/wolfeidau/surveysave/internal/session"
	postgresstore "github.com/wolfeidau/surveysave/internal/store/postgres"
)

// SweepCmd runs a single expiration sweep against PostgreSQL and exits. It
// exists for cron-style scheduling when the server's background sweeper is
// disabled.
type SweepCmd struct {
	RetentionDays int                `help:"days expired sessions are kept before permanent deletion" default:"30" env:"SURVEYSAVE_RETENTION_DAYS"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *SweepCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      c.PostgresStore.ConnString,
		MaxConns:        c.PostgresStore.MaxConns,
		MinConns:        c.PostgresStore.MinConns,
		MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
		MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	sessions := postgresstore.NewSessionStore(pool)

	// The sweeper only touches the session store; the base URL is unused but
	// required by the service config.
	svc, err := session.NewService(session.Config{
		BaseURL:       "http://localhost",
		RetentionDays: c.RetentionDays,
	}, sessions, postgresstore.NewSurveyStore(pool), postgresstore.NewResponseStore(pool), notify.NewEmitter(notify.NewLogDelivery()))
	if err != nil {
		return err
	}

	result, err := svc.SweepExpired(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("expired", result.ExpiredCount).
		Int("deleted", result.DeletedCount).
		Msg("Sweep finished")

	return nil
}
