package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/httpapi"
	"github.com/wolfeidau/surveysave/internal/httpmw"
	"github.com/wolfeidau/surveysave/internal/logger"
	"github.com/wolfeidau/surveysave/internal/notify"
	"github.com/wolfeidau/surveysave/internal/session"
	"github.com/wolfeidau/surveysave/internal/store"
	memorystore "github.com/wolfeidau/surveysave/internal/store/memory"
	postgresstore "github.com/wolfeidau/surveysave/internal/store/postgres"
	"github.com/wolfeidau/surveysave/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen  string `help:"HTTP server listen address" default:"localhost:8080" env:"SURVEYSAVE_LISTEN"`
	BaseURL string `help:"public base URL resume links are built from" default:"http://localhost:8080" env:"SURVEYSAVE_BASE_URL"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"SURVEYSAVE_CORS_ORIGINS"`

	// Lifecycle configuration
	SweepInterval time.Duration `help:"interval between background expiration sweeps (0 disables)" default:"1h" env:"SURVEYSAVE_SWEEP_INTERVAL"`
	RetentionDays int           `help:"days expired sessions are kept before permanent deletion" default:"30" env:"SURVEYSAVE_RETENTION_DAYS"`
	CodeAttempts  int           `help:"resume code regeneration attempts on collision" default:"5" env:"SURVEYSAVE_CODE_ATTEMPTS"`

	// Notification configuration
	NotifyWebhook string `help:"webhook URL resume notifications are delivered to (logs when empty)" default:"" env:"SURVEYSAVE_NOTIFY_WEBHOOK"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"SURVEYSAVE_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"SURVEYSAVE_STORE_TYPE" enum:"memory,postgres"`
	SurveysFile   string             `help:"YAML file of survey fixtures loaded into the memory store" default:"" env:"SURVEYSAVE_SURVEYS_FILE"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"SURVEYSAVE_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	logg := logger.Setup(globals.Debug)
	log.Logger = logg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "surveysave-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	sessions, surveys, responses, err := c.createStores(ctx)
	if err != nil {
		return err
	}

	emitter := notify.NewEmitter(c.createDelivery())
	defer emitter.Wait()

	svc, err := session.NewService(session.Config{
		BaseURL:       c.BaseURL,
		CodeAttempts:  c.CodeAttempts,
		RetentionDays: c.RetentionDays,
	}, sessions, surveys, responses, emitter)
	if err != nil {
		return err
	}

	if c.SweepInterval > 0 {
		go c.runSweeper(ctx, svc)
	}

	handler := httpapi.NewServer(svc).Handler()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	var wrapped http.Handler = handler
	wrapped = httpmw.Capture()(wrapped)
	wrapped = logger.Requests(logg)(wrapped)
	wrapped = gzhttp.GzipHandler(wrapped)
	wrapped = corsHandler.Handler(wrapped)

	srv := configureHTTPServer(c.Listen, wrapped)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("store", c.StoreType).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (c *ServerCmd) createStores(ctx context.Context) (store.SessionStore, store.SurveyStore, store.ResponseStore, error) {
	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		log.Info().Msg("Using PostgreSQL stores")
		return postgresstore.NewSessionStore(pool), postgresstore.NewSurveyStore(pool), postgresstore.NewResponseStore(pool), nil

	default:
		sessions := memorystore.NewSessionStore()
		surveys := memorystore.NewSurveyStore()

		if c.SurveysFile != "" {
			if err := surveys.LoadFixtures(c.SurveysFile); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to load survey fixtures: %w", err)
			}
			log.Info().Str("file", c.SurveysFile).Msg("Loaded survey fixtures")
		}

		log.Info().Msg("Using in-memory stores")
		return sessions, surveys, memorystore.NewResponseStore(sessions), nil
	}
}

func (c *ServerCmd) createDelivery() notify.Delivery {
	if c.NotifyWebhook != "" {
		log.Info().Str("webhook", c.NotifyWebhook).Msg("Delivering resume notifications via webhook")
		return notify.NewWebhookDelivery(c.NotifyWebhook)
	}
	return notify.NewLogDelivery()
}

func (c *ServerCmd) runSweeper(ctx context.Context, svc *session.Service) {
	ticker := time.NewTicker(c.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := svc.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Background sweep failed")
				continue
			}
			if result.ExpiredCount > 0 || result.DeletedCount > 0 {
				log.Info().
					Int("expired", result.ExpiredCount).
					Int("deleted", result.DeletedCount).
					Msg("Background sweep finished")
			}
		}
	}
}
