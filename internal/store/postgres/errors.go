package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfeidau/surveysave/internal/store"
)

// mapPostgresError maps PostgreSQL errors to the store's sentinel errors.
// Returns the original error when it is not a PostgreSQL error or doesn't
// match a known pattern.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		// The partial index on (survey_id, resume_code) WHERE IN_PROGRESS
		// enforces active-code uniqueness; the lifecycle manager retries
		// code generation on this error.
		if strings.Contains(pgErr.ConstraintName, "survey_code_active") {
			return store.ErrCodeConflict
		}
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.ForeignKeyViolation:
		// Sessions reference surveys; a missing parent means the survey id
		// is unknown.
		if strings.Contains(pgErr.ConstraintName, "survey") {
			return fmt.Errorf("%w: %s", store.ErrSurveyNotFound, pgErr.Detail)
		}
		return fmt.Errorf("foreign key violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("database connection error: %w", err)

	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, err)
	}
}
