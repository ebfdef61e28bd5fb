package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// ResponseStore implements store.ResponseStore using PostgreSQL.
type ResponseStore struct {
	pool *pgxpool.Pool
}

// NewResponseStore creates a new PostgreSQL-backed response store.
func NewResponseStore(pool *pgxpool.Pool) *ResponseStore {
	return &ResponseStore{pool: pool}
}

// CommitSession converts a partial session into a permanent response inside
// a single transaction: insert the response, batch-insert its answers, then
// flip the session to COMPLETED behind a status guard. If the guard matches
// no rows the transaction rolls back and nothing is left behind, so the
// caller may safely retry.
func (r *ResponseStore) CommitSession(ctx context.Context, session *models.PartialSession, resp *models.Response, answers []*models.Answer) error {
	metadataJSON, err := marshalMetadata(resp.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapPostgresError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO responses (
			response_id, survey_id, started_at, completed_at,
			ip_address, user_agent, metadata
		) VALUES ($1, $2, $3, $4, $5::inet, $6, $7)
	`,
		resp.ID,
		resp.SurveyID,
		resp.StartedAt,
		resp.CompletedAt,
		nullIfEmpty(resp.IPAddress),
		nullIfEmpty(resp.UserAgent),
		metadataJSON,
	)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to insert response: %w", err))
	}

	if len(answers) > 0 {
		batch := &pgx.Batch{}
		for _, answer := range answers {
			answerMetadataJSON, err := marshalMetadata(answer.Metadata)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO response_answers (
					answer_id, response_id, question_id,
					option_id, text_value, number_value, date_value, file_url,
					metadata
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				answer.ID,
				answer.ResponseID,
				answer.QuestionID,
				answer.OptionID,
				answer.TextValue,
				answer.NumberValue,
				answer.DateValue,
				answer.FileURL,
				answerMetadataJSON,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range answers {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return mapPostgresError(fmt.Errorf("failed to insert answer %d: %w", i, err))
			}
		}
		if err := results.Close(); err != nil {
			return mapPostgresError(err)
		}
	}

	result, err := tx.Exec(ctx, `
		UPDATE partial_sessions
		SET status = $2, converted_to_response_id = $3
		WHERE session_id = $1
		  AND status = $4
	`,
		session.ID,
		models.StatusCompleted,
		resp.ID,
		models.StatusInProgress,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		// The deferred rollback discards the response and answers.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM partial_sessions WHERE session_id = $1)`, session.ID,
		).Scan(&exists); err != nil {
			return mapPostgresError(err)
		}
		if !exists {
			return store.ErrSessionNotFound
		}
		return store.ErrSessionTerminal
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("response_id", resp.ID.String()).
		Int("answer_count", len(answers)).
		Msg("Converted partial session to response")

	return nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}
