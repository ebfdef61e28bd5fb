package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// SurveyStore implements store.SurveyStore using PostgreSQL. The surveys
// table is populated by the survey authoring system; this store only reads
// it.
type SurveyStore struct {
	pool *pgxpool.Pool
}

// NewSurveyStore creates a new PostgreSQL-backed survey store.
func NewSurveyStore(pool *pgxpool.Pool) *SurveyStore {
	return &SurveyStore{pool: pool}
}

// GetSurvey returns the survey definition and policy for the given id. Pages,
// questions and options are stored as a JSONB tree in display order.
func (s *SurveyStore) GetSurvey(ctx context.Context, surveyID uuid.UUID) (*models.Survey, error) {
	query := `
		SELECT survey_id, title, save_and_continue_enabled,
		       save_requires_email, save_expiration_days, definition
		FROM surveys
		WHERE survey_id = $1
	`

	var survey models.Survey
	var definitionJSON []byte

	err := s.pool.QueryRow(ctx, query, surveyID).Scan(
		&survey.ID,
		&survey.Title,
		&survey.SaveAndContinueEnabled,
		&survey.SaveRequiresEmail,
		&survey.SaveExpirationDays,
		&definitionJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSurveyNotFound
		}
		return nil, mapPostgresError(err)
	}

	if err := json.Unmarshal(definitionJSON, &survey.Pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal survey definition: %w", err)
	}

	return &survey, nil
}
