package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// sessionColumns is the canonical column list scanned by scanSession. The
// inet column is rendered with host() so the scan side stays a plain string.
const sessionColumns = `
	session_id, survey_id, resume_token, resume_code, answers,
	current_page_index, last_question_id, status,
	respondent_email, respondent_name,
	started_at, last_saved_at, expires_at,
	converted_to_response_id, host(ip_address), user_agent`

// SessionStore implements store.SessionStore using PostgreSQL. State-machine
// guards are expressed as conditional UPDATEs so the status check is atomic
// with the write; active-code uniqueness is enforced by a partial unique
// index evaluated at insert time.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a new partial session. A violation of the active-code
// partial index surfaces as store.ErrCodeConflict for the caller to retry
// with a fresh code.
func (s *SessionStore) Create(ctx context.Context, session *models.PartialSession) error {
	answersJSON, err := marshalAnswers(session.Answers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO partial_sessions (
			session_id, survey_id, resume_token, resume_code, answers,
			current_page_index, last_question_id, status,
			respondent_email, respondent_name,
			started_at, last_saved_at, expires_at,
			ip_address, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::inet, $15
		)
	`

	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.SurveyID,
		session.ResumeToken,
		session.ResumeCode,
		answersJSON,
		session.CurrentPageIndex,
		session.LastQuestionID,
		session.Status,
		nullIfEmpty(session.RespondentEmail),
		nullIfEmpty(session.RespondentName),
		session.StartedAt,
		session.LastSavedAt,
		session.ExpiresAt,
		nullIfEmpty(session.IPAddress),
		nullIfEmpty(session.UserAgent),
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().
		Str("session_id", session.ID.String()).
		Str("survey_id", session.SurveyID.String()).
		Msg("Created partial session")

	return nil
}

// GetByToken returns the session for a resume token regardless of status.
func (s *SessionStore) GetByToken(ctx context.Context, resumeToken string) (*models.PartialSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM partial_sessions WHERE resume_token = $1`

	session, err := scanSession(s.pool.QueryRow(ctx, query, resumeToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(err)
	}
	return session, nil
}

// GetByCode matches only IN_PROGRESS sessions whose expiry is in the future,
// scoped to the survey. Every miss is ErrSessionNotFound.
func (s *SessionStore) GetByCode(ctx context.Context, surveyID uuid.UUID, code string, now time.Time) (*models.PartialSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM partial_sessions
		WHERE survey_id = $1
		  AND resume_code = $2
		  AND status = $3
		  AND expires_at > $4
	`

	session, err := scanSession(s.pool.QueryRow(ctx, query, surveyID, code, models.StatusInProgress, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(err)
	}
	return session, nil
}

// UpdateProgress overwrites the mutable fields of an IN_PROGRESS session.
// The status guard is part of the UPDATE predicate, so a session that went
// terminal between read and write is rejected, never silently accepted.
func (s *SessionStore) UpdateProgress(ctx context.Context, update *store.ProgressUpdate) (*models.PartialSession, error) {
	answersJSON, err := marshalAnswers(update.Answers)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE partial_sessions
		SET
			answers = $2,
			current_page_index = $3,
			last_question_id = $4,
			respondent_email = COALESCE(NULLIF($5, ''), respondent_email),
			respondent_name = COALESCE(NULLIF($6, ''), respondent_name),
			last_saved_at = $7
		WHERE resume_token = $1
		  AND status = $8
		RETURNING ` + sessionColumns

	session, err := scanSession(s.pool.QueryRow(ctx, query,
		update.ResumeToken,
		answersJSON,
		update.CurrentPageIndex,
		update.LastQuestionID,
		update.RespondentEmail,
		update.RespondentName,
		update.SavedAt,
		models.StatusInProgress,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyMiss(ctx, update.ResumeToken)
		}
		return nil, mapPostgresError(err)
	}
	return session, nil
}

// MarkExpired transitions an IN_PROGRESS session to EXPIRED.
func (s *SessionStore) MarkExpired(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		UPDATE partial_sessions
		SET status = $2
		WHERE session_id = $1
		  AND status = $3
	`

	result, err := s.pool.Exec(ctx, query, sessionID, models.StatusExpired, models.StatusInProgress)
	if err != nil {
		return mapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM partial_sessions WHERE session_id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return mapPostgresError(err)
		}
		if !exists {
			return store.ErrSessionNotFound
		}
		return store.ErrSessionTerminal
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Session expired")

	return nil
}

// ExpireStale bulk-transitions every stale IN_PROGRESS session to EXPIRED.
// The sweep gates purely on expires_at, which is fixed at creation, so it is
// safe to run concurrently with save traffic.
func (s *SessionStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE partial_sessions
		SET status = $1
		WHERE status = $2
		  AND expires_at < $3
	`

	result, err := s.pool.Exec(ctx, query, models.StatusExpired, models.StatusInProgress, now)
	if err != nil {
		return 0, mapPostgresError(err)
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Expired stale sessions")
	}

	return count, nil
}

// DeleteExpiredBefore permanently deletes EXPIRED sessions past the cutoff.
func (s *SessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM partial_sessions
		WHERE status = $1
		  AND expires_at < $2
	`

	result, err := s.pool.Exec(ctx, query, models.StatusExpired, cutoff)
	if err != nil {
		return 0, mapPostgresError(err)
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Purged expired sessions")
	}

	return count, nil
}

// classifyMiss distinguishes a missing session from a terminal one after a
// guarded UPDATE matched no rows.
func (s *SessionStore) classifyMiss(ctx context.Context, resumeToken string) error {
	var status models.SessionStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM partial_sessions WHERE resume_token = $1`, resumeToken,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrSessionNotFound
		}
		return mapPostgresError(err)
	}
	return store.ErrSessionTerminal
}

// scanSession scans one partial_sessions row in sessionColumns order.
func scanSession(row pgx.Row) (*models.PartialSession, error) {
	var session models.PartialSession
	var answersJSON []byte
	var email, name, ipAddress, userAgent *string

	err := row.Scan(
		&session.ID,
		&session.SurveyID,
		&session.ResumeToken,
		&session.ResumeCode,
		&answersJSON,
		&session.CurrentPageIndex,
		&session.LastQuestionID,
		&session.Status,
		&email,
		&name,
		&session.StartedAt,
		&session.LastSavedAt,
		&session.ExpiresAt,
		&session.ConvertedToResponseID,
		&ipAddress,
		&userAgent,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(answersJSON, &session.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
	}
	if email != nil {
		session.RespondentEmail = *email
	}
	if name != nil {
		session.RespondentName = *name
	}
	if ipAddress != nil {
		session.IPAddress = *ipAddress
	}
	if userAgent != nil {
		session.UserAgent = *userAgent
	}

	return &session, nil
}

func marshalAnswers(answers map[string]json.RawMessage) ([]byte, error) {
	if len(answers) == 0 {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}
	return data, nil
}

// nullIfEmpty converts empty strings to NULL for nullable text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
