// Package memory provides in-memory store implementations used in
// development mode and as the substrate for unit tests.
package memory

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// SessionStore implements store.SessionStore using in-memory maps.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.PartialSession
	byToken  map[string]uuid.UUID
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*models.PartialSession),
		byToken:  make(map[string]uuid.UUID),
	}
}

// Create inserts a new session. The active-code uniqueness check runs under
// the store lock, atomic with the insert.
func (s *SessionStore) Create(ctx context.Context, session *models.PartialSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.SurveyID == session.SurveyID &&
			existing.Status == models.StatusInProgress &&
			existing.ResumeCode == session.ResumeCode {
			return store.ErrCodeConflict
		}
	}

	s.sessions[session.ID] = cloneSession(session)
	s.byToken[session.ResumeToken] = session.ID

	log.Debug().
		Str("session_id", session.ID.String()).
		Str("survey_id", session.SurveyID.String()).
		Msg("Created partial session")

	return nil
}

// GetByToken returns the session for a resume token regardless of status.
func (s *SessionStore) GetByToken(ctx context.Context, resumeToken string) (*models.PartialSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[resumeToken]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return cloneSession(s.sessions[id]), nil
}

// GetByCode matches only IN_PROGRESS sessions whose expiry is still in the
// future, scoped to the survey.
func (s *SessionStore) GetByCode(ctx context.Context, surveyID uuid.UUID, code string, now time.Time) (*models.PartialSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.SurveyID == surveyID &&
			sess.Status == models.StatusInProgress &&
			sess.ResumeCode == code &&
			sess.ExpiresAt.After(now) {
			return cloneSession(sess), nil
		}
	}
	return nil, store.ErrSessionNotFound
}

// UpdateProgress overwrites the mutable fields of an IN_PROGRESS session.
func (s *SessionStore) UpdateProgress(ctx context.Context, update *store.ProgressUpdate) (*models.PartialSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[update.ResumeToken]
	if !ok {
		return nil, store.ErrSessionNotFound
	}

	sess := s.sessions[id]
	if sess.Status != models.StatusInProgress {
		return nil, store.ErrSessionTerminal
	}

	sess.Answers = cloneAnswers(update.Answers)
	sess.CurrentPageIndex = update.CurrentPageIndex
	sess.LastQuestionID = update.LastQuestionID
	if update.RespondentEmail != "" {
		sess.RespondentEmail = update.RespondentEmail
	}
	if update.RespondentName != "" {
		sess.RespondentName = update.RespondentName
	}
	sess.LastSavedAt = update.SavedAt

	return cloneSession(sess), nil
}

// MarkExpired transitions an IN_PROGRESS session to EXPIRED.
func (s *SessionStore) MarkExpired(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if sess.Status != models.StatusInProgress {
		return store.ErrSessionTerminal
	}

	sess.Status = models.StatusExpired

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Session expired")

	return nil
}

// ExpireStale bulk-transitions stale IN_PROGRESS sessions to EXPIRED.
func (s *SessionStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Status == models.StatusInProgress && now.After(sess.ExpiresAt) {
			sess.Status = models.StatusExpired
			count++
		}
	}

	if count > 0 {
		log.Info().Int("count", count).Msg("Expired stale sessions")
	}

	return count, nil
}

// DeleteExpiredBefore permanently deletes EXPIRED sessions past the cutoff.
func (s *SessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, sess := range s.sessions {
		if sess.Status == models.StatusExpired && sess.ExpiresAt.Before(cutoff) {
			delete(s.byToken, sess.ResumeToken)
			delete(s.sessions, id)
			count++
		}
	}

	if count > 0 {
		log.Info().Int("count", count).Msg("Purged expired sessions")
	}

	return count, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func cloneSession(sess *models.PartialSession) *models.PartialSession {
	out := *sess
	out.Answers = cloneAnswers(sess.Answers)
	if sess.LastQuestionID != nil {
		q := *sess.LastQuestionID
		out.LastQuestionID = &q
	}
	if sess.ConvertedToResponseID != nil {
		r := *sess.ConvertedToResponseID
		out.ConvertedToResponseID = &r
	}
	return &out
}

func cloneAnswers(answers map[string]json.RawMessage) map[string]json.RawMessage {
	if answers == nil {
		return map[string]json.RawMessage{}
	}
	out := make(map[string]json.RawMessage, len(answers))
	maps.Copy(out, answers)
	return out
}
