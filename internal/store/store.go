// Package store defines the persistence interfaces for the save-and-resume
// subsystem and the sentinel errors shared by all backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/surveysave/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSurveyNotFound  = errors.New("survey not found")

	// ErrSessionTerminal is returned by write paths when the guarded status
	// check finds the session already COMPLETED or EXPIRED.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrCodeConflict is returned by Create when another IN_PROGRESS session
	// of the same survey already holds the resume code.
	ErrCodeConflict = errors.New("resume code already active for survey")
)

// ProgressUpdate carries the mutable fields of a save on an existing session.
// Email and name are only written when non-empty.
type ProgressUpdate struct {
	ResumeToken      string
	Answers          map[string]json.RawMessage
	CurrentPageIndex int
	LastQuestionID   *string
	RespondentEmail  string
	RespondentName   string
	SavedAt          time.Time
}

// SessionStore persists partial sessions. All write paths evaluate the
// state-machine guard (status must be IN_PROGRESS) atomically with the write.
type SessionStore interface {
	// Create inserts a new session. Returns ErrCodeConflict when the
	// (survey, resume code) pair is already held by an IN_PROGRESS session;
	// the uniqueness check is atomic with the insert.
	Create(ctx context.Context, session *models.PartialSession) error

	// GetByToken returns the session for a resume token regardless of
	// status. Expiry and terminal-state handling belong to the caller.
	GetByToken(ctx context.Context, resumeToken string) (*models.PartialSession, error)

	// GetByCode returns the IN_PROGRESS, unexpired session holding the code
	// for the survey. Any miss is ErrSessionNotFound; the store never reveals
	// whether a code belonged to a terminal session.
	GetByCode(ctx context.Context, surveyID uuid.UUID, code string, now time.Time) (*models.PartialSession, error)

	// UpdateProgress overwrites the mutable fields of an IN_PROGRESS session
	// and returns the updated record. Returns ErrSessionTerminal when the
	// session has left IN_PROGRESS.
	UpdateProgress(ctx context.Context, update *ProgressUpdate) (*models.PartialSession, error)

	// MarkExpired transitions an IN_PROGRESS session to EXPIRED.
	MarkExpired(ctx context.Context, sessionID uuid.UUID) error

	// ExpireStale bulk-transitions every IN_PROGRESS session whose expiry is
	// in the past to EXPIRED, returning the number of sessions transitioned.
	ExpireStale(ctx context.Context, now time.Time) (int, error)

	// DeleteExpiredBefore permanently deletes EXPIRED sessions whose expiry
	// is older than the cutoff, returning the number deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SurveyStore reads survey definitions and their save-and-continue policy.
// Survey authoring lives elsewhere; this subsystem only consumes it.
type SurveyStore interface {
	GetSurvey(ctx context.Context, surveyID uuid.UUID) (*models.Survey, error)
}

// ResponseStore persists finalized responses.
type ResponseStore interface {
	// CommitSession atomically creates the permanent response with its
	// answers and transitions the originating partial session to COMPLETED
	// with ConvertedToResponseID set. The whole operation is all-or-nothing:
	// on any failure no records are left behind and the session remains
	// IN_PROGRESS. Returns ErrSessionTerminal when the session has already
	// left IN_PROGRESS.
	CommitSession(ctx context.Context, session *models.PartialSession, resp *models.Response, answers []*models.Answer) error
}
