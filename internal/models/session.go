package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a partial session.
// IN_PROGRESS is the only non-terminal state; a session moves to COMPLETED
// via the completion commit or to EXPIRED once its expiry passes. No
// transition ever leaves a terminal state.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusExpired    SessionStatus = "EXPIRED"
	StatusCompleted  SessionStatus = "COMPLETED"
)

// PartialSession is a persisted, in-progress survey response awaiting
// completion. The resume token is the primary lookup key (embedded in resume
// links); the resume code is the short human-typeable secondary key, unique
// only among IN_PROGRESS sessions of the same survey.
type PartialSession struct {
	ID          uuid.UUID `json:"id"`
	SurveyID    uuid.UUID `json:"surveyId"`
	ResumeToken string    `json:"resumeToken"`
	ResumeCode  string    `json:"resumeCode"`

	// Answers holds the in-flight answer set keyed by question id. Payloads
	// are opaque to this subsystem.
	Answers          map[string]json.RawMessage `json:"answers"`
	CurrentPageIndex int                        `json:"currentPageIndex"`
	LastQuestionID   *string                    `json:"lastQuestionId,omitempty"`

	Status SessionStatus `json:"status"`

	RespondentEmail string `json:"respondentEmail,omitempty"`
	RespondentName  string `json:"respondentName,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	LastSavedAt time.Time `json:"lastSavedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	// ConvertedToResponseID is set exactly once, when the session transitions
	// to COMPLETED.
	ConvertedToResponseID *uuid.UUID `json:"convertedToResponseId,omitempty"`

	// Audit metadata captured at creation.
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// Terminal reports whether the session is in a terminal state.
func (s *PartialSession) Terminal() bool {
	return s.Status != StatusInProgress
}

// PastExpiry reports whether the session's expiry has passed at the given
// instant. Expiry is gated purely on ExpiresAt, fixed at creation, never on
// time since last save.
func (s *PartialSession) PastExpiry(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
