package models

import (
	"time"

	"github.com/google/uuid"
)

// Response is a finalized, permanent survey response. It carries the
// originating session's start time and audit metadata, plus a back-reference
// to the partial session in Metadata.
type Response struct {
	ID          uuid.UUID         `json:"id"`
	SurveyID    uuid.UUID         `json:"surveyId"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	IPAddress   string            `json:"-"`
	UserAgent   string            `json:"-"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Answer is one permanent answer record belonging to a response. Exactly one
// of the value fields is set, depending on the answer shape.
type Answer struct {
	ID         uuid.UUID `json:"id"`
	ResponseID uuid.UUID `json:"responseId"`
	QuestionID string    `json:"questionId"`

	OptionID    *string    `json:"optionId,omitempty"`
	TextValue   *string    `json:"textValue,omitempty"`
	NumberValue *float64   `json:"numberValue,omitempty"`
	DateValue   *time.Time `json:"dateValue,omitempty"`
	FileURL     *string    `json:"fileUrl,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// AnswerInput is the caller-supplied shape of a final answer passed to the
// completion commit, keyed by question id.
type AnswerInput struct {
	OptionID    *string           `json:"optionId,omitempty"`
	TextValue   *string           `json:"textValue,omitempty"`
	NumberValue *float64          `json:"numberValue,omitempty"`
	DateValue   *time.Time        `json:"dateValue,omitempty"`
	FileURL     *string           `json:"fileUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
