package models

import "github.com/google/uuid"

// Survey is the read-only survey definition this subsystem consumes. The
// definition itself (pages, questions, options) is owned by the survey
// authoring system; only the save-and-continue policy fields are interpreted
// here.
type Survey struct {
	ID    uuid.UUID `json:"id" yaml:"id"`
	Title string    `json:"title" yaml:"title"`

	// Save-and-continue policy.
	SaveAndContinueEnabled bool `json:"saveAndContinueEnabled" yaml:"saveAndContinueEnabled"`
	SaveRequiresEmail      bool `json:"saveRequiresEmail" yaml:"saveRequiresEmail"`

	// SaveExpirationDays is the expiration window for saved sessions. Zero
	// means no configured expiry, which is treated as a ten year horizon.
	SaveExpirationDays int `json:"saveExpirationDays" yaml:"saveExpirationDays"`

	Pages []SurveyPage `json:"pages" yaml:"pages"`
}

// SurveyPage is one page of the survey, in display order.
type SurveyPage struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Position  int        `json:"position" yaml:"position"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question is a single question on a page.
type Question struct {
	ID       string           `json:"id" yaml:"id"`
	Type     string           `json:"type" yaml:"type"`
	Label    string           `json:"label" yaml:"label"`
	Required bool             `json:"required" yaml:"required"`
	Position int              `json:"position" yaml:"position"`
	Options  []QuestionOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// QuestionOption is a selectable option for choice questions.
type QuestionOption struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Value    string `json:"value" yaml:"value"`
	Position int    `json:"position" yaml:"position"`
}
