package session

import "errors"

// Client-facing error taxonomy for the save-and-resume operations. Lookups by
// token or code deliberately collapse "unknown", "expired code" and
// "completed code" into ErrNotFound so callers cannot enumerate sessions.
var (
	ErrNotFound            = errors.New("resume link not found or expired")
	ErrFeatureDisabled     = errors.New("save and continue is not enabled for this survey")
	ErrEmailRequired       = errors.New("an email address is required to save progress")
	ErrExpired             = errors.New("save has expired, start a new survey")
	ErrAlreadyCompleted    = errors.New("survey already completed")
	ErrGenerationExhausted = errors.New("could not generate a unique resume code")
	ErrCommitFailed        = errors.New("completion commit failed")
)
