// Package session implements the save-and-resume operation layer: the
// session lifecycle manager, the completion committer and the expiration
// sweeper. It is transport-agnostic; the HTTP adapter lives in httpapi.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/notify"
	"github.com/wolfeidau/surveysave/internal/store"
	"github.com/wolfeidau/surveysave/internal/telemetry"
	"github.com/wolfeidau/surveysave/internal/token"
)

// Config holds service configuration.
type Config struct {
	// BaseURL is the public base URL resume links are built from.
	BaseURL string

	// CodeAttempts bounds resume code regeneration on collision. Default: 5
	CodeAttempts int

	// RetentionDays is how long EXPIRED sessions are kept before the sweeper
	// permanently deletes them. Default: 30
	RetentionDays int

	// NeverExpireYears is the expiry horizon applied when a survey has no
	// configured expiration window. A bounded horizon keeps the data model
	// simple and lets the sweeper treat every session uniformly. Default: 10
	NeverExpireYears int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.CodeAttempts == 0 {
		c.CodeAttempts = 5
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.NeverExpireYears == 0 {
		c.NeverExpireYears = 10
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	return nil
}

// Service is the save-and-resume operation layer. All state transitions on
// partial sessions flow through it; the client-facing save path owns the
// mutable progress fields while a session is IN_PROGRESS, and the service
// exclusively owns status transitions.
type Service struct {
	cfg       Config
	sessions  store.SessionStore
	surveys   store.SurveyStore
	responses store.ResponseStore
	emitter   *notify.Emitter

	// Injectable for deterministic expiry tests.
	now      func() time.Time
	newToken func() (string, error)
	newCode  func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the operation layer over the given stores and
// notification emitter.
func NewService(cfg Config, sessions store.SessionStore, surveys store.SurveyStore, responses store.ResponseStore, emitter *notify.Emitter, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		sessions:  sessions,
		surveys:   surveys,
		responses: responses,
		emitter:   emitter,
		now:       time.Now,
		newToken:  token.NewResumeToken,
		newCode:   token.NewResumeCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveInput carries one save call. A missing ResumeToken means "create a new
// session"; a present one means "overwrite the progress of an existing one".
type SaveInput struct {
	SurveyID         uuid.UUID
	Answers          map[string]json.RawMessage
	CurrentPageIndex int
	LastQuestionID   *string
	Email            string
	Name             string
	ResumeToken      string

	// Audit metadata, captured at creation only.
	IPAddress string
	UserAgent string
}

// SaveResult is returned by Save for both create and update.
type SaveResult struct {
	ResumeToken string    `json:"resumeToken"`
	ResumeCode  string    `json:"resumeCode"`
	ResumeURL   string    `json:"resumeUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Save persists in-flight progress. On create it issues a fresh token and
// code, computes the expiry from the survey policy and emits a resume
// notification when an email was supplied. On update it overwrites the
// mutable fields only; no new notification is sent.
func (s *Service) Save(ctx context.Context, in *SaveInput) (*SaveResult, error) {
	survey, err := s.surveys.GetSurvey(ctx, in.SurveyID)
	if err != nil {
		if errors.Is(err, store.ErrSurveyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load survey: %w", err)
	}

	if !survey.SaveAndContinueEnabled {
		return nil, ErrFeatureDisabled
	}

	if in.ResumeToken == "" {
		return s.createSession(ctx, survey, in)
	}
	return s.updateSession(ctx, in)
}

func (s *Service) createSession(ctx context.Context, survey *models.Survey, in *SaveInput) (*SaveResult, error) {
	if survey.SaveRequiresEmail && in.Email == "" {
		return nil, ErrEmailRequired
	}

	resumeToken, err := s.newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &models.PartialSession{
		ID:               uuid.Must(uuid.NewV7()),
		SurveyID:         survey.ID,
		ResumeToken:      resumeToken,
		Answers:          in.Answers,
		CurrentPageIndex: in.CurrentPageIndex,
		LastQuestionID:   in.LastQuestionID,
		Status:           models.StatusInProgress,
		RespondentEmail:  in.Email,
		RespondentName:   in.Name,
		StartedAt:        now,
		LastSavedAt:      now,
		ExpiresAt:        s.expiryFor(survey, now),
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
	}

	// Codes are only unique among active sessions of one survey, so the
	// insert may collide; regenerate and retry a bounded number of times.
	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		sess.ResumeCode = code

		err = s.sessions.Create(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrCodeConflict) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		telemetry.GetMetrics().CodeCollisionsTotal.Add(ctx, 1)
		if attempt >= s.cfg.CodeAttempts {
			// The code space is 32^6 per survey; exhausting retries points
			// at a systemic problem, not bad luck.
			log.Error().
				Str("survey_id", survey.ID.String()).
				Int("attempts", attempt).
				Msg("Resume code generation exhausted")
			return nil, ErrGenerationExhausted
		}

		log.Warn().
			Str("survey_id", survey.ID.String()).
			Int("attempt", attempt).
			Msg("Resume code collision, regenerating")
	}

	telemetry.GetMetrics().SessionsCreatedTotal.Add(ctx, 1)
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("survey_id", survey.ID.String()).
		Time("expires_at", sess.ExpiresAt).
		Msg("Created partial session")

	resumeURL := s.resumeURL(sess.ResumeToken)
	s.emitter.EmitResumeLink(survey, sess, resumeURL)

	return &SaveResult{
		ResumeToken: sess.ResumeToken,
		ResumeCode:  sess.ResumeCode,
		ResumeURL:   resumeURL,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

func (s *Service) updateSession(ctx context.Context, in *SaveInput) (*SaveResult, error) {
	sess, err := s.sessions.GetByToken(ctx, in.ResumeToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.ensureResumable(ctx, sess); err != nil {
		return nil, err
	}

	updated, err := s.sessions.UpdateProgress(ctx, &store.ProgressUpdate{
		ResumeToken:      in.ResumeToken,
		Answers:          in.Answers,
		CurrentPageIndex: in.CurrentPageIndex,
		LastQuestionID:   in.LastQuestionID,
		RespondentEmail:  in.Email,
		RespondentName:   in.Name,
		SavedAt:          s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrSessionTerminal):
			// Lost a race with the committer or the sweeper.
			return nil, s.terminalError(ctx, in.ResumeToken)
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	telemetry.GetMetrics().SessionsUpdatedTotal.Add(ctx, 1)

	return &SaveResult{
		ResumeToken: updated.ResumeToken,
		ResumeCode:  updated.ResumeCode,
		ResumeURL:   s.resumeURL(updated.ResumeToken),
		ExpiresAt:   updated.ExpiresAt,
	}, nil
}

// ResumeResult carries everything the caller needs to re-render the survey
// exactly where the respondent left off.
type ResumeResult struct {
	Survey           *models.Survey             `json:"survey"`
	Answers          map[string]json.RawMessage `json:"answers"`
	CurrentPageIndex int                        `json:"currentPageIndex"`
	LastQuestionID   *string                    `json:"lastQuestionId,omitempty"`
	ResumeToken      string                     `json:"resumeToken"`
	LastSavedAt      time.Time                  `json:"lastSavedAt"`
}

// ResumeByToken looks up a session by its durable token. A session found past
// its expiry is transitioned to EXPIRED as part of this call; the transition
// is deliberate contract, not a hidden side effect, so a later resume of the
// same token reports Expired rather than NotFound.
func (s *Service) ResumeByToken(ctx context.Context, resumeToken string) (*ResumeResult, error) {
	sess, err := s.sessions.GetByToken(ctx, resumeToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.ensureResumable(ctx, sess); err != nil {
		return nil, err
	}

	survey, err := s.surveys.GetSurvey(ctx, sess.SurveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load survey: %w", err)
	}

	telemetry.GetMetrics().SessionsResumedTotal.Add(ctx, 1)
	log.Debug().
		Str("session_id", sess.ID.String()).
		Msg("Resumed session by token")

	return &ResumeResult{
		Survey:           survey,
		Answers:          sess.Answers,
		CurrentPageIndex: sess.CurrentPageIndex,
		LastQuestionID:   sess.LastQuestionID,
		ResumeToken:      sess.ResumeToken,
		LastSavedAt:      sess.LastSavedAt,
	}, nil
}

// CodeResult is returned by ResumeByCode; the caller follows up with
// ResumeByToken to retrieve the saved state.
type CodeResult struct {
	ResumeToken string `json:"resumeToken"`
	ResumeURL   string `json:"resumeUrl"`
}

// ResumeByCode resolves a short resume code to its token. Matching is
// case-insensitive and scoped to IN_PROGRESS, unexpired sessions of the
// given survey; a wrong, expired or completed code all yield the same
// ErrNotFound so codes cannot be enumerated.
func (s *Service) ResumeByCode(ctx context.Context, surveyID uuid.UUID, code string) (*CodeResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, ErrNotFound
	}

	sess, err := s.sessions.GetByCode(ctx, surveyID, normalized, s.now())
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up resume code: %w", err)
	}

	log.Debug().
		Str("session_id", sess.ID.String()).
		Str("survey_id", surveyID.String()).
		Msg("Resolved resume code")

	return &CodeResult{
		ResumeToken: sess.ResumeToken,
		ResumeURL:   s.resumeURL(sess.ResumeToken),
	}, nil
}

// ensureResumable rejects terminal sessions with the typed error naming the
// observed terminal state and lazily expires sessions found past their
// expiry.
func (s *Service) ensureResumable(ctx context.Context, sess *models.PartialSession) error {
	switch sess.Status {
	case models.StatusCompleted:
		return ErrAlreadyCompleted
	case models.StatusExpired:
		return ErrExpired
	}

	if sess.PastExpiry(s.now()) {
		switch err := s.sessions.MarkExpired(ctx, sess.ID); {
		case err == nil:
			telemetry.GetMetrics().SessionsExpiredTotal.Add(ctx, 1)
		case errors.Is(err, store.ErrSessionTerminal):
			// a concurrent sweep got there first and already counted it
		default:
			log.Warn().
				Err(err).
				Str("session_id", sess.ID.String()).
				Msg("Failed to lazily expire session")
		}
		return ErrExpired
	}

	return nil
}

// terminalError re-reads a session to name the terminal state that caused a
// guarded write to miss.
func (s *Service) terminalError(ctx context.Context, resumeToken string) error {
	sess, err := s.sessions.GetByToken(ctx, resumeToken)
	if err != nil {
		return ErrNotFound
	}
	if sess.Status == models.StatusCompleted {
		return ErrAlreadyCompleted
	}
	return ErrExpired
}

// expiryFor computes the session expiry from the survey policy. Surveys with
// no configured window get a bounded long horizon instead of a sentinel.
func (s *Service) expiryFor(survey *models.Survey, now time.Time) time.Time {
	if survey.SaveExpirationDays > 0 {
		return now.AddDate(0, 0, survey.SaveExpirationDays)
	}
	return now.AddDate(s.cfg.NeverExpireYears, 0, 0)
}

func (s *Service) resumeURL(resumeToken string) string {
	return fmt.Sprintf("%s/resume/%s", strings.TrimRight(s.cfg.BaseURL, "/"), resumeToken)
}
