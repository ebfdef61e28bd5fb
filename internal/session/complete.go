package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
	"github.com/wolfeidau/surveysave/internal/telemetry"
)

// CompleteResult is returned by Complete.
type CompleteResult struct {
	ResponseID uuid.UUID `json:"responseId"`
}

// Complete converts a partial session into a permanent response exactly once.
// The response record, its answers and the session's transition to COMPLETED
// commit as a single atomic unit; on any failure nothing is left behind, the
// session stays IN_PROGRESS and the caller may retry the same call.
func (s *Service) Complete(ctx context.Context, resumeToken string, finalAnswers map[string]models.AnswerInput) (*CompleteResult, error) {
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

	resp := &models.Response{
		ID:          uuid.Must(uuid.NewV7()),
		SurveyID:    sess.SurveyID,
		StartedAt:   sess.StartedAt,
		CompletedAt: s.now(),
		IPAddress:   sess.IPAddress,
		UserAgent:   sess.UserAgent,
		Metadata:    responseMetadata(sess),
	}

	// Stable insert order keeps logs and batch errors reproducible.
	questionIDs := make([]string, 0, len(finalAnswers))
	for questionID := range finalAnswers {
		questionIDs = append(questionIDs, questionID)
	}
	sort.Strings(questionIDs)

	answers := make([]*models.Answer, 0, len(finalAnswers))
	for _, questionID := range questionIDs {
		in := finalAnswers[questionID]
		answers = append(answers, &models.Answer{
			ID:          uuid.Must(uuid.NewV7()),
			ResponseID:  resp.ID,
			QuestionID:  questionID,
			OptionID:    in.OptionID,
			TextValue:   in.TextValue,
			NumberValue: in.NumberValue,
			DateValue:   in.DateValue,
			FileURL:     in.FileURL,
			Metadata:    in.Metadata,
		})
	}

	if err := s.responses.CommitSession(ctx, sess, resp, answers); err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrSessionTerminal):
			return nil, s.terminalError(ctx, resumeToken)
		}
		log.Error().
			Err(err).
			Str("session_id", sess.ID.String()).
			Msg("Completion commit failed")
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	telemetry.GetMetrics().SessionsCompletedTotal.Add(ctx, 1)
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("response_id", resp.ID.String()).
		Int("answer_count", len(answers)).
		Msg("Completed session")

	return &CompleteResult{ResponseID: resp.ID}, nil
}

// responseMetadata carries the back-reference to the partial session and the
// captured respondent identity into the permanent record.
func responseMetadata(sess *models.PartialSession) map[string]string {
	metadata := map[string]string{
		"partial_session_id": sess.ID.String(),
	}
	if sess.RespondentEmail != "" {
		metadata["respondent_email"] = sess.RespondentEmail
	}
	if sess.RespondentName != "" {
		metadata["respondent_name"] = sess.RespondentName
	}
	return metadata
}
