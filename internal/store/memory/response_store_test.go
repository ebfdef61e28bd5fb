package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/surveysave/internal/models"
)

func TestCommitSessionCopiesCallerValues(t *testing.T) {
	sessions := NewSessionStore()
	responses := NewResponseStore(sessions)
	ctx := context.Background()

	sess := newSession(uuid.Must(uuid.NewV7()), "token-1", "ABC234", time.Now().AddDate(0, 0, 14))
	require.NoError(t, sessions.Create(ctx, sess))

	text := "blue"
	resp := &models.Response{
		ID:          uuid.Must(uuid.NewV7()),
		SurveyID:    sess.SurveyID,
		StartedAt:   sess.StartedAt,
		CompletedAt: time.Now(),
		Metadata:    map[string]string{"respondent_email": "pat@example.com"},
	}
	answers := []*models.Answer{
		{
			ID:         uuid.Must(uuid.NewV7()),
			ResponseID: resp.ID,
			QuestionID: "q1",
			TextValue:  &text,
		},
	}

	require.NoError(t, responses.CommitSession(ctx, sess, resp, answers))

	// mutations after the commit must not leak into stored state
	resp.Metadata["respondent_email"] = "mallory@example.com"
	text = "red"
	answers[0].QuestionID = "q9"
	answers = answers[:0]

	stored, storedAnswers, ok := responses.GetResponse(resp.ID)
	require.True(t, ok)
	require.Equal(t, "pat@example.com", stored.Metadata["respondent_email"])
	require.Len(t, storedAnswers, 1)
	require.Equal(t, "q1", storedAnswers[0].QuestionID)
	require.Equal(t, "blue", *storedAnswers[0].TextValue)

	// reads hand back copies too
	stored.Metadata["respondent_email"] = "intruder@example.com"
	*storedAnswers[0].TextValue = "green"

	again, againAnswers, ok := responses.GetResponse(resp.ID)
	require.True(t, ok)
	require.Equal(t, "pat@example.com", again.Metadata["respondent_email"])
	require.Equal(t, "blue", *againAnswers[0].TextValue)
}
