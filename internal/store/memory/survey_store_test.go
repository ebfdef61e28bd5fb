package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

func TestSurveyStorePutGet(t *testing.T) {
	s := NewSurveyStore()

	survey := &models.Survey{
		ID:                     uuid.Must(uuid.NewV7()),
		Title:                  "Customer Feedback",
		SaveAndContinueEnabled: true,
	}
	s.Put(survey)

	got, err := s.GetSurvey(context.Background(), survey.ID)
	require.NoError(t, err)
	require.Equal(t, "Customer Feedback", got.Title)

	_, err = s.GetSurvey(context.Background(), uuid.Must(uuid.NewV7()))
	require.ErrorIs(t, err, store.ErrSurveyNotFound)
}

func TestSurveyStoreLoadFixtures(t *testing.T) {
	fixture := `surveys:
  - id: 0198fcb4-1111-7000-8000-000000000001
    title: Product Feedback
    saveAndContinueEnabled: true
    saveRequiresEmail: true
    saveExpirationDays: 14
    pages:
      - title: About You
        questions:
          - id: q1
            type: text
            label: What is your name?
  - id: 0198fcb4-1111-7000-8000-000000000002
    title: Quick Poll
`

	path := filepath.Join(t.TempDir(), "surveys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	s := NewSurveyStore()
	require.NoError(t, s.LoadFixtures(path))

	got, err := s.GetSurvey(context.Background(), uuid.MustParse("0198fcb4-1111-7000-8000-000000000001"))
	require.NoError(t, err)
	require.Equal(t, "Product Feedback", got.Title)
	require.True(t, got.SaveRequiresEmail)
	require.Equal(t, 14, got.SaveExpirationDays)
	require.Len(t, got.Pages, 1)
	require.Len(t, got.Pages[0].Questions, 1)

	poll, err := s.GetSurvey(context.Background(), uuid.MustParse("0198fcb4-1111-7000-8000-000000000002"))
	require.NoError(t, err)
	require.False(t, poll.SaveAndContinueEnabled)
}
