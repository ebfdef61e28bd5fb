package session

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/notify"
	"github.com/wolfeidau/surveysave/internal/store"
	"github.com/wolfeidau/surveysave/internal/store/memory"
)

// metricReader is installed before any test runs so counter increments are
// observable in assertions.
var metricReader = sdkmetric.NewManualReader()

func TestMain(m *testing.M) {
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader)))
	os.Exit(m.Run())
}

func counterValue(t *testing.T, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

type fixture struct {
	svc       *Service
	sessions  *memory.SessionStore
	surveys   *memory.SurveyStore
	responses *memory.ResponseStore
	delivery  *captureDelivery
	survey    *models.Survey
}

// captureDelivery records notifications for assertions.
type captureDelivery struct {
	mu   sync.Mutex
	sent []*notify.Notification
	err  error
}

func (d *captureDelivery) Send(_ context.Context, n *notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

func (d *captureDelivery) notifications() []*notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*notify.Notification(nil), d.sent...)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	survey := &models.Survey{
		ID:                     uuid.Must(uuid.NewV7()),
		Title:                  "Customer Feedback",
		SaveAndContinueEnabled: true,
		SaveExpirationDays:     14,
	}

	sessions := memory.NewSessionStore()
	surveys := memory.NewSurveyStore()
	surveys.Put(survey)
	responses := memory.NewResponseStore(sessions)
	delivery := &captureDelivery{}

	svc, err := NewService(Config{
		BaseURL: "https://surveys.example.com",
	}, sessions, surveys, responses, notify.NewEmitter(delivery), opts...)
	require.NoError(t, err)

	return &fixture{
		svc:       svc,
		sessions:  sessions,
		surveys:   surveys,
		responses: responses,
		delivery:  delivery,
		survey:    survey,
	}
}

func rawAnswers(t *testing.T, in map[string]any) map[string]json.RawMessage {
	t.Helper()

	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = data
	}
	return out
}

func TestSaveCreatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.ResumeToken)
	require.Len(t, result.ResumeCode, 6)
	require.Equal(t, "https://surveys.example.com/resume/"+result.ResumeToken, result.ResumeURL)
	require.Equal(t, 1, f.sessions.Len())

	// expiry follows the survey policy of 14 days
	require.WithinDuration(t, time.Now().AddDate(0, 0, 14), result.ExpiresAt, time.Minute)
}

func TestSaveUpdatesExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	updated, err := f.svc.Save(ctx, &SaveInput{
		SurveyID:         f.survey.ID,
		ResumeToken:      created.ResumeToken,
		Answers:          rawAnswers(t, map[string]any{"q1": "green", "q2": float64(7)}),
		CurrentPageIndex: 2,
	})
	require.NoError(t, err)

	// same identifiers, no duplicate session
	require.Equal(t, created.ResumeToken, updated.ResumeToken)
	require.Equal(t, created.ResumeCode, updated.ResumeCode)
	require.Equal(t, 1, f.sessions.Len())

	resumed, err := f.svc.ResumeByToken(ctx, created.ResumeToken)
	require.NoError(t, err)
	require.Equal(t, 2, resumed.CurrentPageIndex)
	require.JSONEq(t, `"green"`, string(resumed.Answers["q1"]))
}

func TestSaveFeatureDisabled(t *testing.T) {
	f := newFixture(t)

	disabled := &models.Survey{ID: uuid.Must(uuid.NewV7()), Title: "No Saving"}
	f.surveys.Put(disabled)

	_, err := f.svc.Save(context.Background(), &SaveInput{
		SurveyID: disabled.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestSaveUnknownSurvey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Save(context.Background(), &SaveInput{
		SurveyID: uuid.Must(uuid.NewV7()),
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEmailRequiredOnCreateOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gated := &models.Survey{
		ID:                     uuid.Must(uuid.NewV7()),
		Title:                  "Gated",
		SaveAndContinueEnabled: true,
		SaveRequiresEmail:      true,
		SaveExpirationDays:     7,
	}
	f.surveys.Put(gated)

	_, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: gated.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.ErrorIs(t, err, ErrEmailRequired)

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: gated.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
		Email:    "pat@example.com",
	})
	require.NoError(t, err)

	// updates do not re-require the email
	_, err = f.svc.Save(ctx, &SaveInput{
		SurveyID:    gated.ID,
		ResumeToken: created.ResumeToken,
		Answers:     rawAnswers(t, map[string]any{"q1": "green"}),
	})
	require.NoError(t, err)
}

func TestResumeByTokenUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResumeByToken(context.Background(), "nosuchtoken")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResumeExpiresLazily(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	f := newFixture(t, WithClock(clock))
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	// advance past the 14 day window
	mu.Lock()
	current = current.AddDate(0, 0, 15)
	mu.Unlock()

	_, err = f.svc.ResumeByToken(ctx, created.ResumeToken)
	require.ErrorIs(t, err, ErrExpired)

	// the transition stuck, so the second attempt reports the same error
	_, err = f.svc.ResumeByToken(ctx, created.ResumeToken)
	require.ErrorIs(t, err, ErrExpired)

	// a save against the expired session is also rejected
	_, err = f.svc.Save(ctx, &SaveInput{
		SurveyID:    f.survey.ID,
		ResumeToken: created.ResumeToken,
		Answers:     rawAnswers(t, map[string]any{"q1": "green"}),
	})
	require.ErrorIs(t, err, ErrExpired)
}

// racedExpiryStore simulates a sweeper expiring the session between the
// service's read and its MarkExpired.
type racedExpiryStore struct {
	store.SessionStore
}

func (racedExpiryStore) MarkExpired(context.Context, uuid.UUID) error {
	return store.ErrSessionTerminal
}

func TestLazyExpiryCountsOnlyOwnTransitions(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	f := newFixture(t, WithClock(clock))
	ctx := context.Background()

	raced, err := NewService(Config{
		BaseURL: "https://surveys.example.com",
	}, racedExpiryStore{f.sessions}, f.surveys, f.responses, notify.NewEmitter(f.delivery), WithClock(clock))
	require.NoError(t, err)

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	mu.Lock()
	current = current.AddDate(0, 0, 15)
	mu.Unlock()

	const name = "surveysave.sessions.expired.total"

	// losing the race still reports expiry but must not count a transition
	before := counterValue(t, name)
	_, err = raced.ResumeByToken(ctx, created.ResumeToken)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, before, counterValue(t, name))

	// the session is still IN_PROGRESS in the store, so the real transition
	// counts exactly once
	_, err = f.svc.ResumeByToken(ctx, created.ResumeToken)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, before+1, counterValue(t, name))
}

func TestResumeByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		result, err := f.svc.ResumeByCode(ctx, f.survey.ID, created.ResumeCode)
		require.NoError(t, err)
		require.Equal(t, created.ResumeToken, result.ResumeToken)
	})

	t.Run("case insensitive with whitespace", func(t *testing.T) {
		result, err := f.svc.ResumeByCode(ctx, f.survey.ID, "  "+strings.ToLower(created.ResumeCode)+" ")
		require.NoError(t, err)
		require.Equal(t, created.ResumeToken, result.ResumeToken)
	})

	t.Run("wrong survey", func(t *testing.T) {
		_, err := f.svc.ResumeByCode(ctx, uuid.Must(uuid.NewV7()), created.ResumeCode)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.svc.ResumeByCode(ctx, f.survey.ID, "ZZZZZZ")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := f.svc.ResumeByCode(ctx, f.survey.ID, "   ")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResumeByCodeUniformMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, created.ResumeToken, nil)
	require.NoError(t, err)

	// a completed session's code misses exactly like an unknown one
	_, err = f.svc.ResumeByCode(ctx, f.survey.ID, created.ResumeCode)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationEmittedOnCreateWithEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
		Email:    "pat@example.com",
		Name:     "Pat",
	})
	require.NoError(t, err)

	// updates never re-notify
	_, err = f.svc.Save(ctx, &SaveInput{
		SurveyID:    f.survey.ID,
		ResumeToken: created.ResumeToken,
		Answers:     rawAnswers(t, map[string]any{"q1": "green"}),
	})
	require.NoError(t, err)

	f.svc.emitter.Wait()

	sent := f.delivery.notifications()
	require.Len(t, sent, 1)
	require.Equal(t, "pat@example.com", sent[0].Recipient)
	require.Equal(t, "Pat", sent[0].GreetingName)
	require.Equal(t, created.ResumeCode, sent[0].ResumeCode)
	require.Equal(t, created.ResumeURL, sent[0].ResumeURL)
	require.Equal(t, "Resume your survey: Customer Feedback", sent[0].Subject)
}

func TestNotificationSkippedWithoutEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Save(context.Background(), &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	f.svc.emitter.Wait()
	require.Empty(t, f.delivery.notifications())
}

func TestCodeGenerationRetriesThenExhausts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &SaveInput{
		SurveyID: f.survey.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	t.Run("retries past a collision", func(t *testing.T) {
		calls := 0
		f.svc.newCode = func() (string, error) {
			calls++
			if calls == 1 {
				return created.ResumeCode, nil
			}
			return "AAAAAA", nil
		}

		result, err := f.svc.Save(ctx, &SaveInput{
			SurveyID: f.survey.ID,
			Answers:  rawAnswers(t, map[string]any{"q1": "red"}),
		})
		require.NoError(t, err)
		require.Equal(t, "AAAAAA", result.ResumeCode)
		require.Equal(t, 2, calls)
	})

	t.Run("exhausts after bounded attempts", func(t *testing.T) {
		f.svc.newCode = func() (string, error) {
			return created.ResumeCode, nil
		}

		_, err := f.svc.Save(ctx, &SaveInput{
			SurveyID: f.survey.ID,
			Answers:  rawAnswers(t, map[string]any{"q1": "red"}),
		})
		require.ErrorIs(t, err, ErrGenerationExhausted)
	})
}

func TestConfigValidation(t *testing.T) {
	_, err := NewService(Config{}, memory.NewSessionStore(), memory.NewSurveyStore(), nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "base URL")
}

func TestExpiryForNeverExpiringSurvey(t *testing.T) {
	f := newFixture(t)

	open := &models.Survey{
		ID:                     uuid.Must(uuid.NewV7()),
		Title:                  "Open Ended",
		SaveAndContinueEnabled: true,
	}
	f.surveys.Put(open)

	result, err := f.svc.Save(context.Background(), &SaveInput{
		SurveyID: open.ID,
		Answers:  rawAnswers(t, map[string]any{"q1": "blue"}),
	})
	require.NoError(t, err)

	require.WithinDuration(t, time.Now().AddDate(10, 0, 0), result.ExpiresAt, time.Hour)
}
