package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/notify"
	"github.com/wolfeidau/surveysave/internal/session"
	"github.com/wolfeidau/surveysave/internal/store/memory"
)

func newTestServer(t *testing.T) (http.Handler, *models.Survey) {
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
	emitter := notify.NewEmitter(notify.NewLogDelivery())

	svc, err := session.NewService(session.Config{
		BaseURL: "https://surveys.example.com",
	}, sessions, surveys, responses, emitter)
	require.NoError(t, err)

	return NewServer(svc).Handler(), survey
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSaveResumeCompleteFlow(t *testing.T) {
	handler, survey := newTestServer(t)

	// save progress part way through
	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/surveys/%s/save", survey.ID), map[string]any{
		"answers":          map[string]any{"q1": "blue"},
		"currentPageIndex": 1,
		"email":            "pat@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var saved struct {
		ResumeToken string `json:"resumeToken"`
		ResumeCode  string `json:"resumeCode"`
		ResumeURL   string `json:"resumeUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.NotEmpty(t, saved.ResumeToken)
	require.Len(t, saved.ResumeCode, 6)
	require.Contains(t, saved.ResumeURL, saved.ResumeToken)

	// resume by token returns the saved state
	rec = doJSON(t, handler, http.MethodGet, "/v1/resume/"+saved.ResumeToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed struct {
		Answers          map[string]json.RawMessage `json:"answers"`
		CurrentPageIndex int                        `json:"currentPageIndex"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resumed))
	require.Equal(t, 1, resumed.CurrentPageIndex)
	require.JSONEq(t, `"blue"`, string(resumed.Answers["q1"]))

	// resume by code resolves to the same token
	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/surveys/%s/resume-code", survey.ID), map[string]string{
		"code": saved.ResumeCode,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var byCode struct {
		ResumeToken string `json:"resumeToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byCode))
	require.Equal(t, saved.ResumeToken, byCode.ResumeToken)

	// complete converts the session
	text := "blue"
	rec = doJSON(t, handler, http.MethodPost, "/v1/resume/"+saved.ResumeToken+"/complete", map[string]any{
		"answers": map[string]models.AnswerInput{
			"q1": {TextValue: &text},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var completed struct {
		ResponseID uuid.UUID `json:"responseId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.NotEqual(t, uuid.Nil, completed.ResponseID)

	// the session is now terminal
	rec = doJSON(t, handler, http.MethodGet, "/v1/resume/"+saved.ResumeToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestErrorStatusCodes(t *testing.T) {
	handler, survey := newTestServer(t)

	assertions := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown token",
			method: http.MethodGet,
			path:   "/v1/resume/nosuchtoken",
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unknown survey",
			method: http.MethodPost,
			path:   fmt.Sprintf("/v1/surveys/%s/save", uuid.Must(uuid.NewV7())),
			body:   map[string]any{"answers": map[string]any{}},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "malformed survey id",
			method: http.MethodPost,
			path:   "/v1/surveys/not-a-uuid/save",
			body:   map[string]any{"answers": map[string]any{}},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unknown code",
			method: http.MethodPost,
			path:   fmt.Sprintf("/v1/surveys/%s/resume-code", survey.ID),
			body:   map[string]string{"code": "ZZZZZZ"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}

	for _, tt := range assertions {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code)

			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.code, body.Error)
		})
	}
}

func TestSaveFeatureDisabled(t *testing.T) {
	handler, _ := newTestServer(t)

	disabled := &models.Survey{
		ID:    uuid.Must(uuid.NewV7()),
		Title: "No Saving Here",
	}

	// a second server with the disabled survey keeps the helper simple
	sessions := memory.NewSessionStore()
	surveys := memory.NewSurveyStore()
	surveys.Put(disabled)
	responses := memory.NewResponseStore(sessions)

	svc, err := session.NewService(session.Config{
		BaseURL: "https://surveys.example.com",
	}, sessions, surveys, responses, notify.NewEmitter(notify.NewLogDelivery()))
	require.NoError(t, err)

	handler = NewServer(svc).Handler()

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/surveys/%s/save", disabled.ID), map[string]any{
		"answers": map[string]any{"q1": "blue"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	handler, survey := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/surveys/%s/save", survey.ID), bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSweep(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/v1/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"expiredCount":0,"deletedCount":0}`, rec.Body.String())
}
