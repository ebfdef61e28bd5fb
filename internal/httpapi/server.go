// Package httpapi is the thin JSON HTTP adapter over the session operation
// layer. All domain decisions live in the session package; handlers only
// decode requests, call operations and map errors to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/httpmw"
	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/session"
)

const maxBodyBytes = 1 << 20

// Server exposes the save-and-resume operations over HTTP.
type Server struct {
	svc *session.Service
}

// NewServer creates the HTTP adapter over the given operation layer.
func NewServer(svc *session.Service) *Server {
	return &Server{svc: svc}
}

// Handler returns the route table for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/surveys/{surveyID}/save", s.handleSave)
	mux.HandleFunc("POST /v1/surveys/{surveyID}/resume-code", s.handleResumeCode)
	mux.HandleFunc("GET /v1/resume/{token}", s.handleResume)
	mux.HandleFunc("POST /v1/resume/{token}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/admin/sweep", s.handleSweep)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saveRequest struct {
	Answers          map[string]json.RawMessage `json:"answers"`
	CurrentPageIndex int                        `json:"currentPageIndex"`
	LastQuestionID   *string                    `json:"lastQuestionId,omitempty"`
	Email            string                     `json:"email,omitempty"`
	Name             string                     `json:"name,omitempty"`
	ResumeToken      string                     `json:"resumeToken,omitempty"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := parseSurveyID(w, r)
	if !ok {
		return
	}

	var req saveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	audit := httpmw.FromContext(r.Context())

	result, err := s.svc.Save(r.Context(), &session.SaveInput{
		SurveyID:         surveyID,
		Answers:          req.Answers,
		CurrentPageIndex: req.CurrentPageIndex,
		LastQuestionID:   req.LastQuestionID,
		Email:            req.Email,
		Name:             req.Name,
		ResumeToken:      req.ResumeToken,
		IPAddress:        audit.IPAddress,
		UserAgent:        audit.UserAgent,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.ResumeByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type resumeCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleResumeCode(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := parseSurveyID(w, r)
	if !ok {
		return
	}

	var req resumeCodeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.svc.ResumeByCode(r.Context(), surveyID, req.Code)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	Answers map[string]models.AnswerInput `json:"answers"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.svc.Complete(r.Context(), r.PathValue("token"), req.Answers)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.SweepExpired(r.Context())
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseSurveyID reads the surveyID path value. An unparseable ID reports the
// same not found error as an unknown survey.
func parseSurveyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	surveyID, err := uuid.Parse(r.PathValue("surveyID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", session.ErrNotFound.Error())
		return uuid.Nil, false
	}
	return surveyID, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

// writeOperationError maps operation layer errors onto HTTP status codes.
func writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrFeatureDisabled):
		writeError(w, http.StatusForbidden, "feature_disabled", err.Error())
	case errors.Is(err, session.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, "email_required", err.Error())
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, session.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error())
	default:
		log.Error().Err(err).Msg("Operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
