package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// ResponseStore implements store.ResponseStore using in-memory maps. It holds
// a reference to the session store so the completion commit can flip the
// session state under the same critical section as the response insert.
type ResponseStore struct {
	mu        sync.RWMutex
	responses map[uuid.UUID]*models.Response
	answers   map[uuid.UUID][]*models.Answer
	sessions  *SessionStore
}

// NewResponseStore creates a new in-memory response store bound to the given
// session store.
func NewResponseStore(sessions *SessionStore) *ResponseStore {
	return &ResponseStore{
		responses: make(map[uuid.UUID]*models.Response),
		answers:   make(map[uuid.UUID][]*models.Answer),
		sessions:  sessions,
	}
}

// CommitSession atomically persists the response with its answers and marks
// the originating session COMPLETED. Lock order is sessions then responses;
// this is the only code path taking both.
func (r *ResponseStore) CommitSession(ctx context.Context, session *models.PartialSession, resp *models.Response, answers []*models.Answer) error {
	r.sessions.mu.Lock()
	defer r.sessions.mu.Unlock()

	current, ok := r.sessions.sessions[session.ID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if current.Status != models.StatusInProgress {
		return store.ErrSessionTerminal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses[resp.ID] = cloneResponse(resp)
	cloned := make([]*models.Answer, 0, len(answers))
	for _, answer := range answers {
		cloned = append(cloned, cloneAnswer(answer))
	}
	r.answers[resp.ID] = cloned

	current.Status = models.StatusCompleted
	responseID := resp.ID
	current.ConvertedToResponseID = &responseID

	log.Info().
		Str("session_id", session.ID.String()).
		Str("response_id", resp.ID.String()).
		Int("answer_count", len(answers)).
		Msg("Converted partial session to response")

	return nil
}

// GetResponse returns a stored response and its answers.
func (r *ResponseStore) GetResponse(responseID uuid.UUID) (*models.Response, []*models.Answer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp, ok := r.responses[responseID]
	if !ok {
		return nil, nil, false
	}

	answers := make([]*models.Answer, 0, len(r.answers[responseID]))
	for _, answer := range r.answers[responseID] {
		answers = append(answers, cloneAnswer(answer))
	}
	return cloneResponse(resp), answers, true
}

// Len returns the number of stored responses.
func (r *ResponseStore) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.responses)
}

func cloneResponse(resp *models.Response) *models.Response {
	out := *resp
	out.Metadata = cloneMetadata(resp.Metadata)
	return &out
}

func cloneAnswer(answer *models.Answer) *models.Answer {
	out := *answer
	out.OptionID = clonePtr(answer.OptionID)
	out.TextValue = clonePtr(answer.TextValue)
	out.NumberValue = clonePtr(answer.NumberValue)
	out.DateValue = clonePtr(answer.DateValue)
	out.FileURL = clonePtr(answer.FileURL)
	out.Metadata = cloneMetadata(answer.Metadata)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	maps.Copy(out, metadata)
	return out
}
