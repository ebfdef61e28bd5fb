package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/store"
)

// SurveyStore implements store.SurveyStore using in-memory maps. Definitions
// are registered with Put or loaded from a YAML fixture file; survey
// authoring itself lives outside this subsystem.
type SurveyStore struct {
	mu      sync.RWMutex
	surveys map[uuid.UUID]*models.Survey
}

// NewSurveyStore creates a new in-memory survey store.
func NewSurveyStore() *SurveyStore {
	return &SurveyStore{
		surveys: make(map[uuid.UUID]*models.Survey),
	}
}

// GetSurvey returns the survey definition for the given id.
func (s *SurveyStore) GetSurvey(ctx context.Context, surveyID uuid.UUID) (*models.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	survey, ok := s.surveys[surveyID]
	if !ok {
		return nil, store.ErrSurveyNotFound
	}
	return survey, nil
}

// Put registers a survey definition. Definitions are treated as immutable
// once registered.
func (s *SurveyStore) Put(survey *models.Survey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[survey.ID] = survey
}

// surveyFixture mirrors models.Survey with a string id, since the YAML
// decoder has no text-unmarshal path for uuid.UUID.
type surveyFixture struct {
	ID                     string              `yaml:"id"`
	Title                  string              `yaml:"title"`
	SaveAndContinueEnabled bool                `yaml:"saveAndContinueEnabled"`
	SaveRequiresEmail      bool                `yaml:"saveRequiresEmail"`
	SaveExpirationDays     int                 `yaml:"saveExpirationDays"`
	Pages                  []models.SurveyPage `yaml:"pages"`
}

type fixtureFile struct {
	Surveys []surveyFixture `yaml:"surveys"`
}

// LoadFixtures reads survey definitions from a YAML file and registers them.
func (s *SurveyStore) LoadFixtures(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read surveys file: %w", err)
	}

	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse surveys file: %w", err)
	}

	for _, fx := range f.Surveys {
		id, err := uuid.Parse(fx.ID)
		if err != nil {
			return fmt.Errorf("survey %q has an invalid id: %w", fx.Title, err)
		}
		s.Put(&models.Survey{
			ID:                     id,
			Title:                  fx.Title,
			SaveAndContinueEnabled: fx.SaveAndContinueEnabled,
			SaveRequiresEmail:      fx.SaveRequiresEmail,
			SaveExpirationDays:     fx.SaveExpirationDays,
			Pages:                  fx.Pages,
		})
	}

	log.Info().
		Int("count", len(f.Surveys)).
		Str("path", path).
		Msg("Loaded survey fixtures")

	return nil
}
