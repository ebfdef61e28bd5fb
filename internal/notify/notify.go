// Package notify builds resume notification payloads and hands them to an
// external delivery collaborator. Delivery is best-effort: failures are
// logged and counted, never propagated to the save path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/surveysave/internal/models"
	"github.com/wolfeidau/surveysave/internal/telemetry"
)

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	GreetingName string    `json:"greetingName,omitempty"`
	ResumeURL    string    `json:"resumeUrl"`
	ResumeCode   string    `json:"resumeCode"`
	ExpiresAt    time.Time `json:"expiresAt"`

	// ExpiresOn is the human-readable rendering of ExpiresAt used in the
	// message body.
	ExpiresOn string `json:"expiresOn"`
}

// Delivery performs out-of-band delivery of a notification. Implementations
// live outside this subsystem (email gateway, webhook, queue).
type Delivery interface {
	Send(ctx context.Context, n *Notification) error
}

// Emitter dispatches resume notifications asynchronously with bounded retry.
type Emitter struct {
	delivery Delivery
	timeout  time.Duration
	maxTries uint
	wg       sync.WaitGroup
}

// NewEmitter creates an emitter bound to the given delivery collaborator.
func NewEmitter(delivery Delivery) *Emitter {
	return &Emitter{
		delivery: delivery,
		timeout:  30 * time.Second,
		maxTries: 3,
	}
}

// EmitResumeLink builds the notification for a freshly created session and
// dispatches it without blocking the caller. Delivery errors are swallowed
// here; the save that triggered the notification has already succeeded.
func (e *Emitter) EmitResumeLink(survey *models.Survey, session *models.PartialSession, resumeURL string) {
	if e == nil || e.delivery == nil || session.RespondentEmail == "" {
		return
	}

	n := buildNotification(survey, session, resumeURL)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, e.delivery.Send(ctx, n)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(e.maxTries),
		)
		if err != nil {
			telemetry.GetMetrics().NotificationsFailedTotal.Add(ctx, 1)
			log.Error().
				Err(err).
				Str("recipient", n.Recipient).
				Str("session_id", session.ID.String()).
				Msg("Failed to deliver resume notification")
			return
		}

		telemetry.GetMetrics().NotificationsSentTotal.Add(ctx, 1)
		log.Debug().
			Str("recipient", n.Recipient).
			Str("session_id", session.ID.String()).
			Msg("Delivered resume notification")
	}()
}

// Wait blocks until all in-flight deliveries have finished. Called on
// graceful shutdown and by tests.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

func buildNotification(survey *models.Survey, session *models.PartialSession, resumeURL string) *Notification {
	return &Notification{
		Recipient:    session.RespondentEmail,
		Subject:      fmt.Sprintf("Resume your survey: %s", survey.Title),
		GreetingName: session.RespondentName,
		ResumeURL:    resumeURL,
		ResumeCode:   session.ResumeCode,
		ExpiresAt:    session.ExpiresAt,
		ExpiresOn:    session.ExpiresAt.Format("January 2, 2006"),
	}
}
