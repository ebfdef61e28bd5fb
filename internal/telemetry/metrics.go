package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/wolfeidau/surveysave"

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle
	SessionsCreatedTotal   metric.Int64Counter
	SessionsUpdatedTotal   metric.Int64Counter
	SessionsResumedTotal   metric.Int64Counter
	SessionsCompletedTotal metric.Int64Counter
	SessionsExpiredTotal   metric.Int64Counter
	SessionsPurgedTotal    metric.Int64Counter

	// Resume code generation
	CodeCollisionsTotal metric.Int64Counter

	// Notification delivery
	NotificationsSentTotal   metric.Int64Counter
	NotificationsFailedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"surveysave.sessions.created.total",
		metric.WithDescription("Total number of partial sessions created"),
		metric.WithUnit("{session}"),
	)
	m.SessionsUpdatedTotal, _ = meter.Int64Counter(
		"surveysave.sessions.updated.total",
		metric.WithDescription("Total number of saves onto existing sessions"),
		metric.WithUnit("{session}"),
	)
	m.SessionsResumedTotal, _ = meter.Int64Counter(
		"surveysave.sessions.resumed.total",
		metric.WithDescription("Total number of successful resumes"),
		metric.WithUnit("{session}"),
	)
	m.SessionsCompletedTotal, _ = meter.Int64Counter(
		"surveysave.sessions.completed.total",
		metric.WithDescription("Total number of sessions converted to responses"),
		metric.WithUnit("{session}"),
	)
	m.SessionsExpiredTotal, _ = meter.Int64Counter(
		"surveysave.sessions.expired.total",
		metric.WithDescription("Total number of sessions transitioned to EXPIRED"),
		metric.WithUnit("{session}"),
	)
	m.SessionsPurgedTotal, _ = meter.Int64Counter(
		"surveysave.sessions.purged.total",
		metric.WithDescription("Total number of expired sessions permanently deleted"),
		metric.WithUnit("{session}"),
	)
	m.CodeCollisionsTotal, _ = meter.Int64Counter(
		"surveysave.resume_code.collisions.total",
		metric.WithDescription("Total number of resume code generation retries after collision"),
		metric.WithUnit("{retry}"),
	)
	m.NotificationsSentTotal, _ = meter.Int64Counter(
		"surveysave.notifications.sent.total",
		metric.WithDescription("Total number of resume notifications delivered"),
		metric.WithUnit("{notification}"),
	)
	m.NotificationsFailedTotal, _ = meter.Int64Counter(
		"surveysave.notifications.failed.total",
		metric.WithDescription("Total number of resume notifications that failed delivery"),
		metric.WithUnit("{notification}"),
	)

	return m
}
