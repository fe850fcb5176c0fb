// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
//
// BookingService is the booking coordinator: it moves a booker from an
// unverified request to a confirmed registration and keeps the session
// free-seat counter consistent with the registrations it holds.
package service

import (
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/blackboards/internal/metrics"
)

// Option configures a BookingService.
type Option func(*BookingService)

// WithTokenSource replaces the crypto/rand token source.
func WithTokenSource(src TokenSource) Option {
	return func(s *BookingService) { s.newToken = src }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BookingService) { s.metrics = m }
}

// endSpan records err on span, if any.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeLabel(err))
	}
	span.End()
}
