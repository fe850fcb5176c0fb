package notify

import (
	"context"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
)

// LogSender writes emails to the log instead of delivering them. It is the
// development default.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs email at info level.
func (s *LogSender) Send(_ context.Context, email Email) error {
	s.log.Info("email",
		"kind", email.Kind,
		"to", email.To,
		"subject", email.Subject,
		"session_id", email.SessionID,
		"user_id", email.UserID,
		"body", email.Body,
	)
	return nil
}
