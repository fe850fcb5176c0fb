// Package notify renders and delivers booking emails.
//
// The booking services talk to a Notifier. The concrete Dispatcher renders
// each email with a Renderer and hands it to a Sender, which either logs it,
// delivers it over SMTP, or queues it on Kafka for the mailer process.
package notify

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
)

// Kind identifies which email template produced a message.
type Kind string

const (
	KindVerification Kind = "verification"
	KindConfirmation Kind = "confirmation"
)

// Notifier is the outbound boundary of the booking coordinator.
type Notifier interface {
	SendVerification(ctx context.Context, req model.PendingRequest, session model.Session) error
	SendConfirmation(ctx context.Context, to string, reg model.Registration, session model.Session) error
}

// Email is a fully rendered message. It is also the payload queued on Kafka.
type Email struct {
	Kind      Kind   `json:"kind"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	SessionID int64  `json:"session_id"`
	UserID    int64  `json:"user_id"`
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Dispatcher implements Notifier on top of a Renderer and a Sender.
type Dispatcher struct {
	renderer *Renderer
	sender   Sender
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(renderer *Renderer, sender Sender) *Dispatcher {
	return &Dispatcher{renderer: renderer, sender: sender}
}

// SendVerification emails the confirmation link for a pending request.
func (d *Dispatcher) SendVerification(ctx context.Context, req model.PendingRequest, session model.Session) error {
	email, err := d.renderer.Verification(req, session)
	if err != nil {
		return fmt.Errorf("render verification: %w", err)
	}
	return d.sender.Send(ctx, email)
}

// SendConfirmation emails a booking confirmation to the given address.
func (d *Dispatcher) SendConfirmation(ctx context.Context, to string, reg model.Registration, session model.Session) error {
	email, err := d.renderer.Confirmation(to, reg, session)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	return d.sender.Send(ctx, email)
}

var _ Notifier = (*Dispatcher)(nil)
