package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// StartTimeLayout is how session start times appear in emails.
const StartTimeLayout = "Monday 2 January 2006, 15:04 MST"

type templateData struct {
	Name         string
	SessionTitle string
	StartTime    string
	ConfirmURL   string
}

// Renderer turns bookings into subject and body text.
type Renderer struct {
	baseURL   string
	templates *template.Template
}

// NewRenderer parses the embedded templates. baseURL is the public origin
// used to build confirmation links.
func NewRenderer(baseURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: tmpl,
	}, nil
}

// ConfirmURL is the link that redeems token.
func (r *Renderer) ConfirmURL(token int64) string {
	return r.baseURL + "/sessions/confirm/" + strconv.FormatInt(token, 10)
}

// Verification renders the email that asks a new booker to confirm their address.
func (r *Renderer) Verification(req model.PendingRequest, session model.Session) (Email, error) {
	body, err := r.execute("verification.tmpl", templateData{
		Name:         req.Name,
		SessionTitle: session.Title,
		StartTime:    session.StartTime.UTC().Format(StartTimeLayout),
		ConfirmURL:   r.ConfirmURL(req.Token),
	})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:      KindVerification,
		To:        req.Email,
		Subject:   "Confirm your booking for " + session.Title,
		Body:      body,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}, nil
}

// Confirmation renders the email sent once a seat is held.
func (r *Renderer) Confirmation(to string, reg model.Registration, session model.Session) (Email, error) {
	body, err := r.execute("confirmation.tmpl", templateData{
		Name:         reg.Name,
		SessionTitle: session.Title,
		StartTime:    session.StartTime.UTC().Format(StartTimeLayout),
	})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:      KindConfirmation,
		To:        to,
		Subject:   "You're booked onto " + session.Title,
		Body:      body,
		SessionID: reg.SessionID,
		UserID:    reg.UserID,
	}, nil
}

func (r *Renderer) execute(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return buf.String(), nil
}
