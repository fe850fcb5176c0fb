package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string // bare address or "Name <address>"
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	from     *mail.Address
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
	newID    func() ulid.ULID
}

// NewSMTPSender builds an SMTPSender. Authentication is only attempted when
// a username is configured.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse smtp from address: %w", err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse smtp address: %w", err)
		}
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}

	entropy := ulid.Monotonic(rand.Reader, 0)
	return &SMTPSender{
		cfg:      cfg,
		from:     from,
		auth:     auth,
		sendMail: smtp.SendMail,
		now:      time.Now,
		newID: func() ulid.ULID {
			return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
		},
	}, nil
}

// Send delivers email. net/smtp does not take a context, so ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := s.buildMessage(email)
	if err := s.sendMail(s.cfg.Addr, s.auth, s.from.Address, []string{email.To}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", email.To, err)
	}
	return nil
}

// buildMessage renders an RFC 5322 message with CRLF line endings.
func (s *SMTPSender) buildMessage(email Email) []byte {
	domain := "localhost"
	if at := strings.LastIndex(s.from.Address, "@"); at >= 0 {
		domain = s.from.Address[at+1:]
	}

	var buf bytes.Buffer
	writeHeader := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	writeHeader("From", s.from.String())
	writeHeader("To", email.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", email.Subject))
	writeHeader("Date", s.now().UTC().Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+s.newID().String()+"@"+domain+">")
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=utf-8")
	writeHeader("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return buf.Bytes()
}
