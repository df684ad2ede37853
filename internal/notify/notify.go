package notify

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
)

// Sender delivers out-of-band notices (password-reset links, API-key creation
// notices). Delivery failures are the caller's problem to log, not to surface.
type Sender interface {
	Send(to, subject, body string) error
}

type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host}
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Noop swallows notices; used when SMTP is not configured and in tests.
type Noop struct{}

func (Noop) Send(string, string, string) error { return nil }
