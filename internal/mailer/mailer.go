// Package mailer sends digest emails over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const sendTimeout = 30 * time.Second

// SMTPMailer delivers one message per call through a relay. Send
// returns false on any failure; nothing escapes the per-recipient
// boundary.
type SMTPMailer struct {
	addr     string
	username string
	password string
	log      *slog.Logger
}

func NewSMTPMailer(addr string, username string, password string, log *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
	}
}

func (m *SMTPMailer) Send(
	ctx context.Context,
	to string,
	from string,
	subject string,
	text string,
	html string,
) bool {
	body, err := buildMessage(to, from, subject, text, html)
	if err != nil {
		m.log.ErrorContext(ctx, "Failed to build mail message",
			"error", err,
			"to", to)

		return false
	}

	if err = m.deliver(from, to, body); err != nil {
		m.log.ErrorContext(ctx, "Failed to send mail",
			"error", err,
			"to", to,
			"smtpAddr", m.addr)

		return false
	}

	return true
}

func (m *SMTPMailer) deliver(from string, to string, body string) error {
	c, err := smtp.Dial(m.addr)
	if err != nil {
		return fmt.Errorf("dial SMTP server: %w", err)
	}
	defer func() {
		_ = c.Close()
	}()

	c.CommandTimeout = sendTimeout
	c.SubmissionTimeout = sendTimeout

	if m.username != "" {
		if err = c.Auth(sasl.NewPlainClient("", m.username, m.password)); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err = c.SendMail(from, []string{to}, strings.NewReader(body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return c.Quit()
}

// buildMessage assembles an RFC 5322 message. With an HTML body the
// result is multipart/alternative; plain-format recipients get a bare
// text/plain message.
func buildMessage(to string, from string, subject string, text string, html string) (string, error) {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if html == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		b.WriteString("\r\n")
		b.WriteString(text)

		return b.String(), nil
	}

	var parts strings.Builder
	w := multipart.NewWriter(&parts)

	b.WriteString(`Content-Type: multipart/alternative; boundary="` + w.Boundary() + `"` + "\r\n\r\n")

	textPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return "", fmt.Errorf("create text part: %w", err)
	}
	if _, err = textPart.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("write text part: %w", err)
	}

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return "", fmt.Errorf("create HTML part: %w", err)
	}
	if _, err = htmlPart.Write([]byte(html)); err != nil {
		return "", fmt.Errorf("write HTML part: %w", err)
	}

	if err = w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	b.WriteString(parts.String())

	return b.String(), nil
}
