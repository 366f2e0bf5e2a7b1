// Package notify delivers the outbound side channels: invitation email to
// invitees and operational notices to the team Slack channel. Both are
// best-effort collaborators; callers log failures and move on.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck/internal/model"
)

// MailConfig configures the SMTP mailer.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// BaseURL is the public application URL used to build accept links.
	BaseURL string
}

// Mailer sends invitation email over SMTP.
type Mailer struct {
	cfg    MailConfig
	logger zerolog.Logger
	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg MailConfig, logger zerolog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logger.With().Str("component", "mailer").Logger(),
		send:   smtp.SendMail,
	}
}

// SendInvitation emails the invitee a link to accept. The message carries
// both an HTML and a plain-text part.
func (m *Mailer) SendInvitation(ctx context.Context, inv *model.Invitation, projectName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	acceptURL := fmt.Sprintf("%s/invitations/%s/accept", strings.TrimRight(m.cfg.BaseURL, "/"), inv.ID)
	subject := fmt.Sprintf("%s invited you to %s", inv.InviterName, projectName)

	text := fmt.Sprintf(
		"%s invited you to join the project %q as %s.\r\n\r\nAccept the invitation: %s\r\n",
		inv.InviterName, projectName, inv.Role, acceptURL)
	html := fmt.Sprintf(
		`<p><strong>%s</strong> invited you to join the project <strong>%s</strong> as %s.</p>`+
			`<p><a href=%q>Accept the invitation</a></p>`,
		inv.InviterName, projectName, inv.Role, acceptURL)

	msg := m.buildMessage(inv.Email, subject, text, html)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{inv.Email}, msg); err != nil {
		return fmt.Errorf("failed to send invitation email: %w", err)
	}

	m.logger.Info().Str("email", inv.Email).Str("invitation_id", inv.ID).Msg("invitation email sent")
	return nil
}

const mimeBoundary = "crewdeck-alt"

func (m *Mailer) buildMessage(to, subject, text, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", mimeBoundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return []byte(b.String())
}
