// Package notify sends account notification emails.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/labbooking/server/internal/config"
	"github.com/labbooking/server/internal/model"
)

const passwordChangedBody = `<h3>Hi %s,</h3>
<p>The password for your lab booking account was changed.</p>
<p>Time: %s</p>
<p>If this was not you, reset your password and contact support.</p>
`

// Sender is the part of *gomail.Dialer the mailer uses
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends password change notices over SMTP
type Mailer struct {
	sender Sender
	from   string
	now    func() time.Time
}

// NewMailer returns nil when SMTP is not configured
func NewMailer(cfg config.SMTPConfig) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	return NewMailerWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password), cfg.From)
}

// NewMailerWithSender builds a mailer around an existing SMTP sender
func NewMailerWithSender(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from, now: time.Now}
}

// PasswordChanged tells the user their password was just changed
func (m *Mailer) PasswordChanged(ctx context.Context, user model.User) error {
	if user.Email == nil || *user.Email == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := "there"
	if user.Name != nil && *user.Name != "" {
		name = *user.Name
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", *user.Email)
	msg.SetHeader("Subject", "Your password was changed")
	msg.SetBody("text/html", fmt.Sprintf(passwordChangedBody,
		html.EscapeString(name), m.now().UTC().Format("02 Jan 2006 15:04 MST")))

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send password change email: %w", err)
	}
	return nil
}
