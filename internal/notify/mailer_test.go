package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/labbooking/server/internal/config"
	"github.com/labbooking/server/internal/model"
)

type fakeSender struct {
	msgs []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.msgs = append(f.msgs, m...)
	return f.err
}

func TestNewMailer_DisabledWithoutHost(t *testing.T) {
	assert.Nil(t, NewMailer(config.SMTPConfig{}))
	assert.NotNil(t, NewMailer(config.SMTPConfig{Host: "smtp.lab.test", Port: 587, From: "noreply@lab.test"}))
}

func TestPasswordChanged(t *testing.T) {
	sender := &fakeSender{}
	m := NewMailerWithSender(sender, "noreply@lab.test")
	m.now = func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }

	email, name := "asha@lab.test", "<Asha>"
	err := m.PasswordChanged(context.Background(), model.User{ID: uuid.New(), Email: &email, Name: &name})
	require.NoError(t, err)
	require.Len(t, sender.msgs, 1)

	msg := sender.msgs[0]
	assert.Equal(t, []string{"noreply@lab.test"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"asha@lab.test"}, msg.GetHeader("To"))

	var body bytes.Buffer
	_, err = msg.WriteTo(&body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "04 May 2026 10:30 UTC")
	assert.Contains(t, body.String(), "&lt;Asha&gt;")
}

func TestPasswordChanged_NoEmail(t *testing.T) {
	sender := &fakeSender{}
	m := NewMailerWithSender(sender, "noreply@lab.test")

	require.NoError(t, m.PasswordChanged(context.Background(), model.User{ID: uuid.New()}))
	assert.Empty(t, sender.msgs)
}

func TestPasswordChanged_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	m := NewMailerWithSender(sender, "noreply@lab.test")
	email := "asha@lab.test"

	err := m.PasswordChanged(context.Background(), model.User{ID: uuid.New(), Email: &email})
	assert.ErrorContains(t, err, "connection refused")
}
