package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/model"
)

func testInvitation() *model.Invitation {
	return &model.Invitation{
		ID:          "inv-1",
		ProjectID:   "p1",
		Email:       "bob@y.com",
		Role:        model.RoleMember,
		InviterName: "Alice",
		Status:      model.InvitePending,
	}
}

func TestMailer_SendInvitation(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	m := NewMailer(MailConfig{
		Host: "smtp.example.com", Port: 587,
		Username: "mailer", Password: "pw",
		From:    "noreply@crewdeck.example.com",
		BaseURL: "https://crewdeck.example.com/",
	}, zerolog.Nop())
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	require.NoError(t, m.SendInvitation(context.Background(), testInvitation(), "Atlas"))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "noreply@crewdeck.example.com", gotFrom)
	assert.Equal(t, []string{"bob@y.com"}, gotTo)
	// both parts present, accept link built without a double slash
	assert.Contains(t, gotMsg, "text/plain")
	assert.Contains(t, gotMsg, "text/html")
	assert.Contains(t, gotMsg, "https://crewdeck.example.com/invitations/inv-1/accept")
	assert.Contains(t, gotMsg, "Alice invited you to Atlas")
}

func TestMailer_SendFailurePropagates(t *testing.T) {
	m := NewMailer(MailConfig{Host: "smtp.example.com", Port: 587}, zerolog.Nop())
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := m.SendInvitation(context.Background(), testInvitation(), "Atlas")
	require.Error(t, err)
	// the caller decides best-effort; the mailer reports honestly
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMailer_CancelledContext(t *testing.T) {
	m := NewMailer(MailConfig{Host: "smtp.example.com", Port: 587}, zerolog.Nop())
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be reached")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.SendInvitation(ctx, testInvitation(), "Atlas"))
}

type fakeSlack struct {
	texts []string
	fail  bool
}

func (f *fakeSlack) PostMessage(_ string, _ ...slack.MsgOption) (string, string, error) {
	if f.fail {
		return "", "", errors.New("channel_not_found")
	}
	f.texts = append(f.texts, "posted")
	return "C1", "1.0", nil
}

func TestOpsNotifier_Posts(t *testing.T) {
	api := &fakeSlack{}
	n := newOpsNotifierWithAPI(api, "#crewdeck-ops", zerolog.Nop())

	n.InvitationCreated("Atlas", "bob@y.com")
	n.MemberJoined("Atlas", "bob@y.com")
	n.ConflictExhausted("crewdeck-atlas-11112222")

	assert.Len(t, api.texts, 3)
}

func TestOpsNotifier_FailuresAreSwallowed(t *testing.T) {
	api := &fakeSlack{fail: true}
	n := newOpsNotifierWithAPI(api, "#crewdeck-ops", zerolog.Nop())

	// must not panic or propagate
	n.InvitationCreated("Atlas", "bob@y.com")
}

func TestOpsNotifier_DisabledWithoutToken(t *testing.T) {
	n := NewOpsNotifier("", "#crewdeck-ops", zerolog.Nop())
	n.MemberJoined("Atlas", "bob@y.com") // no-op, no client configured
}

func TestBuildMessage_Boundaries(t *testing.T) {
	m := NewMailer(MailConfig{From: "noreply@x.com"}, zerolog.Nop())
	msg := string(m.buildMessage("to@x.com", "Subject", "text body", "<p>html body</p>"))

	assert.Equal(t, 2, strings.Count(msg, "--"+mimeBoundary+"\r\n"))
	assert.Contains(t, msg, "--"+mimeBoundary+"--")
}
