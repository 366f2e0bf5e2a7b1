package notify

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// slackAPI abstracts the Slack client for testing.
type slackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// OpsNotifier posts operational notices (invitations issued, members
// joined, write conflicts exhausted) to a Slack channel. Every post is
// best-effort.
type OpsNotifier struct {
	api     slackAPI
	channel string
	logger  zerolog.Logger
}

// NewOpsNotifier builds a notifier for the given bot token and channel.
// An empty token disables posting entirely.
func NewOpsNotifier(botToken, channel string, logger zerolog.Logger) *OpsNotifier {
	n := &OpsNotifier{
		channel: channel,
		logger:  logger.With().Str("component", "ops-notify").Logger(),
	}
	if botToken != "" {
		n.api = slack.New(botToken)
	}
	return n
}

func newOpsNotifierWithAPI(api slackAPI, channel string, logger zerolog.Logger) *OpsNotifier {
	return &OpsNotifier{api: api, channel: channel, logger: logger}
}

// post sends one message and swallows failures with a log line.
func (n *OpsNotifier) post(text string) {
	if n.api == nil || n.channel == "" {
		return
	}
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn().Err(err).Msg("slack notice failed")
	}
}

// InvitationCreated announces a new invitation.
func (n *OpsNotifier) InvitationCreated(projectName, email string) {
	n.post(fmt.Sprintf(":email: %s invited to *%s*", email, projectName))
}

// MemberJoined announces an accepted invitation.
func (n *OpsNotifier) MemberJoined(projectName, email string) {
	n.post(fmt.Sprintf(":tada: %s joined *%s*", email, projectName))
}

// ConflictExhausted flags a project whose document writes keep colliding.
func (n *OpsNotifier) ConflictExhausted(container string) {
	n.post(fmt.Sprintf(":warning: repeated write conflicts on `%s`, a client gave up", container))
}
