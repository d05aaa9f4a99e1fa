package notify

import (
	"context"
	"fmt"

	"github.com/threateye/internal/models"
	"gopkg.in/gomail.v2"
)

type emailTemplate struct {
	Subject string
	Intro   string
}

// Subject/intro copy per event type; unlisted types fall back to the default.
var emailTemplates = map[string]emailTemplate{
	models.EventTypeAssetMatched: {
		Subject: "Threat match on monitored asset: %s",
		Intro:   "One of your monitored assets matched a threat indicator.",
	},
	models.EventTypeSectorMatch: {
		Subject: "New incident in your sector: %s",
		Intro:   "A new incident matching your organization profile was recorded.",
	},
	models.EventTypeEscalation: {
		Subject: "[ESCALATED] Unacknowledged alert: %s",
		Intro:   "An alert escalated to you because nobody acknowledged it.",
	},
}

var defaultEmailTemplate = emailTemplate{
	Subject: "ThreatEye alert: %s",
	Intro:   "A new alert was generated for your account.",
}

// Dialer sends a prepared message, matching gomail's Dialer. Tests substitute
// a recording fake.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailSender struct {
	dialer Dialer
	from   string
}

func NewEmailSender(dialer Dialer, from string) *EmailSender {
	return &EmailSender{dialer: dialer, from: from}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, user *models.User, msg *Message) error {
	if user.Email == "" {
		return fmt.Errorf("user %d has no email address", user.ID)
	}

	tmpl, ok := emailTemplates[msg.EventType]
	if !ok {
		tmpl = defaultEmailTemplate
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", fmt.Sprintf(tmpl.Subject, msg.Title))

	text := fmt.Sprintf("%s\n\n%s\n\n%s", tmpl.Intro, msg.Body, msg.URL)
	html := fmt.Sprintf(`<p>%s</p><p><strong>%s</strong></p><p>%s</p><p><a href="%s">View in dashboard</a></p>`,
		tmpl.Intro, msg.Title, msg.Body, msg.URL)

	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %v", user.Email, err)
	}
	return nil
}
