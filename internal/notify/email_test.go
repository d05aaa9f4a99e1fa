package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threateye/internal/models"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmailUsesTypeSpecificTemplate(t *testing.T) {
	dialer := &fakeDialer{}
	s := NewEmailSender(dialer, "alerts@threateye.io")

	user := &models.User{Email: "alice@example.com", EmailEnabled: true}
	user.ID = 1
	require.NoError(t, s.Send(context.Background(), user, testMessage()))

	require.Len(t, dialer.sent, 1)
	m := dialer.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Threat match on monitored asset: Threat match: edge firewall"},
		m.GetHeader("Subject"))
}

func TestEmailUnknownEventFallsBackToDefault(t *testing.T) {
	dialer := &fakeDialer{}
	s := NewEmailSender(dialer, "alerts@threateye.io")

	user := &models.User{Email: "alice@example.com"}
	user.ID = 1
	msg := testMessage()
	msg.EventType = "billing.something"
	msg.Title = "whatever"

	require.NoError(t, s.Send(context.Background(), user, msg))
	require.Len(t, dialer.sent, 1)
	assert.Equal(t, []string{"ThreatEye alert: whatever"}, dialer.sent[0].GetHeader("Subject"))
}

func TestEmailMissingAddressIsDataError(t *testing.T) {
	dialer := &fakeDialer{}
	s := NewEmailSender(dialer, "alerts@threateye.io")

	user := &models.User{}
	user.ID = 2
	assert.Error(t, s.Send(context.Background(), user, testMessage()))
	assert.Empty(t, dialer.sent)
}

func TestEmailDialerFailureIsSurfaced(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	s := NewEmailSender(dialer, "alerts@threateye.io")

	user := &models.User{Email: "alice@example.com"}
	user.ID = 1
	assert.Error(t, s.Send(context.Background(), user, testMessage()))
}
