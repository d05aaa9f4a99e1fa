// Package notify implements the per-channel senders used by the dispatcher.
// Each sender owns one delivery mechanism and its failure handling; the
// dispatcher treats them uniformly through the Sender interface.
package notify

import (
	"context"
	"time"

	"github.com/threateye/internal/models"
)

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
)

// Message is the channel-independent notification content for one event.
type Message struct {
	EventType string
	Title     string
	Body      string
	URL       string
	Priority  int
	Data      map[string]interface{}
	Timestamp time.Time
}

// Sender delivers a message to one user over one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, user *models.User, msg *Message) error
}

// Enabled reports whether the user has opted into the given channel.
func Enabled(user *models.User, ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return user.EmailEnabled
	case ChannelPush:
		return user.PushEnabled
	case ChannelWebhook:
		return user.WebhookEnabled
	case ChannelInApp:
		return user.InAppEnabled
	default:
		return false
	}
}
