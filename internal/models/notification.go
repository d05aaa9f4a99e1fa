package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type WebhookType string

const (
	WebhookTypeGeneric WebhookType = "generic"
	WebhookTypeSlack   WebhookType = "slack"
	WebhookTypeDiscord WebhookType = "discord"
	WebhookTypeTeams   WebhookType = "teams"
)

// PushSubscription is a Web Push subscription registered by the browser.
// Deactivated in place when the push service reports it gone (404/410).
type PushSubscription struct {
	gorm.Model
	UserID   uint   `json:"user_id" gorm:"index;not null"`
	Endpoint string `json:"endpoint" gorm:"uniqueIndex;not null"`
	P256dh   string `json:"p256dh" gorm:"not null"`
	Auth     string `json:"auth" gorm:"not null"`
	IsActive bool   `json:"is_active"`
}

// Webhook is a user-configured outbound hook. EventTypes is a comma-separated
// list of event types the hook subscribes to; empty means all.
type Webhook struct {
	gorm.Model
	UserID     uint        `json:"user_id" gorm:"index;not null"`
	URL        string      `json:"url" gorm:"not null"`
	Name       string      `json:"name"`
	Type       WebhookType `json:"type" gorm:"default:generic"`
	EventTypes string      `json:"event_types"`
	IsActive   bool        `json:"is_active"`
	SendCount  int         `json:"send_count" gorm:"default:0"`
	ErrorCount int         `json:"error_count" gorm:"default:0"`
	LastError  string      `json:"last_error,omitempty"`
}

// WantsEvent reports whether the hook subscribes to the given event type.
func (w *Webhook) WantsEvent(eventType string) bool {
	if w.EventTypes == "" {
		return true
	}
	for _, et := range strings.Split(w.EventTypes, ",") {
		if strings.TrimSpace(et) == eventType {
			return true
		}
	}
	return false
}

// Notification is an in-app notification row shown in the dashboard.
type Notification struct {
	gorm.Model
	UserID    uint       `json:"user_id" gorm:"index;not null"`
	EventType string     `json:"event_type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	URL       string     `json:"url"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}
