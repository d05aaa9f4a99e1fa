package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/threateye/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PushPayload is the JSON document delivered to the service worker.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	Tag   string `json:"tag"`
	Data  struct {
		URL string `json:"url"`
	} `json:"data"`
}

type pushSendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type PushSender struct {
	db   *gorm.DB
	opts webpush.Options
	send pushSendFunc
	log  *zap.Logger
}

func NewPushSender(db *gorm.DB, vapidPublic, vapidPrivate, subscriber string, log *zap.Logger) *PushSender {
	return &PushSender{
		db: db,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             3600,
		},
		send: webpush.SendNotificationWithContext,
		log:  log,
	}
}

func (s *PushSender) Channel() Channel { return ChannelPush }

// Send pushes to every active subscription of the user. A subscription whose
// endpoint reports 404 or 410 is marked inactive instead of retried.
func (s *PushSender) Send(ctx context.Context, user *models.User, msg *Message) error {
	var subs []models.PushSubscription
	err := s.db.Where("user_id = ? AND is_active = ?", user.ID, true).Find(&subs).Error
	if err != nil {
		return fmt.Errorf("failed to load push subscriptions: %v", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload := PushPayload{
		Title: msg.Title,
		Body:  msg.Body,
		Icon:  "/icons/alert-192.png",
		Badge: "/icons/badge-72.png",
		Tag:   msg.EventType,
	}
	payload.Data.URL = msg.URL
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %v", err)
	}

	var lastErr error
	for i := range subs {
		sub := &webpush.Subscription{
			Endpoint: subs[i].Endpoint,
			Keys: webpush.Keys{
				P256dh: subs[i].P256dh,
				Auth:   subs[i].Auth,
			},
		}
		resp, err := s.send(ctx, body, sub, &s.opts)
		if err != nil {
			lastErr = err
			s.log.Warn("push send failed",
				zap.Uint("subscription_id", subs[i].ID), zap.Error(err))
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		if status == http.StatusNotFound || status == http.StatusGone {
			// The browser dropped the subscription; disable it in place.
			if err := s.db.Model(&subs[i]).Update("is_active", false).Error; err != nil {
				s.log.Warn("failed to deactivate push subscription",
					zap.Uint("subscription_id", subs[i].ID), zap.Error(err))
			}
			s.log.Info("push subscription expired, deactivated",
				zap.Uint("subscription_id", subs[i].ID), zap.Int("status", status))
			continue
		}
		if status >= 400 {
			lastErr = fmt.Errorf("push endpoint returned %d", status)
		}
	}
	return lastErr
}
