package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"github.com/threateye/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// payloadBuilder renders the platform-specific body for one webhook type.
type payloadBuilder func(msg *Message) (interface{}, error)

var payloadBuilders = map[models.WebhookType]payloadBuilder{
	models.WebhookTypeGeneric: buildGenericPayload,
	models.WebhookTypeSlack:   buildSlackPayload,
	models.WebhookTypeDiscord: buildDiscordPayload,
	models.WebhookTypeTeams:   buildTeamsPayload,
}

type WebhookSender struct {
	db     *gorm.DB
	client *http.Client
	log    *zap.Logger
}

func NewWebhookSender(db *gorm.DB, log *zap.Logger) *WebhookSender {
	return &WebhookSender{
		db:     db,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (s *WebhookSender) Channel() Channel { return ChannelWebhook }

// Send posts the event to every active webhook of the user subscribed to its
// event type. Send and error counters are tracked per hook.
func (s *WebhookSender) Send(ctx context.Context, user *models.User, msg *Message) error {
	var hooks []models.Webhook
	err := s.db.Where("user_id = ? AND is_active = ?", user.ID, true).Find(&hooks).Error
	if err != nil {
		return fmt.Errorf("failed to load webhooks: %v", err)
	}

	var lastErr error
	for i := range hooks {
		if !hooks[i].WantsEvent(msg.EventType) {
			continue
		}
		if err := s.post(ctx, &hooks[i], msg); err != nil {
			lastErr = err
			s.recordResult(&hooks[i], err)
			s.log.Warn("webhook delivery failed",
				zap.Uint("webhook_id", hooks[i].ID),
				zap.String("type", string(hooks[i].Type)),
				zap.Error(err))
			continue
		}
		s.recordResult(&hooks[i], nil)
	}
	return lastErr
}

func (s *WebhookSender) post(ctx context.Context, hook *models.Webhook, msg *Message) error {
	build, ok := payloadBuilders[hook.Type]
	if !ok {
		build = buildGenericPayload
	}
	payload, err := build(msg)
	if err != nil {
		return fmt.Errorf("failed to build payload: %v", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSender) recordResult(hook *models.Webhook, sendErr error) {
	updates := map[string]interface{}{
		"send_count": gorm.Expr("send_count + 1"),
	}
	if sendErr != nil {
		updates["error_count"] = gorm.Expr("error_count + 1")
		updates["last_error"] = sendErr.Error()
	}
	if err := s.db.Model(hook).Updates(updates).Error; err != nil {
		s.log.Warn("failed to update webhook counters",
			zap.Uint("webhook_id", hook.ID), zap.Error(err))
	}
}

// buildGenericPayload is the plain JSON envelope for unbranded endpoints.
func buildGenericPayload(msg *Message) (interface{}, error) {
	return map[string]interface{}{
		"eventType": msg.EventType,
		"data": map[string]interface{}{
			"title":    msg.Title,
			"body":     msg.Body,
			"url":      msg.URL,
			"priority": msg.Priority,
			"details":  msg.Data,
		},
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339),
	}, nil
}

func buildSlackPayload(msg *Message) (interface{}, error) {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Title, false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, msg.Body, false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("%s | priority %d | <%s|Open dashboard>", msg.EventType, msg.Priority, msg.URL),
				false, false)),
	}
	return slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: blocks},
	}, nil
}

func buildDiscordPayload(msg *Message) (interface{}, error) {
	color := 0x36a64f
	if msg.Priority <= 2 {
		color = 0xff0000
	}
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       msg.Title,
				"description": msg.Body,
				"url":         msg.URL,
				"color":       color,
				"footer":      map[string]string{"text": msg.EventType},
				"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339),
			},
		},
	}, nil
}

func buildTeamsPayload(msg *Message) (interface{}, error) {
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    msg.Title,
		"themeColor": "D00000",
		"title":      msg.Title,
		"text":       msg.Body,
		"potentialAction": []map[string]interface{}{
			{
				"@type":   "OpenUri",
				"name":    "Open dashboard",
				"targets": []map[string]string{{"os": "default", "uri": msg.URL}},
			},
		},
	}, nil
}
