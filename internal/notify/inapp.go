package notify

import (
	"context"
	"fmt"

	"github.com/threateye/internal/models"
	"gorm.io/gorm"
)

// InAppSender writes the notification row shown in the dashboard. There is no
// external failure mode; a failed insert is not retried.
type InAppSender struct {
	db *gorm.DB
}

func NewInAppSender(db *gorm.DB) *InAppSender {
	return &InAppSender{db: db}
}

func (s *InAppSender) Channel() Channel { return ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, user *models.User, msg *Message) error {
	n := models.Notification{
		UserID:    user.ID,
		EventType: msg.EventType,
		Title:     msg.Title,
		Body:      msg.Body,
		URL:       msg.URL,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %v", err)
	}
	return nil
}
