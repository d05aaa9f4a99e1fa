package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/threateye/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotClaimable is returned by Complete/Fail when the event is not
// currently in progress.
var ErrNotClaimable = errors.New("event is not in progress")

// Queue is the durable alert event queue backed by the relational store.
type Queue struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Queue {
	return &Queue{db: db, log: log}
}

// IdempotencyKey derives the deduplication key for a logical event.
func IdempotencyKey(eventType, eventID string) string {
	return eventType + ":" + eventID
}

// Enqueue submits an alert event. Submitting the same (eventType, eventID)
// pair twice returns the existing event without creating a second one. A
// producer with no natural event identity may pass an empty eventID and gets
// a random one, opting out of deduplication.
func (q *Queue) Enqueue(eventType, eventID string, eventData interface{}, priority int) (*models.AlertEvent, error) {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	key := IdempotencyKey(eventType, eventID)

	var existing models.AlertEvent
	err := q.db.Where("idempotency_key = ?", key).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for existing event: %v", err)
	}

	data, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %v", err)
	}

	event := models.AlertEvent{
		EventType:      eventType,
		EventID:        eventID,
		EventData:      string(data),
		Priority:       priority,
		IdempotencyKey: key,
		Status:         models.EventStatusPending,
	}
	if err := q.db.Create(&event).Error; err != nil {
		// A concurrent producer may have won the insert race; the unique key
		// makes the second insert fail, which still satisfies idempotency.
		if fetchErr := q.db.Where("idempotency_key = ?", key).First(&existing).Error; fetchErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to enqueue event: %v", err)
	}

	q.log.Debug("event enqueued",
		zap.String("event_type", eventType),
		zap.String("event_id", eventID),
		zap.Int("priority", priority))
	return &event, nil
}

// ClaimPending returns up to limit pending events ordered by priority then
// age, marking each in_progress. The status update is a compare-and-set, so
// an event lost to a concurrent claimer is skipped rather than returned
// twice.
func (q *Queue) ClaimPending(limit int) ([]models.AlertEvent, error) {
	var candidates []models.AlertEvent
	err := q.db.Where("status = ?", models.EventStatusPending).
		Order("priority asc, created_at asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %v", err)
	}

	claimed := make([]models.AlertEvent, 0, len(candidates))
	for i := range candidates {
		res := q.db.Model(&models.AlertEvent{}).
			Where("id = ? AND status = ?", candidates[i].ID, models.EventStatusPending).
			Update("status", models.EventStatusInProgress)
		if res.Error != nil {
			q.log.Warn("failed to claim event",
				zap.Uint("id", candidates[i].ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			// Lost the race to another worker.
			continue
		}
		candidates[i].Status = models.EventStatusInProgress
		claimed = append(claimed, candidates[i])
	}
	return claimed, nil
}

// Complete marks an in-progress event completed.
func (q *Queue) Complete(id uint) error {
	res := q.db.Model(&models.AlertEvent{}).
		Where("id = ? AND status = ?", id, models.EventStatusInProgress).
		Update("status", models.EventStatusCompleted)
	if res.Error != nil {
		return fmt.Errorf("failed to complete event %d: %v", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Fail marks an in-progress event failed with a reason. Failed events are not
// replayed: the next scheduled run re-evaluates source state instead.
func (q *Queue) Fail(id uint, reason string) error {
	res := q.db.Model(&models.AlertEvent{}).
		Where("id = ? AND status = ?", id, models.EventStatusInProgress).
		Updates(map[string]interface{}{
			"status":      models.EventStatusFailed,
			"fail_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail event %d: %v", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	q.log.Warn("event failed", zap.Uint("id", id), zap.String("reason", reason))
	return nil
}

// Pending returns the number of undelivered events, used for observability.
func (q *Queue) Pending() (int64, error) {
	var n int64
	err := q.db.Model(&models.AlertEvent{}).
		Where("status = ?", models.EventStatusPending).
		Count(&n).Error
	return n, err
}
