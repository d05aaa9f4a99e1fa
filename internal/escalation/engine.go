package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threateye/internal/models"
	"github.com/threateye/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when an acknowledge or resolve is applied
// to an escalation in a state that does not permit it.
var ErrInvalidTransition = errors.New("invalid escalation state transition")

// Notifier delivers an escalation notification to one user. Implemented by
// the dispatcher; tests substitute a recording fake.
type Notifier interface {
	NotifyUser(ctx context.Context, user *models.User, msg *notify.Message)
}

// Engine walks escalation policies for unacknowledged alerts. Level
// advancement is driven by periodic Process calls, not per-escalation timers,
// so a restart loses nothing.
type Engine struct {
	db       *gorm.DB
	notifier Notifier
	log      *zap.Logger
}

func NewEngine(db *gorm.DB, notifier Notifier, log *zap.Logger) *Engine {
	return &Engine{db: db, notifier: notifier, log: log}
}

// Create starts an escalation for an alert event at level 1 and notifies the
// first level's targets.
func (e *Engine) Create(ctx context.Context, alertEventID, policyID uint) (*models.Escalation, error) {
	policy, err := e.loadPolicy(policyID)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		return nil, fmt.Errorf("policy %d is disabled", policyID)
	}
	if len(policy.Levels) == 0 {
		return nil, fmt.Errorf("policy %d has no levels", policyID)
	}

	esc := models.Escalation{
		AlertEventID:    alertEventID,
		PolicyID:        policyID,
		CurrentLevel:    1,
		Status:          models.EscalationStatusActive,
		LastEscalatedAt: time.Now(),
	}
	if err := e.db.Create(&esc).Error; err != nil {
		return nil, fmt.Errorf("failed to create escalation: %v", err)
	}
	e.appendHistory(&esc, "created", 0, 1, 0, "")

	e.notifyLevel(ctx, &esc, &policy.Levels[0])
	return &esc, nil
}

// Process evaluates one escalation's timeout. It is safe to call repeatedly:
// nothing happens unless the escalation is active and the current level's
// timeout has elapsed, in which case it advances exactly one level or times
// out when no level remains.
func (e *Engine) Process(ctx context.Context, escalationID uint) error {
	var esc models.Escalation
	if err := e.db.First(&esc, escalationID).Error; err != nil {
		return fmt.Errorf("escalation %d not found: %v", escalationID, err)
	}
	if esc.Status != models.EscalationStatusActive {
		return nil
	}

	policy, err := e.loadPolicy(esc.PolicyID)
	if err != nil {
		return err
	}
	level := levelByOrder(policy, esc.CurrentLevel)
	if level == nil {
		return fmt.Errorf("policy %d has no level %d", esc.PolicyID, esc.CurrentLevel)
	}

	deadline := esc.LastEscalatedAt.Add(time.Duration(level.TimeoutMinutes) * time.Minute)
	if time.Now().Before(deadline) {
		return nil
	}

	next := levelByOrder(policy, esc.CurrentLevel+1)
	if next == nil {
		// Policy exhausted with no acknowledgement.
		if err := e.db.Model(&esc).Update("status", models.EscalationStatusTimeout).Error; err != nil {
			return fmt.Errorf("failed to time out escalation: %v", err)
		}
		e.appendHistory(&esc, "timeout", esc.CurrentLevel, esc.CurrentLevel, 0, "policy exhausted")
		e.log.Warn("escalation timed out",
			zap.Uint("escalation_id", esc.ID),
			zap.Int("final_level", esc.CurrentLevel))
		return nil
	}

	now := time.Now()
	err = e.db.Model(&esc).Updates(map[string]interface{}{
		"current_level":     next.LevelOrder,
		"last_escalated_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to advance escalation: %v", err)
	}
	e.appendHistory(&esc, "escalated", esc.CurrentLevel, next.LevelOrder, 0, "")
	e.log.Info("escalation advanced",
		zap.Uint("escalation_id", esc.ID),
		zap.Int("level", next.LevelOrder))

	esc.CurrentLevel = next.LevelOrder
	esc.LastEscalatedAt = now
	e.notifyLevel(ctx, &esc, next)
	return nil
}

// ProcessAll runs Process over every active escalation; intended as the body
// of the periodic escalation job.
func (e *Engine) ProcessAll(ctx context.Context) error {
	var ids []uint
	err := e.db.Model(&models.Escalation{}).
		Where("status = ?", models.EscalationStatusActive).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("failed to list active escalations: %v", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Process(ctx, id); err != nil {
			e.log.Error("escalation processing failed",
				zap.Uint("escalation_id", id), zap.Error(err))
		}
	}
	return nil
}

// Acknowledge records a user acknowledgement, halting level advancement.
// Valid only while the escalation is active.
func (e *Engine) Acknowledge(escalationID, userID uint) error {
	var esc models.Escalation
	if err := e.db.First(&esc, escalationID).Error; err != nil {
		return fmt.Errorf("escalation %d not found: %v", escalationID, err)
	}
	if esc.Status != models.EscalationStatusActive {
		return ErrInvalidTransition
	}

	now := time.Now()
	err := e.db.Model(&esc).Updates(map[string]interface{}{
		"status":          models.EscalationStatusAcknowledged,
		"acknowledged_by": userID,
		"acknowledged_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to acknowledge escalation: %v", err)
	}
	e.appendHistory(&esc, "acknowledged", esc.CurrentLevel, esc.CurrentLevel, userID, "")
	return nil
}

// Resolve terminates the escalation. Valid from active or acknowledged.
func (e *Engine) Resolve(escalationID, userID uint, notes string) error {
	var esc models.Escalation
	if err := e.db.First(&esc, escalationID).Error; err != nil {
		return fmt.Errorf("escalation %d not found: %v", escalationID, err)
	}
	if esc.Status != models.EscalationStatusActive &&
		esc.Status != models.EscalationStatusAcknowledged {
		return ErrInvalidTransition
	}

	now := time.Now()
	err := e.db.Model(&esc).Updates(map[string]interface{}{
		"status":      models.EscalationStatusResolved,
		"resolved_by": userID,
		"resolved_at": now,
		"notes":       notes,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %v", err)
	}
	e.appendHistory(&esc, "resolved", esc.CurrentLevel, esc.CurrentLevel, userID, notes)
	return nil
}

// notifyLevel resolves the level's targets to concrete users and notifies
// each. Notification failures never block the state transition that already
// happened.
func (e *Engine) notifyLevel(ctx context.Context, esc *models.Escalation, level *models.EscalationLevel) {
	users := e.resolveTargets(level)
	if len(users) == 0 {
		e.log.Warn("escalation level has no resolvable targets",
			zap.Uint("escalation_id", esc.ID), zap.Int("level", level.LevelOrder))
		return
	}

	var event models.AlertEvent
	priority := 2
	if err := e.db.First(&event, esc.AlertEventID).Error; err == nil {
		priority = event.Priority
	}

	msg := &notify.Message{
		EventType: models.EventTypeEscalation,
		Title:     fmt.Sprintf("Unacknowledged alert escalated to level %d", level.LevelOrder),
		Body: fmt.Sprintf("Alert event %d has not been acknowledged and escalated to you. Acknowledge or resolve it in the dashboard.",
			esc.AlertEventID),
		Priority:  priority,
		Timestamp: time.Now(),
	}
	for i := range users {
		e.notifier.NotifyUser(ctx, &users[i], msg)
	}
}

// resolveTargets expands user, role, and schedule targets into users. A
// target that fails to resolve is logged and skipped.
func (e *Engine) resolveTargets(level *models.EscalationLevel) []models.User {
	var users []models.User
	seen := make(map[uint]bool)

	add := func(u *models.User) {
		if u != nil && !seen[u.ID] && u.IsActive {
			seen[u.ID] = true
			users = append(users, *u)
		}
	}

	for _, target := range level.Targets {
		switch target.TargetType {
		case models.TargetTypeUser:
			u, err := loadUser(e.db, target.UserID)
			if err != nil {
				e.log.Warn("escalation target user missing",
					zap.Uint("user_id", target.UserID), zap.Error(err))
				continue
			}
			add(u)
		case models.TargetTypeRole:
			var roleUsers []models.User
			if err := e.db.Where("role = ?", target.Role).Find(&roleUsers).Error; err != nil {
				e.log.Warn("failed to resolve role target",
					zap.String("role", string(target.Role)), zap.Error(err))
				continue
			}
			for i := range roleUsers {
				add(&roleUsers[i])
			}
		case models.TargetTypeSchedule:
			u, err := ResolveOnCall(e.db, target.ScheduleID, time.Now())
			if err != nil {
				e.log.Warn("failed to resolve on-call target",
					zap.Uint("schedule_id", target.ScheduleID), zap.Error(err))
				continue
			}
			add(u)
		}
	}
	return users
}

func (e *Engine) loadPolicy(policyID uint) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	err := e.db.Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level_order asc")
	}).Preload("Levels.Targets").First(&policy, policyID).Error
	if err != nil {
		return nil, fmt.Errorf("policy %d not found: %v", policyID, err)
	}
	return &policy, nil
}

func (e *Engine) appendHistory(esc *models.Escalation, action string, from, to int, userID uint, detail string) {
	entry := models.EscalationEvent{
		EscalationID: esc.ID,
		Action:       action,
		FromLevel:    from,
		ToLevel:      to,
		UserID:       userID,
		Detail:       detail,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		e.log.Warn("failed to append escalation history",
			zap.Uint("escalation_id", esc.ID), zap.Error(err))
	}
}

func levelByOrder(policy *models.EscalationPolicy, order int) *models.EscalationLevel {
	for i := range policy.Levels {
		if policy.Levels[i].LevelOrder == order {
			return &policy.Levels[i]
		}
	}
	return nil
}
