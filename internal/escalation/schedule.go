package escalation

import (
	"fmt"
	"time"

	"github.com/threateye/internal/models"
	"gorm.io/gorm"
)

// ResolveOnCall returns the user on call for the schedule at the given time:
// an active override wins, otherwise the rotation position implied by elapsed
// time since the schedule started.
func ResolveOnCall(db *gorm.DB, scheduleID uint, now time.Time) (*models.User, error) {
	var schedule models.OnCallSchedule
	err := db.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Preload("Overrides").First(&schedule, scheduleID).Error
	if err != nil {
		return nil, fmt.Errorf("schedule %d not found: %v", scheduleID, err)
	}

	for _, o := range schedule.Overrides {
		if !now.Before(o.StartAt) && now.Before(o.EndAt) {
			return loadUser(db, o.UserID)
		}
	}

	if len(schedule.Participants) == 0 {
		return nil, fmt.Errorf("schedule %d has no participants", scheduleID)
	}

	rotation := schedule.RotationDays
	if rotation <= 0 {
		rotation = 7
	}
	elapsed := now.Sub(schedule.StartAt)
	if elapsed < 0 {
		elapsed = 0
	}
	rotations := int(elapsed / (time.Duration(rotation) * 24 * time.Hour))
	position := rotations % len(schedule.Participants)

	return loadUser(db, schedule.Participants[position].UserID)
}

func loadUser(db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("user %d not found: %v", userID, err)
	}
	return &user, nil
}
