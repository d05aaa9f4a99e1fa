package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Password string `gorm:"not null" json:"-"`
	Role     Role   `gorm:"not null" json:"role"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	TeamID   uint   `gorm:"index" json:"team_id"`
	Sector   string `gorm:"index" json:"sector"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Channel preferences consulted at dispatch time.
	EmailEnabled   bool `json:"email_enabled"`
	PushEnabled    bool `json:"push_enabled"`
	WebhookEnabled bool `json:"webhook_enabled"`
	InAppEnabled   bool `json:"in_app_enabled"`

	// Quiet hours expressed as minutes-of-day in the user's fixed UTC offset.
	// The window may wrap midnight (start > end).
	QuietHoursEnabled bool `json:"quiet_hours_enabled"`
	QuietStartMinute  int  `json:"quiet_start_minute"`
	QuietEndMinute    int  `json:"quiet_end_minute"`
	UTCOffsetMinutes  int  `json:"utc_offset_minutes"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// InQuietHours reports whether now falls inside the user's quiet-hours window.
func (u *User) InQuietHours(now time.Time) bool {
	if !u.QuietHoursEnabled {
		return false
	}
	local := now.UTC().Add(time.Duration(u.UTCOffsetMinutes) * time.Minute)
	minute := local.Hour()*60 + local.Minute()
	if u.QuietStartMinute <= u.QuietEndMinute {
		return minute >= u.QuietStartMinute && minute < u.QuietEndMinute
	}
	// Window wraps midnight, e.g. 22:00-07:00.
	return minute >= u.QuietStartMinute || minute < u.QuietEndMinute
}
