package models

import (
	"time"

	"gorm.io/gorm"
)

type EscalationStatus string

const (
	EscalationStatusActive       EscalationStatus = "active"
	EscalationStatusAcknowledged EscalationStatus = "acknowledged"
	EscalationStatusResolved     EscalationStatus = "resolved"
	EscalationStatusTimeout      EscalationStatus = "timeout"
)

type TargetType string

const (
	TargetTypeUser     TargetType = "user"
	TargetTypeRole     TargetType = "role"
	TargetTypeSchedule TargetType = "schedule"
)

type EscalationPolicy struct {
	gorm.Model
	TeamID    uint              `json:"team_id" gorm:"index"`
	Name      string            `json:"name" gorm:"not null"`
	IsDefault bool              `json:"is_default" gorm:"default:false"`
	Enabled   bool              `json:"enabled" gorm:"default:true"`
	Levels    []EscalationLevel `json:"levels" gorm:"foreignKey:PolicyID"`
}

type EscalationLevel struct {
	gorm.Model
	PolicyID       uint               `json:"policy_id" gorm:"index;not null"`
	LevelOrder     int                `json:"level_order" gorm:"not null"`
	TimeoutMinutes int                `json:"timeout_minutes" gorm:"not null"`
	Targets        []EscalationTarget `json:"targets" gorm:"foreignKey:LevelID"`
}

// EscalationTarget points at a user, a role, or an on-call schedule. Schedule
// targets resolve to a concrete user at dispatch time.
type EscalationTarget struct {
	gorm.Model
	LevelID    uint       `json:"level_id" gorm:"index;not null"`
	TargetType TargetType `json:"target_type" gorm:"not null"`
	UserID     uint       `json:"user_id"`
	Role       Role       `json:"role"`
	ScheduleID uint       `json:"schedule_id"`
}

type OnCallSchedule struct {
	gorm.Model
	TeamID       uint                  `json:"team_id" gorm:"index"`
	Name         string                `json:"name"`
	StartAt      time.Time             `json:"start_at"`
	RotationDays int                   `json:"rotation_days" gorm:"default:7"`
	Participants []ScheduleParticipant `json:"participants" gorm:"foreignKey:ScheduleID"`
	Overrides    []ScheduleOverride    `json:"overrides" gorm:"foreignKey:ScheduleID"`
}

type ScheduleParticipant struct {
	gorm.Model
	ScheduleID uint `json:"schedule_id" gorm:"index;not null"`
	UserID     uint `json:"user_id" gorm:"not null"`
	Position   int  `json:"position" gorm:"not null"`
}

type ScheduleOverride struct {
	gorm.Model
	ScheduleID uint      `json:"schedule_id" gorm:"index;not null"`
	UserID     uint      `json:"user_id" gorm:"not null"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
}

// Escalation tracks one alert event walking an escalation policy.
type Escalation struct {
	gorm.Model
	AlertEventID    uint             `json:"alert_event_id" gorm:"index;not null"`
	PolicyID        uint             `json:"policy_id" gorm:"index;not null"`
	CurrentLevel    int              `json:"current_level" gorm:"default:1"`
	Status          EscalationStatus `json:"status" gorm:"default:active;index"`
	LastEscalatedAt time.Time        `json:"last_escalated_at"`
	AcknowledgedBy  uint             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
	ResolvedBy      uint             `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// EscalationEvent is an append-only history entry for level transitions and
// user actions on an escalation.
type EscalationEvent struct {
	gorm.Model
	EscalationID uint   `json:"escalation_id" gorm:"index;not null"`
	Action       string `json:"action" gorm:"not null"`
	FromLevel    int    `json:"from_level"`
	ToLevel      int    `json:"to_level"`
	UserID       uint   `json:"user_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
}
