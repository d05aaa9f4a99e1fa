package models

import (
	"gorm.io/gorm"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// Well-known event types produced by the pipeline.
const (
	EventTypeAssetMatched = "ioc.matched_asset"
	EventTypeSectorMatch  = "incident.sector_match"
	EventTypeEscalation   = "alert.escalated"
)

// AssetMatchPayload is the event data carried by ioc.matched_asset events.
type AssetMatchPayload struct {
	AssetID      uint   `json:"asset_id"`
	AssetName    string `json:"asset_name"`
	AssetType    string `json:"asset_type"`
	MatchID      uint   `json:"match_id"`
	MatchedValue string `json:"matched_value"`
	SourceTable  string `json:"source_table"`
	SourceID     string `json:"source_id"`
	Severity     string `json:"severity"`
}

// AlertEvent is one unit of deliverable work on the alert queue.
// The idempotency key is derived from (event_type, event_id), so re-submitting
// the same logical event is a no-op.
type AlertEvent struct {
	gorm.Model
	EventType      string      `json:"event_type" gorm:"not null"`
	EventID        string      `json:"event_id" gorm:"not null"`
	EventData      string      `json:"event_data"`
	Priority       int         `json:"priority" gorm:"default:5;index"`
	IdempotencyKey string      `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	Status         EventStatus `json:"status" gorm:"default:pending;index"`
	FailReason     string      `json:"fail_reason,omitempty"`
}
