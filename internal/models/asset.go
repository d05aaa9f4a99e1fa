package models

import (
	"time"

	"gorm.io/gorm"
)

type AssetType string

const (
	AssetTypeDomain      AssetType = "domain"
	AssetTypeEmailDomain AssetType = "email_domain"
	AssetTypeIP          AssetType = "ip"
	AssetTypeIPRange     AssetType = "ip_range"
	AssetTypeKeyword     AssetType = "keyword"
	AssetTypeExecutive   AssetType = "executive"
)

type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// MonitoredAsset is a value a user wants watched against the indicator corpus.
type MonitoredAsset struct {
	gorm.Model
	OwnerID       uint        `json:"owner_id" gorm:"index;not null"`
	AssetType     AssetType   `json:"asset_type" gorm:"not null"`
	Value         string      `json:"value" gorm:"not null"`
	Name          string      `json:"name"`
	Criticality   Criticality `json:"criticality" gorm:"default:medium"`
	IsMonitored   bool        `json:"is_monitored"`
	NotifyOnMatch bool        `json:"notify_on_match"`
	LastCheckedAt *time.Time  `json:"last_checked_at"`
	MatchCount    int         `json:"match_count" gorm:"default:0"`
}

// AlertPriority maps asset criticality to event priority. Lower is more urgent.
func AlertPriority(c Criticality) int {
	switch c {
	case CriticalityCritical:
		return 1
	case CriticalityHigh:
		return 2
	case CriticalityMedium:
		return 5
	case CriticalityLow:
		return 8
	default:
		return 5
	}
}
