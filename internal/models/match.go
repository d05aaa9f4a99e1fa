package models

import (
	"gorm.io/gorm"
)

type MatchType string

const (
	MatchTypeIOC     MatchType = "ioc"
	MatchTypeMention MatchType = "mention"
)

// Match records that a monitored asset was seen in the indicator corpus.
// Unique on (asset_id, source_table, source_id); immutable once created.
type Match struct {
	gorm.Model
	AssetID      uint      `json:"asset_id" gorm:"uniqueIndex:idx_match_source;not null"`
	SourceTable  string    `json:"source_table" gorm:"uniqueIndex:idx_match_source;not null"`
	SourceID     string    `json:"source_id" gorm:"uniqueIndex:idx_match_source;not null"`
	MatchedValue string    `json:"matched_value"`
	MatchType    MatchType `json:"match_type" gorm:"not null"`
	Severity     string    `json:"severity"`
	Context      string    `json:"context"`
}

// Indicator is a row of the external IOC corpus maintained by the feed ETL.
// Read-only to this pipeline.
type Indicator struct {
	gorm.Model
	Value      string  `json:"value" gorm:"index;not null"`
	Type       string  `json:"type" gorm:"index;not null"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Incident is a row of the external incident corpus (breaches, ransomware
// postings and similar), also produced by the feed ETL.
type Incident struct {
	gorm.Model
	Title      string `json:"title"`
	VictimName string `json:"victim_name" gorm:"index"`
	Sector     string `json:"sector"`
	Severity   string `json:"severity"`
	Source     string `json:"source"`
}

func (Indicator) TableName() string { return "indicators" }
func (Incident) TableName() string  { return "incidents" }
