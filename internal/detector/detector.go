package detector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/threateye/internal/models"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// candidate is one corpus row a monitored asset matched against.
type candidate struct {
	SourceTable  string
	SourceID     string
	MatchedValue string
	MatchType    models.MatchType
	Severity     string
	Context      string
}

// Detector matches monitored assets against the indicator/incident corpus.
type Detector struct {
	db    *gorm.DB
	queue *queue.Queue
	log   *zap.Logger
}

// PassStats summarizes one detection pass.
type PassStats struct {
	AssetsChecked  int
	MatchesFound   int
	EventsEnqueued int
	Errors         int
}

func New(db *gorm.DB, q *queue.Queue, log *zap.Logger) *Detector {
	return &Detector{db: db, queue: q, log: log}
}

// RunDetectionPass checks every monitored asset against the corpus. A single
// asset's failure is logged and counted without aborting the pass.
func (d *Detector) RunDetectionPass(ctx context.Context) (*PassStats, error) {
	var assets []models.MonitoredAsset
	if err := d.db.Where("is_monitored = ?", true).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to load monitored assets: %v", err)
	}

	stats := &PassStats{}
	for i := range assets {
		if err := ctx.Err(); err != nil {
			// Out of time budget; remaining assets are picked up next run.
			d.log.Warn("detection pass cancelled",
				zap.Int("assets_checked", stats.AssetsChecked))
			return stats, err
		}
		if err := d.checkAsset(&assets[i], stats); err != nil {
			stats.Errors++
			d.log.Error("asset check failed",
				zap.Uint("asset_id", assets[i].ID),
				zap.String("asset_type", string(assets[i].AssetType)),
				zap.Error(err))
		}
		stats.AssetsChecked++
	}

	d.log.Info("detection pass complete",
		zap.Int("assets_checked", stats.AssetsChecked),
		zap.Int("matches_found", stats.MatchesFound),
		zap.Int("events_enqueued", stats.EventsEnqueued),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

func (d *Detector) checkAsset(asset *models.MonitoredAsset, stats *PassStats) error {
	// The checkpoint is advanced whether or not anything matched, so a
	// stalled detector shows up as stale last_checked_at values.
	defer func() {
		now := time.Now()
		if err := d.db.Model(asset).Update("last_checked_at", now).Error; err != nil {
			d.log.Warn("failed to update last_checked_at",
				zap.Uint("asset_id", asset.ID), zap.Error(err))
		}
	}()

	candidates, err := d.findCandidates(asset)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		created, err := d.recordMatch(asset, c)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		stats.MatchesFound++

		if asset.NotifyOnMatch {
			if err := d.enqueueMatchEvent(asset, c); err != nil {
				return err
			}
			stats.EventsEnqueued++
		}
	}
	return nil
}

// findCandidates dispatches corpus queries by asset type.
func (d *Detector) findCandidates(asset *models.MonitoredAsset) ([]candidate, error) {
	switch asset.AssetType {
	case models.AssetTypeDomain, models.AssetTypeEmailDomain:
		return d.matchIndicators(asset, "domain")
	case models.AssetTypeIP:
		return d.matchIndicators(asset, "ip")
	case models.AssetTypeKeyword, models.AssetTypeExecutive:
		return d.matchIncidents(asset)
	case models.AssetTypeIPRange:
		// CIDR containment is not evaluated; range assets are a no-op.
		d.log.Debug("ip_range matching not supported, skipping asset",
			zap.Uint("asset_id", asset.ID), zap.String("value", asset.Value))
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown asset type %q", asset.AssetType)
	}
}

func (d *Detector) matchIndicators(asset *models.MonitoredAsset, indicatorType string) ([]candidate, error) {
	var indicators []models.Indicator
	q := d.db.Where("type = ?", indicatorType)
	if indicatorType == "ip" {
		q = q.Where("value = ?", asset.Value)
	} else {
		// Exact hits plus subdomains of the monitored domain.
		q = q.Where("value = ? OR value LIKE ?", asset.Value, "%."+asset.Value)
	}
	if err := q.Find(&indicators).Error; err != nil {
		return nil, fmt.Errorf("indicator query failed: %v", err)
	}

	candidates := make([]candidate, 0, len(indicators))
	for _, ind := range indicators {
		candidates = append(candidates, candidate{
			SourceTable:  "indicators",
			SourceID:     strconv.FormatUint(uint64(ind.ID), 10),
			MatchedValue: ind.Value,
			MatchType:    models.MatchTypeIOC,
			Severity:     ind.Severity,
			Context:      fmt.Sprintf("source=%s confidence=%.2f", ind.Source, ind.Confidence),
		})
	}
	return candidates, nil
}

func (d *Detector) matchIncidents(asset *models.MonitoredAsset) ([]candidate, error) {
	var incidents []models.Incident
	err := d.db.Where("victim_name LIKE ?", "%"+asset.Value+"%").Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("incident query failed: %v", err)
	}

	candidates := make([]candidate, 0, len(incidents))
	for _, inc := range incidents {
		candidates = append(candidates, candidate{
			SourceTable:  "incidents",
			SourceID:     strconv.FormatUint(uint64(inc.ID), 10),
			MatchedValue: inc.VictimName,
			MatchType:    models.MatchTypeMention,
			Severity:     inc.Severity,
			Context:      inc.Title,
		})
	}
	return candidates, nil
}

// recordMatch inserts the match if the (asset, source) pair is new and bumps
// the asset's match counter. Returns false when the match already exists.
func (d *Detector) recordMatch(asset *models.MonitoredAsset, c candidate) (bool, error) {
	var existing models.Match
	err := d.db.Where("asset_id = ? AND source_table = ? AND source_id = ?",
		asset.ID, c.SourceTable, c.SourceID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("match lookup failed: %v", err)
	}

	match := models.Match{
		AssetID:      asset.ID,
		SourceTable:  c.SourceTable,
		SourceID:     c.SourceID,
		MatchedValue: c.MatchedValue,
		MatchType:    c.MatchType,
		Severity:     c.Severity,
		Context:      c.Context,
	}
	if err := d.db.Create(&match).Error; err != nil {
		return false, fmt.Errorf("failed to create match: %v", err)
	}

	asset.MatchCount++
	if err := d.db.Model(asset).Update("match_count", asset.MatchCount).Error; err != nil {
		return false, fmt.Errorf("failed to update match count: %v", err)
	}
	return true, nil
}

func (d *Detector) enqueueMatchEvent(asset *models.MonitoredAsset, c candidate) error {
	var matchID uint
	var match models.Match
	if err := d.db.Where("asset_id = ? AND source_table = ? AND source_id = ?",
		asset.ID, c.SourceTable, c.SourceID).First(&match).Error; err == nil {
		matchID = match.ID
	}

	payload := models.AssetMatchPayload{
		AssetID:      asset.ID,
		AssetName:    asset.Name,
		AssetType:    string(asset.AssetType),
		MatchID:      matchID,
		MatchedValue: c.MatchedValue,
		SourceTable:  c.SourceTable,
		SourceID:     c.SourceID,
		Severity:     c.Severity,
	}
	eventID := fmt.Sprintf("%d-%s-%s", asset.ID, c.SourceTable, c.SourceID)
	_, err := d.queue.Enqueue(models.EventTypeAssetMatched, eventID, payload,
		models.AlertPriority(asset.Criticality))
	if err != nil {
		return fmt.Errorf("failed to enqueue match event: %v", err)
	}
	return nil
}
