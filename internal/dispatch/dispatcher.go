package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/threateye/internal/models"
	"github.com/threateye/internal/notify"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

const maxConcurrentRecipients = 8

// resolver returns the recipient set for one event type.
type resolver func(db *gorm.DB, ev *models.AlertEvent) ([]models.User, error)

// Dispatcher fans alert events out to recipients across notification
// channels. Channel and recipient failures are isolated from each other.
type Dispatcher struct {
	db        *gorm.DB
	queue     *queue.Queue
	senders   map[notify.Channel]notify.Sender
	resolvers map[string]resolver
	baseURL   string
	log       *zap.Logger
	sem       *semaphore.Weighted
}

func New(db *gorm.DB, q *queue.Queue, baseURL string, log *zap.Logger, senders ...notify.Sender) *Dispatcher {
	d := &Dispatcher{
		db:      db,
		queue:   q,
		senders: make(map[notify.Channel]notify.Sender, len(senders)),
		baseURL: baseURL,
		log:     log,
		sem:     semaphore.NewWeighted(maxConcurrentRecipients),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	d.resolvers = map[string]resolver{
		models.EventTypeAssetMatched: resolveAssetOwner,
		models.EventTypeSectorMatch:  resolveSectorUsers,
	}
	return d
}

// Run claims up to limit pending events and dispatches each, marking it
// completed or failed. A dispatch error fails only its own event.
func (d *Dispatcher) Run(ctx context.Context, limit int) error {
	events, err := d.queue.ClaimPending(limit)
	if err != nil {
		return err
	}

	for i := range events {
		if err := d.Dispatch(ctx, &events[i]); err != nil {
			d.log.Error("dispatch failed",
				zap.Uint("event_id", events[i].ID),
				zap.String("event_type", events[i].EventType),
				zap.Error(err))
			if ferr := d.queue.Fail(events[i].ID, err.Error()); ferr != nil {
				d.log.Warn("failed to mark event failed",
					zap.Uint("event_id", events[i].ID), zap.Error(ferr))
			}
			continue
		}
		if cerr := d.queue.Complete(events[i].ID); cerr != nil {
			d.log.Warn("failed to mark event completed",
				zap.Uint("event_id", events[i].ID), zap.Error(cerr))
		}
	}
	return nil
}

// Dispatch resolves the recipients for the event and notifies each of them
// concurrently. Quiet-hours users are skipped unless the event is urgent
// (priority 2 or better).
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.AlertEvent) error {
	recipients, err := d.Recipients(ev)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		d.log.Debug("no recipients for event",
			zap.Uint("event_id", ev.ID), zap.String("event_type", ev.EventType))
		return nil
	}

	msg := d.buildMessage(ev)
	now := time.Now()

	var wg sync.WaitGroup
	for i := range recipients {
		user := recipients[i]
		if user.InQuietHours(now) && ev.Priority > 2 {
			d.log.Debug("suppressed by quiet hours",
				zap.Uint("user_id", user.ID), zap.Uint("event_id", ev.ID))
			continue
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			d.NotifyUser(ctx, &user, msg)
		}()
	}
	wg.Wait()
	return nil
}

// NotifyUser attempts every enabled channel for the user. A channel failure
// is logged and does not block the remaining channels.
func (d *Dispatcher) NotifyUser(ctx context.Context, user *models.User, msg *notify.Message) {
	for _, sender := range d.senders {
		if !notify.Enabled(user, sender.Channel()) {
			continue
		}
		if err := sender.Send(ctx, user, msg); err != nil {
			d.log.Warn("channel send failed",
				zap.Uint("user_id", user.ID),
				zap.String("channel", string(sender.Channel())),
				zap.String("event_type", msg.EventType),
				zap.Error(err))
		}
	}
}

// Recipients resolves the users an event should notify. Unknown event types
// resolve to nobody.
func (d *Dispatcher) Recipients(ev *models.AlertEvent) ([]models.User, error) {
	resolve, ok := d.resolvers[ev.EventType]
	if !ok {
		return nil, nil
	}
	users, err := resolve(d.db, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %v", err)
	}
	active := users[:0]
	for _, u := range users {
		if u.IsActive {
			active = append(active, u)
		}
	}
	return active, nil
}

func (d *Dispatcher) buildMessage(ev *models.AlertEvent) *notify.Message {
	msg := &notify.Message{
		EventType: ev.EventType,
		Priority:  ev.Priority,
		URL:       d.baseURL + "/alerts",
		Timestamp: time.Now(),
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(ev.EventData), &data); err == nil {
		msg.Data = data
	}

	switch ev.EventType {
	case models.EventTypeAssetMatched:
		var p models.AssetMatchPayload
		if err := json.Unmarshal([]byte(ev.EventData), &p); err == nil {
			msg.Title = fmt.Sprintf("Threat match: %s", p.AssetName)
			msg.Body = fmt.Sprintf("Monitored %s asset matched %q in %s (severity %s).",
				p.AssetType, p.MatchedValue, p.SourceTable, p.Severity)
			msg.URL = fmt.Sprintf("%s/assets/%d", d.baseURL, p.AssetID)
			return msg
		}
	case models.EventTypeEscalation:
		msg.Title = "Escalated alert needs acknowledgement"
	}
	if msg.Title == "" {
		msg.Title = ev.EventType
		msg.Body = ev.EventData
	}
	return msg
}

func resolveAssetOwner(db *gorm.DB, ev *models.AlertEvent) ([]models.User, error) {
	var p models.AssetMatchPayload
	if err := json.Unmarshal([]byte(ev.EventData), &p); err != nil {
		return nil, fmt.Errorf("malformed event data: %v", err)
	}
	var asset models.MonitoredAsset
	if err := db.First(&asset, p.AssetID).Error; err != nil {
		return nil, fmt.Errorf("asset %d not found: %v", p.AssetID, err)
	}
	var owner models.User
	if err := db.First(&owner, asset.OwnerID).Error; err != nil {
		return nil, fmt.Errorf("asset owner %d not found: %v", asset.OwnerID, err)
	}
	return []models.User{owner}, nil
}

func resolveSectorUsers(db *gorm.DB, ev *models.AlertEvent) ([]models.User, error) {
	var p struct {
		Sector string `json:"sector"`
	}
	if err := json.Unmarshal([]byte(ev.EventData), &p); err != nil {
		return nil, fmt.Errorf("malformed event data: %v", err)
	}
	if p.Sector == "" {
		return nil, nil
	}
	var users []models.User
	if err := db.Where("sector = ?", p.Sector).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
