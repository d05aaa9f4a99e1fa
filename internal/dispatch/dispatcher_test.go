package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threateye/internal/database"
	"github.com/threateye/internal/models"
	"github.com/threateye/internal/notify"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSender struct {
	channel notify.Channel
	err     error

	mu   sync.Mutex
	sent []uint // user IDs, in delivery order
}

func (f *fakeSender) Channel() notify.Channel { return f.channel }

func (f *fakeSender) Send(ctx context.Context, user *models.User, msg *notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, user.ID)
	return f.err
}

func (f *fakeSender) sentTo() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.sent...)
}

func newTestDispatcher(t *testing.T, senders ...notify.Sender) (*Dispatcher, *gorm.DB, *queue.Queue) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	q := queue.New(db, zap.NewNop())
	return New(db, q, "http://dash.local", zap.NewNop(), senders...), db, q
}

func seedOwnerAndAsset(t *testing.T, db *gorm.DB, user *models.User) (*models.User, *models.MonitoredAsset) {
	t.Helper()
	require.NoError(t, db.Create(user).Error)
	asset := &models.MonitoredAsset{
		OwnerID: user.ID, AssetType: models.AssetTypeIP, Value: "1.2.3.4",
		Name: "edge", Criticality: models.CriticalityCritical, IsMonitored: true,
	}
	require.NoError(t, db.Create(asset).Error)
	return user, asset
}

func matchEvent(t *testing.T, db *gorm.DB, q *queue.Queue, asset *models.MonitoredAsset, priority int) *models.AlertEvent {
	t.Helper()
	payload := models.AssetMatchPayload{
		AssetID: asset.ID, AssetName: asset.Name, AssetType: string(asset.AssetType),
		MatchedValue: "1.2.3.4", SourceTable: "indicators", SourceID: "1",
	}
	ev, err := q.Enqueue(models.EventTypeAssetMatched, "test", payload, priority)
	require.NoError(t, err)
	return ev
}

func TestDispatchNotifiesAssetOwner(t *testing.T) {
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, inApp)

	owner, asset := seedOwnerAndAsset(t, db, &models.User{
		Username: "alice", Password: "x", Role: models.RoleAnalyst,
		Email: "alice@example.com", IsActive: true, InAppEnabled: true,
	})
	ev := matchEvent(t, db, q, asset, 1)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	assert.Equal(t, []uint{owner.ID}, inApp.sentTo())
}

func TestQuietHoursSuppressesNonUrgentOnly(t *testing.T) {
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, inApp)

	// Quiet window covering the whole day so the test is time-independent.
	_, asset := seedOwnerAndAsset(t, db, &models.User{
		Username: "bob", Password: "x", Role: models.RoleAnalyst,
		Email: "bob@example.com", IsActive: true, InAppEnabled: true,
		QuietHoursEnabled: true, QuietStartMinute: 0, QuietEndMinute: 1440,
	})

	routine := matchEvent(t, db, q, asset, 5)
	require.NoError(t, d.Dispatch(context.Background(), routine))
	assert.Empty(t, inApp.sentTo(), "priority 5 suppressed during quiet hours")

	urgent := &models.AlertEvent{
		EventType: models.EventTypeAssetMatched,
		EventData: routine.EventData,
		Priority:  2,
	}
	require.NoError(t, d.Dispatch(context.Background(), urgent))
	assert.Len(t, inApp.sentTo(), 1, "priority 2 still delivered during quiet hours")
}

func TestChannelFailureDoesNotBlockOtherChannels(t *testing.T) {
	broken := &fakeSender{channel: notify.ChannelEmail, err: errors.New("smtp down")}
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, broken, inApp)

	owner, asset := seedOwnerAndAsset(t, db, &models.User{
		Username: "carol", Password: "x", Role: models.RoleAnalyst,
		Email: "carol@example.com", IsActive: true,
		EmailEnabled: true, InAppEnabled: true,
	})
	ev := matchEvent(t, db, q, asset, 1)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	assert.Equal(t, []uint{owner.ID}, broken.sentTo())
	assert.Equal(t, []uint{owner.ID}, inApp.sentTo())
}

func TestDisabledChannelsAreSkipped(t *testing.T) {
	email := &fakeSender{channel: notify.ChannelEmail}
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, email, inApp)

	_, asset := seedOwnerAndAsset(t, db, &models.User{
		Username: "dave", Password: "x", Role: models.RoleAnalyst,
		Email: "dave@example.com", IsActive: true,
		EmailEnabled: false, InAppEnabled: true,
	})
	ev := matchEvent(t, db, q, asset, 1)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	assert.Empty(t, email.sentTo())
	assert.Len(t, inApp.sentTo(), 1)
}

func TestSectorResolverFansOutToAllSectorUsers(t *testing.T) {
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, inApp)

	for _, name := range []string{"u1", "u2"} {
		require.NoError(t, db.Create(&models.User{
			Username: name, Password: "x", Role: models.RoleViewer,
			Email: name + "@example.com", Sector: "finance",
			IsActive: true, InAppEnabled: true,
		}).Error)
	}
	require.NoError(t, db.Create(&models.User{
		Username: "other", Password: "x", Role: models.RoleViewer,
		Email: "other@example.com", Sector: "energy",
		IsActive: true, InAppEnabled: true,
	}).Error)

	data, _ := json.Marshal(map[string]string{"sector": "finance"})
	ev, err := q.Enqueue(models.EventTypeSectorMatch, "inc-9", json.RawMessage(data), 5)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	assert.Len(t, inApp.sentTo(), 2)
}

func TestRunCompletesDispatchedAndFailsBroken(t *testing.T) {
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, db, q := newTestDispatcher(t, inApp)

	_, asset := seedOwnerAndAsset(t, db, &models.User{
		Username: "erin", Password: "x", Role: models.RoleAnalyst,
		Email: "erin@example.com", IsActive: true, InAppEnabled: true,
	})
	good := matchEvent(t, db, q, asset, 1)

	// Points at an asset that does not exist, so recipient resolution fails.
	badPayload := models.AssetMatchPayload{AssetID: 9999}
	bad, err := q.Enqueue(models.EventTypeAssetMatched, "missing-asset", badPayload, 1)
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background(), 10))

	var got models.AlertEvent
	require.NoError(t, db.First(&got, good.ID).Error)
	assert.Equal(t, models.EventStatusCompleted, got.Status)

	got = models.AlertEvent{}
	require.NoError(t, db.First(&got, bad.ID).Error)
	assert.Equal(t, models.EventStatusFailed, got.Status)
	assert.NotEmpty(t, got.FailReason)
}

func TestUnknownEventTypeHasNoRecipients(t *testing.T) {
	inApp := &fakeSender{channel: notify.ChannelInApp}
	d, _, q := newTestDispatcher(t, inApp)

	ev, err := q.Enqueue("billing.invoice_created", "inv-1", nil, 5)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	assert.Empty(t, inApp.sentTo())
}
