package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threateye/internal/auth"
	"github.com/threateye/internal/database"
	"github.com/threateye/internal/dispatch"
	"github.com/threateye/internal/escalation"
	"github.com/threateye/internal/models"
	"github.com/threateye/internal/notify"
	"github.com/threateye/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T) (*Server, *gorm.DB, *queue.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenMemory()
	require.NoError(t, err)

	log := zap.NewNop()
	q := queue.New(db, log)
	dispatcher := dispatch.New(db, q, "http://dash.local", log, notify.NewInAppSender(db))
	engine := escalation.NewEngine(db, dispatcher, log)
	authenticator := auth.New(db, "test-secret")

	return NewServer(db, q, dispatcher, engine, authenticator), db, q
}

func seedAPIUser(t *testing.T, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	user := &models.User{Username: "worker", Role: role,
		Email: "worker@example.com", IsActive: true}
	require.NoError(t, user.SetPassword("hunter2"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "worker", "password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, db, _ := newTestServer(t)
	seedAPIUser(t, db, models.RoleAnalyst)

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "worker", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueueRPCRoundTrip(t *testing.T) {
	s, db, q := newTestServer(t)
	seedAPIUser(t, db, models.RoleAnalyst)
	token := login(t, s)

	ev, err := q.Enqueue("ioc.matched_asset", "1-indicators-1", nil, 1)
	require.NoError(t, err)

	// Unauthenticated access is rejected.
	w := doJSON(t, s, http.MethodGet, "/api/v1/alerts/pending", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/alerts/pending?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var claimed []models.AlertEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	require.Len(t, claimed, 1)
	assert.Equal(t, models.EventStatusInProgress, claimed[0].Status)

	// A second poll finds nothing; the claim already happened.
	w = doJSON(t, s, http.MethodGet, "/api/v1/alerts/pending", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	claimed = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	assert.Empty(t, claimed)

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/alerts/%d/complete", ev.ID), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Completing twice is a conflict, not a success.
	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/alerts/%d/complete", ev.ID), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFailAlertRecordsReason(t *testing.T) {
	s, db, q := newTestServer(t)
	seedAPIUser(t, db, models.RoleAnalyst)
	token := login(t, s)

	ev, err := q.Enqueue("ioc.matched_asset", "x", nil, 5)
	require.NoError(t, err)
	_, err = q.ClaimPending(1)
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/alerts/%d/fail", ev.ID), token,
		map[string]string{"reason": "smtp unreachable"})
	require.Equal(t, http.StatusOK, w.Code)

	var got models.AlertEvent
	require.NoError(t, db.First(&got, ev.ID).Error)
	assert.Equal(t, models.EventStatusFailed, got.Status)
	assert.Equal(t, "smtp unreachable", got.FailReason)
}

func TestAlertRecipientsReportsQuietHours(t *testing.T) {
	s, db, _ := newTestServer(t)
	owner := seedAPIUser(t, db, models.RoleAnalyst)
	token := login(t, s)

	require.NoError(t, db.Model(owner).Updates(map[string]interface{}{
		"email_enabled":       true,
		"quiet_hours_enabled": true,
		"quiet_start_minute":  0,
		"quiet_end_minute":    1440,
	}).Error)

	asset := &models.MonitoredAsset{OwnerID: owner.ID, AssetType: models.AssetTypeIP,
		Value: "1.2.3.4", IsMonitored: true}
	require.NoError(t, db.Create(asset).Error)

	data, _ := json.Marshal(models.AssetMatchPayload{AssetID: asset.ID})
	w := doJSON(t, s, http.MethodGet,
		"/api/v1/alerts/recipients?event_type=ioc.matched_asset&event_data="+url.QueryEscape(string(data)), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var recipients []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recipients))
	require.Len(t, recipients, 1)
	assert.Equal(t, true, recipients[0]["emailEnabled"])
	assert.Equal(t, true, recipients[0]["inQuietHours"])
}

func TestEscalationLifecycleOverAPI(t *testing.T) {
	s, db, q := newTestServer(t)
	user := seedAPIUser(t, db, models.RoleAnalyst)
	token := login(t, s)

	policy := &models.EscalationPolicy{Name: "p", Enabled: true}
	require.NoError(t, db.Create(policy).Error)
	level := &models.EscalationLevel{PolicyID: policy.ID, LevelOrder: 1, TimeoutMinutes: 5}
	require.NoError(t, db.Create(level).Error)
	require.NoError(t, db.Create(&models.EscalationTarget{
		LevelID: level.ID, TargetType: models.TargetTypeUser, UserID: user.ID,
	}).Error)

	ev, err := q.Enqueue("ioc.matched_asset", "y", nil, 1)
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodPost, "/api/v1/escalations", token,
		map[string]uint{"alert_event_id": ev.ID, "policy_id": policy.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var esc models.Escalation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &esc))

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/escalations/%d/acknowledge", esc.ID), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/escalations/%d/resolve", esc.ID), token,
		map[string]string{"notes": "handled"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Acknowledge after resolve is an invalid transition.
	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/escalations/%d/acknowledge", esc.ID), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/escalations/%d/history", esc.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.EscalationEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history, 3)
}
