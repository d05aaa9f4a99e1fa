package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/threateye/internal/auth"
	"github.com/threateye/internal/dispatch"
	"github.com/threateye/internal/escalation"
	"github.com/threateye/internal/models"
	"github.com/threateye/internal/queue"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	db         *gorm.DB
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	engine     *escalation.Engine
	auth       *auth.Authenticator
	router     *gin.Engine
}

func NewServer(db *gorm.DB, q *queue.Queue, d *dispatch.Dispatcher, e *escalation.Engine, a *auth.Authenticator) *Server {
	server := &Server{
		db:         db,
		queue:      q,
		dispatcher: d,
		engine:     e,
		auth:       a,
		router:     gin.Default(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.POST("/api/v1/auth/login", s.login)

	api := s.router.Group("/api/v1")
	api.Use(s.auth.Middleware())

	// Queue RPC surface consumed by workers and the CLI.
	api.GET("/alerts", s.listAlerts)
	api.GET("/alerts/pending", s.claimPendingAlerts)
	api.PUT("/alerts/:id/complete", s.completeAlert)
	api.PUT("/alerts/:id/fail", s.failAlert)
	api.GET("/alerts/recipients", s.alertRecipients)

	// Escalation lifecycle.
	esc := api.Group("/escalations")
	{
		esc.GET("", s.listEscalations)
		esc.POST("", auth.RequireRole(models.RoleAdmin, models.RoleAnalyst), s.createEscalation)
		esc.GET("/:id/history", s.escalationHistory)
		esc.PUT("/:id/acknowledge", auth.RequireRole(models.RoleAdmin, models.RoleAnalyst), s.acknowledgeEscalation)
		esc.PUT("/:id/resolve", auth.RequireRole(models.RoleAdmin, models.RoleAnalyst), s.resolveEscalation)
	}
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.CheckPassword(req.Password) || !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateToken(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": user.Role})
}

func (s *Server) listAlerts(c *gin.Context) {
	q := s.db.Order("created_at desc").Limit(100)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var events []models.AlertEvent
	if err := q.Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// claimPendingAlerts atomically claims up to limit pending events for the
// calling worker.
func (s *Server) claimPendingAlerts(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	events, err := s.queue.ClaimPending(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) completeAlert(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if err := s.queue.Complete(uint(id)); err != nil {
		if errors.Is(err, queue.ErrNotClaimable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *Server) failAlert(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.queue.Fail(uint(id), req.Reason); err != nil {
		if errors.Is(err, queue.ErrNotClaimable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

// alertRecipients resolves who would be notified for an event, with the
// channel flags and quiet-hours state evaluated at call time.
func (s *Server) alertRecipients(c *gin.Context) {
	eventType := c.Query("event_type")
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type is required"})
		return
	}
	ev := models.AlertEvent{
		EventType: eventType,
		EventData: c.Query("event_data"),
	}
	users, err := s.dispatcher.Recipients(&ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{
			"userId":       u.ID,
			"email":        u.Email,
			"emailEnabled": u.EmailEnabled,
			"pushEnabled":  u.PushEnabled,
			"inQuietHours": u.InQuietHours(now),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listEscalations(c *gin.Context) {
	q := s.db.Order("created_at desc").Limit(100)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var escalations []models.Escalation
	if err := q.Find(&escalations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, escalations)
}

func (s *Server) createEscalation(c *gin.Context) {
	var req struct {
		AlertEventID uint `json:"alert_event_id" binding:"required"`
		PolicyID     uint `json:"policy_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	esc, err := s.engine.Create(c.Request.Context(), req.AlertEventID, req.PolicyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, esc)
}

func (s *Server) escalationHistory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escalation id"})
		return
	}
	var history []models.EscalationEvent
	err = s.db.Where("escalation_id = ?", id).Order("created_at asc").Find(&history).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) acknowledgeEscalation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escalation id"})
		return
	}
	userID := c.GetUint("user_id")
	if err := s.engine.Acknowledge(uint(id), userID); err != nil {
		if errors.Is(err, escalation.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (s *Server) resolveEscalation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escalation id"})
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetUint("user_id")
	if err := s.engine.Resolve(uint(id), userID, req.Notes); err != nil {
		if errors.Is(err, escalation.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
