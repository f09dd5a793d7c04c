package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"opkomst/internal/auth"
	"opkomst/internal/repo"
	"opkomst/internal/roster"
	"opkomst/internal/service"
)

// Handler exposes the service over HTTP.
type Handler struct {
	svc       *service.Service
	jwtIssuer string
	jwtKey    string
	accessTTL time.Duration
}

// New builds a handler.
func New(svc *service.Service, jwtIssuer, jwtKey string, accessTTL time.Duration) *Handler {
	return &Handler{svc: svc, jwtIssuer: jwtIssuer, jwtKey: jwtKey, accessTTL: accessTTL}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/login", h.Login)

	authed := r.Group("/v1", auth.MemberAuth(h.jwtKey, h.jwtIssuer))
	authed.GET("/events", h.ListEvents)
	authed.POST("/events", h.CreateEvent)
	authed.PUT("/events/:id", h.UpdateEvent)
	authed.DELETE("/events/:id", h.DeleteEvent)
	authed.PUT("/events/:id/attendance", h.SetAttending)
	authed.GET("/events/:id/attendance", h.AttendanceSheet)
	authed.GET("/users", h.ListUsers)
	authed.PUT("/users/me", h.UpdateSelf)
}

func session(c *gin.Context) service.Session {
	claims, ok := auth.FromContext(c)
	if !ok {
		return service.Session{}
	}
	return service.Session{UserID: claims.UserID, Admin: claims.Admin}
}

// fail maps domain errors onto HTTP status codes.
func fail(c *gin.Context, err error) {
	var conflict *repo.RevisionConflictError
	switch {
	case errors.Is(err, roster.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, roster.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, roster.ErrWindowClosed), errors.Is(err, roster.ErrMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "rev": conflict.Actual})
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event or user not found"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Login exchanges email/password for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	token, exp, err := auth.Issue(u.ID, u.IsAdmin, h.jwtIssuer, h.jwtKey, h.accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp.Unix(), "user": u})
}

// ListEvents returns all events.
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.svc.ListEvents(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	if events == nil {
		events = []roster.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// CreateEvent stores a new event and returns the canonical record.
func (h *Handler) CreateEvent(c *gin.Context) {
	var e roster.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e.ID = "" // ids are store-assigned
	created, err := h.svc.CreateEvent(c.Request.Context(), session(c), e)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateEvent replaces the full event document, attendance included.
func (h *Handler) UpdateEvent(c *gin.Context) {
	var e roster.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e.ID = c.Param("id")
	updated, err := h.svc.UpdateEvent(c.Request.Context(), session(c), e)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteEvent removes an event.
func (h *Handler) DeleteEvent(c *gin.Context) {
	if err := h.svc.DeleteEvent(c.Request.Context(), session(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetAttending toggles RSVP membership and returns the updated event.
func (h *Handler) SetAttending(c *gin.Context) {
	var req struct {
		UserID    int64 `json:"userId" binding:"required"`
		Attending *bool `json:"attending" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.svc.SetAttending(c.Request.Context(), session(c), c.Param("id"), req.UserID, *req.Attending)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AttendanceSheet returns the admin edit view for an event.
func (h *Handler) AttendanceSheet(c *gin.Context) {
	entries, rev, err := h.svc.AttendanceSheet(c.Request.Context(), session(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rev": rev, "entries": entries})
}

// ListUsers returns members with freshly computed streepjes.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.UsersWithStreepjes(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	if users == nil {
		users = []roster.UserInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// UpdateSelf lets a member edit their own profile.
func (h *Handler) UpdateSelf(c *gin.Context) {
	var upd service.SelfUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.UpdateSelf(c.Request.Context(), session(c), upd)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
