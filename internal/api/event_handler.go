package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
)

// EventHandler serves the public calendar endpoints.
type EventHandler struct {
	calendar *service.CalendarService
	logger   *logrus.Logger
}

// NewEventHandler creates the handler around an existing calendar service.
func NewEventHandler(calendar *service.CalendarService, logger *logrus.Logger) *EventHandler {
	return &EventHandler{calendar: calendar, logger: logger}
}

// ListEvents event list with filters and paging
// GET /api/events?special=true&continent=europe&format=rapid&search=tata&limit=100&offset=0
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := repository.EventFilter{
		Special:   c.Query("special") == "true",
		Continent: c.Query("continent"),
		Format:    c.Query("format"),
		Search:    c.Query("search"),
		Limit:     limit,
		Offset:    offset,
	}

	events, total, err := h.calendar.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "ListEvents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
	})
}

// GetEvent single event by id
// GET /api/events/:id
func (h *EventHandler) GetEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	event, err := h.calendar.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "GetEvent", err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// CreateEvent create one event
// POST /api/events
func (h *EventHandler) CreateEvent(c *gin.Context) {
	var input model.EventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	id, err := h.calendar.Create(c.Request.Context(), &input)
	if err != nil {
		respondError(c, h.logger, "CreateEvent", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// UpdateEvent partial update, body is a field map
// PATCH /api/events/:id
func (h *EventHandler) UpdateEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := h.calendar.Update(c.Request.Context(), id, fields); err != nil {
		respondError(c, h.logger, "UpdateEvent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event updated"})
}

// DeleteEvent soft delete, or physical removal with ?permanent=true
// DELETE /api/events/:id
func (h *EventHandler) DeleteEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var err error
	if c.Query("permanent") == "true" {
		err = h.calendar.PermanentDelete(c.Request.Context(), id)
	} else {
		err = h.calendar.SoftDelete(c.Request.Context(), id)
	}
	if err != nil {
		respondError(c, h.logger, "DeleteEvent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event deleted"})
}

// RestoreEvent undo a soft delete
// POST /api/events/:id/restore
func (h *EventHandler) RestoreEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.calendar.Restore(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "RestoreEvent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event restored"})
}

// pathID parses the :id segment. On failure it writes the 400 itself.
func pathID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

// statusForError maps the typed service errors onto HTTP statuses.
func statusForError(err error) int {
	var validation *model.ValidationError
	var notFound *model.NotFoundError
	var badMode *model.UnsupportedModeError
	var stor *model.StorageError
	switch {
	case errors.As(err, &validation), errors.As(err, &badMode):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &stor) && stor.Duplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status := statusForError(err)
	entry := logger.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(op + " failed")
	} else {
		entry.Warn(op + " failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
