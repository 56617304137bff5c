// api/handlers/event_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"portfolio/api/models"
	"portfolio/api/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventSink is the persistence contract the ingestion endpoint needs:
// one insert and a bounded newest-first read.
type EventSink interface {
	InsertEvent(ctx context.Context, event models.Event) error
	RecentEvents(ctx context.Context, limit int) ([]models.Event, error)
	CountEvents(ctx context.Context) (uint64, error)
}

const recentEventsLimit = 20

type EventHandlers struct {
	Sink    EventSink
	localTZ *time.Location
}

func NewEventHandlers(sink EventSink) *EventHandlers {
	tzName := os.Getenv("REPORTING_TIMEZONE")
	if tzName == "" {
		tzName = "America/New_York"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("Invalid REPORTING_TIMEZONE %q, falling back to UTC: %v", tzName, err)
		loc = time.UTC
	}
	return &EventHandlers{Sink: sink, localTZ: loc}
}

// RecordEvent ingests one client event envelope, enriches it from the request
// context and persists it. Enrichment fields are derived exclusively from the
// transport layer; client-supplied values for them are structurally ignored
// by the EventPayload binding.
func (h *EventHandlers) RecordEvent(c *gin.Context) {
	var payload models.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.fail(c, err, "Failed to record event")
		return
	}

	// Development traffic is acknowledged but never stored.
	if utils.IsLocalHost(c.Request.Host) {
		c.JSON(http.StatusOK, gin.H{"success": true, "stored": false})
		return
	}

	if payload.Metadata == nil {
		payload.Metadata = map[string]interface{}{}
	}

	now := time.Now().UTC()
	userAgent := c.Request.UserAgent()

	event := models.Event{
		EventID:        uuid.New().String(),
		EventType:      payload.EventType,
		Page:           payload.Page,
		SessionID:      payload.SessionID,
		Referrer:       payload.Referrer,
		Metadata:       payload.Metadata,
		IPAddress:      utils.ClientIP(c.Request),
		UserAgent:      userAgent,
		IsBot:          utils.IsBot(userAgent),
		Location:       utils.LocationFromRequest(c.Request),
		Timestamp:      now,
		TimestampLocal: now.In(h.localTZ).Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Sink.InsertEvent(ctx, event); err != nil {
		h.fail(c, err, "Failed to record event")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"eventId": event.EventID,
		"stored":  true,
	})
}

// RecentEvents is an operational smoke-test endpoint: the newest stored
// events plus the caller's own resolved geolocation.
func (h *EventHandlers) RecentEvents(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	count, err := h.Sink.CountEvents(ctx)
	if err != nil {
		h.fail(c, err, "Failed to retrieve events")
		return
	}

	events, err := h.Sink.RecentEvents(ctx, recentEventsLimit)
	if err != nil {
		h.fail(c, err, "Failed to retrieve events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"yourLocation": utils.LocationFromRequest(c.Request),
		"eventCount":   count,
		"recentEvents": events,
	})
}

// fail logs the full error server-side and returns a generic failure body.
// Error detail is echoed to the client only outside release mode.
func (h *EventHandlers) fail(c *gin.Context, err error, public string) {
	log.Printf("ERROR: %s: %v", public, err)
	resp := gin.H{"success": false, "error": public}
	if gin.Mode() != gin.ReleaseMode {
		resp["message"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, resp)
}
