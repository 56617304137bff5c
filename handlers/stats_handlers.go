// api/handlers/stats_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"portfolio/api/models"
	"portfolio/api/store"

	"github.com/gin-gonic/gin"
)

// StatsSource provides the aggregate read queries behind the dashboard.
type StatsSource interface {
	EventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]store.EventTypeCountByTime, error)
	TopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPageResult, error)
	TopReferrers(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopReferrerResult, error)
	AverageEngagementSeconds(ctx context.Context, start, end time.Time) (float64, error)
}

type StatsHandlers struct {
	Source StatsSource
}

func NewStatsHandlers(source StatsSource) *StatsHandlers {
	return &StatsHandlers{Source: source}
}

// timeRange parses optional start/end query params, defaulting to the last
// 7 days. A false return means a 400 has already been written.
func timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	end := time.Now().UTC()

	if startParam := c.Query("start"); startParam != "" {
		parsed, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		start = parsed
	}
	if endParam := c.Query("end"); endParam != "" {
		parsed, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		end = parsed
	}
	return start, end, true
}

func limitParam(c *gin.Context) (uint64, bool) {
	var limit uint64 = 10
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.ParseUint(limitStr, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Source.EventCountsOverTime(ctx, interval, start, end, eventTypeFilter)
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Source.TopPages(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top pages statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopReferrers(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Source.TopReferrers(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top referrers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top referrers statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetAverageEngagement(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avgSeconds, err := h.Source.AverageEngagementSeconds(ctx, start, end)
	if err != nil {
		log.Printf("Error getting average engagement: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve engagement statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"startDate":             start.Format(time.RFC3339),
		"endDate":               end.Format(time.RFC3339),
		"averageEngagementSecs": avgSeconds,
	})
}
