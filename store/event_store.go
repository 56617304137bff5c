// api/store/event_store.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"portfolio/api/database"
	"portfolio/api/models"
	"portfolio/api/utils"
)

// EventStore is the persistence sink for enriched analytics events.
// Writes are single independent inserts; documents are immutable once stored.
type EventStore struct {
	DB *database.ClickHouseClient
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewEventStore(chClient *database.ClickHouseClient) *EventStore {
	return &EventStore{
		DB: chClient,
	}
}

// InsertEvent writes one enriched event document.
// Column names and order must exactly match the events table schema:
//
//	event_id String, event_type String, page String, session_id String,
//	referrer String, metadata String, ip_address String, user_agent String,
//	is_bot Bool, city String, country String, region String,
//	latitude Nullable(Float64), longitude Nullable(Float64),
//	timestamp DateTime64(3, 'UTC'), timestamp_local String
func (s *EventStore) InsertEvent(ctx context.Context, event models.Event) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize event metadata: %w", err)
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO events (
			event_id, event_type, page, session_id, referrer, metadata,
			ip_address, user_agent, is_bot, city, country, region,
			latitude, longitude, timestamp, timestamp_local
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}

	err = batch.Append(
		event.EventID,
		event.EventType,
		event.Page,
		event.SessionID,
		event.Referrer,
		string(metadataJSON),
		event.IPAddress,
		event.UserAgent,
		event.IsBot,
		event.Location.City,
		event.Location.Country,
		event.Location.Region,
		event.Location.Latitude,
		event.Location.Longitude,
		event.Timestamp,
		event.TimestampLocal,
	)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// RecentEvents returns the most recently received events, newest first.
func (s *EventStore) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT event_id, event_type, page, session_id, referrer, metadata,
		       ip_address, user_agent, is_bot, city, country, region,
		       latitude, longitude, timestamp, timestamp_local
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var results []models.Event
	for rows.Next() {
		var (
			event        models.Event
			metadataJSON string
		)
		if err := rows.Scan(
			&event.EventID,
			&event.EventType,
			&event.Page,
			&event.SessionID,
			&event.Referrer,
			&metadataJSON,
			&event.IPAddress,
			&event.UserAgent,
			&event.IsBot,
			&event.Location.City,
			&event.Location.Country,
			&event.Location.Region,
			&event.Location.Latitude,
			&event.Location.Longitude,
			&event.Timestamp,
			&event.TimestampLocal,
		); err != nil {
			log.Printf("Error scanning recent event row: %v", err)
			continue
		}
		if metadataJSON != "" && metadataJSON != "null" {
			if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
				log.Printf("Error decoding metadata for event %s: %v", event.EventID, err)
			}
		}
		results = append(results, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during recent events query: %w", err)
	}

	return results, nil
}

// CountEvents returns the total number of stored events.
func (s *EventStore) CountEvents(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.DB.Conn.QueryRow(ctx, `SELECT count() FROM events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// EventCountsOverTime buckets event counts by the given ClickHouse interval,
// optionally split by event type.
func (s *EventStore) EventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	var args []interface{}
	args = append(args, start, end)

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket    time.Time
			count         uint64
			eventTypeDB   string
			currentResult EventTypeCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Printf("Error scanning row for event counts over time (with type filter): %v", err)
				continue
			}
			currentResult.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Printf("Error scanning row for event counts over time (no type filter): %v", err)
				continue
			}
			currentResult.EventType = nil
		}

		currentResult.Time = timeBucket
		currentResult.Count = count
		results = append(results, currentResult)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

// TopPages returns the most viewed pages in the window.
func (s *EventStore) TopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPageResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page, count() as view_count
		FROM events
		WHERE event_type = 'page_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPageResult
	for rows.Next() {
		var page string
		var count uint64
		if err := rows.Scan(&page, &count); err != nil {
			log.Printf("Error scanning row for top pages: %v", err)
			continue
		}
		results = append(results, models.TopPageResult{
			Page:  page,
			Count: count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}

	return results, nil
}

// TopReferrers returns the most common non-empty original referrers among
// session-starting page views.
func (s *EventStore) TopReferrers(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopReferrerResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT referrer, count() as hits
		FROM events
		WHERE event_type = 'page_view' AND referrer != '' AND timestamp >= ? AND timestamp <= ?
		GROUP BY referrer
		ORDER BY hits DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top referrers: %w", err)
	}
	defer rows.Close()

	var results []models.TopReferrerResult
	for rows.Next() {
		var referrer string
		var count uint64
		if err := rows.Scan(&referrer, &count); err != nil {
			log.Printf("Error scanning row for top referrers: %v", err)
			continue
		}
		results = append(results, models.TopReferrerResult{
			Referrer: referrer,
			Count:    count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top referrers: %w", err)
	}

	return results, nil
}

// AverageEngagementSeconds averages the totalSeconds carried by
// heartbeat_batch events in the window.
func (s *EventStore) AverageEngagementSeconds(ctx context.Context, start, end time.Time) (float64, error) {
	query := `
		SELECT avg(JSONExtractFloat(metadata, 'totalSeconds'))
		FROM events
		WHERE event_type = 'heartbeat_batch' AND timestamp >= ? AND timestamp <= ?
	`

	var avgSeconds float64
	err := s.DB.Conn.QueryRow(ctx, query, start, end).Scan(&avgSeconds)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0.0, nil
		}
		return 0.0, fmt.Errorf("failed to query average engagement: %w", err)
	}

	// avg() over zero rows yields NaN, which JSON marshalling rejects.
	if math.IsNaN(avgSeconds) {
		return 0.0, nil
	}

	return avgSeconds, nil
}
