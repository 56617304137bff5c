// api/models/event.go
package models

import "time"

// EventPayload is the envelope the tracking client submits. It deliberately
// contains only client-owned fields: anything the server derives from the
// request (IP, user agent, timestamps, bot flag, location) has no place here,
// so a forged payload cannot influence the enriched document.
type EventPayload struct {
	EventType string                 `json:"eventType" binding:"required"`
	Page      string                 `json:"page"`
	SessionID string                 `json:"sessionId"`
	Referrer  string                 `json:"referrer"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Location holds the geolocation resolved from the request context.
// Every field degrades independently: unresolvable string fields carry the
// "unknown" sentinel, unresolvable coordinates stay nil.
type Location struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Region    string   `json:"region"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Event is the fully enriched document persisted to the events collection.
type Event struct {
	EventID   string                 `json:"eventId"`
	EventType string                 `json:"eventType"`
	Page      string                 `json:"page"`
	SessionID string                 `json:"sessionId"`
	Referrer  string                 `json:"referrer"`
	Metadata  map[string]interface{} `json:"metadata"`

	// Server-enriched fields below; never copied from the client payload.
	IPAddress      string    `json:"ipAddress"`
	UserAgent      string    `json:"userAgent"`
	IsBot          bool      `json:"isBot"`
	Location       Location  `json:"location"`
	Timestamp      time.Time `json:"timestamp"`
	TimestampLocal string    `json:"timestampLocal"`
}

type TopPageResult struct {
	Page  string `json:"page"`
	Count uint64 `json:"count"`
}

type TopReferrerResult struct {
	Referrer string `json:"referrer"`
	Count    uint64 `json:"count"`
}
