// tracker/emitter.go
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	// dedupWindow suppresses identical envelopes re-fired by overlapping UI
	// handlers; deliberate repeats spaced further apart still go through.
	dedupWindow    = 2 * time.Second
	dedupCacheSize = 50

	sendTimeout     = 10 * time.Second
	reliableTimeout = 3 * time.Second
)

// Envelope is the wire payload POSTed to the ingestion endpoint.
type Envelope struct {
	EventType string                 `json:"eventType"`
	Page      string                 `json:"page"`
	SessionID string                 `json:"sessionId"`
	Referrer  string                 `json:"referrer"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Emitter constructs event envelopes and delivers them to the ingestion
// endpoint. Delivery is fire-and-forget: failures are logged, never surfaced
// to the caller, and never retried. Construct one Emitter per page context
// and share it; there is no package-level instance.
type Emitter struct {
	// Client may be replaced before first use.
	Client *http.Client

	endpoint string
	env      Environment
	storage  Storage
	clk      clock.Clock

	mu       sync.Mutex
	lastSent map[string]time.Time
	order    []string
}

// NewEmitter wires an emitter to the given endpoint and page context.
// Pass nil for clk to use wall-clock time.
func NewEmitter(endpoint string, env Environment, storage Storage, clk clock.Clock) *Emitter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Emitter{
		Client:   &http.Client{Timeout: sendTimeout},
		endpoint: endpoint,
		env:      env,
		storage:  storage,
		clk:      clk,
		lastSent: make(map[string]time.Time),
	}
}

// disabled reports whether emission is a no-op: no browsing context, or a
// loopback/development host whose noise must never reach production data.
func (e *Emitter) disabled() bool {
	return e.env == nil || isLocalHost(e.env.Host())
}

// Track emits one event, best-effort. The network call runs detached from
// the caller so UI responsiveness is never chained to delivery.
func (e *Emitter) Track(eventType string, metadata map[string]interface{}) {
	body, ok := e.prepare(eventType, metadata)
	if !ok {
		return
	}
	go e.send(body, sendTimeout)
}

// TrackReliable emits one event synchronously on a context independent of
// the caller, so teardown of the calling scope cannot cancel the attempt.
// Used for the unload flush and final exit event.
func (e *Emitter) TrackReliable(eventType string, metadata map[string]interface{}) {
	body, ok := e.prepare(eventType, metadata)
	if !ok {
		return
	}
	e.send(body, reliableTimeout)
}

func (e *Emitter) prepare(eventType string, metadata map[string]interface{}) ([]byte, bool) {
	if e.disabled() {
		return nil, false
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	envelope := Envelope{
		EventType: eventType,
		Page:      e.env.Path(),
		SessionID: SessionID(e.env, e.storage),
		Referrer:  OriginalReferrer(e.env, e.storage),
		Metadata:  metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Event tracking error: %v", err)
		return nil, false
	}

	// json.Marshal sorts map keys, so the serialized metadata is a stable
	// dedup key component.
	metadataJSON, _ := json.Marshal(metadata)
	key := eventType + "|" + envelope.Page + "|" + string(metadataJSON)
	if !e.shouldSend(key) {
		return nil, false
	}

	return body, true
}

// shouldSend consults the bounded recency cache and records the send time.
func (e *Emitter) shouldSend(key string) bool {
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, seen := e.lastSent[key]; seen {
		if now.Sub(last) < dedupWindow {
			return false
		}
	} else {
		e.order = append(e.order, key)
		if len(e.order) > dedupCacheSize {
			oldest := e.order[0]
			e.order = e.order[1:]
			delete(e.lastSent, oldest)
		}
	}
	e.lastSent[key] = now
	return true
}

// send delivers one serialized envelope on a context of its own, so the
// attempt outlives whatever triggered it.
func (e *Emitter) send(body []byte, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("Event tracking failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		log.Printf("Event tracking failed: %v", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		log.Printf("Event tracking failed: endpoint returned status %d", resp.StatusCode)
	}
}

// Convenience wrappers fixing eventType and metadata shape.

func (e *Emitter) TrackPageView(metadata map[string]interface{}) {
	e.Track("page_view", metadata)
}

func (e *Emitter) TrackClick(element string, metadata map[string]interface{}) {
	e.Track("click", withField(metadata, "element", element))
}

func (e *Emitter) TrackProjectClick(project string, metadata map[string]interface{}) {
	e.Track("project_click", withField(metadata, "project", project))
}

func (e *Emitter) TrackFilterClick(filter string, resultCount int) {
	e.Track("filter_click", map[string]interface{}{
		"filter":      filter,
		"resultCount": resultCount,
	})
}

func (e *Emitter) TrackVisualizationClick(visualization string, metadata map[string]interface{}) {
	e.Track("visualization_click", withField(metadata, "visualization", visualization))
}

func (e *Emitter) TrackCTAClick(name, url string) {
	e.Track("cta_click", map[string]interface{}{
		"cta": name,
		"url": url,
	})
}

func (e *Emitter) TrackResumeDownload() {
	e.Track("resume_download", nil)
}

func (e *Emitter) TrackContactClick(method string) {
	e.Track("contact_click", map[string]interface{}{
		"method": method,
	})
}

func withField(metadata map[string]interface{}, key string, value interface{}) map[string]interface{} {
	merged := map[string]interface{}{key: value}
	for k, v := range metadata {
		merged[k] = v
	}
	return merged
}
