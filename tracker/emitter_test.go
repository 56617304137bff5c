package tracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an ingestion endpoint stand-in that captures every envelope.
type recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
	server    *httptest.Server
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	rec := &recorder{}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("recorder: bad envelope: %v", err)
		}
		rec.mu.Lock()
		rec.envelopes = append(rec.envelopes, env)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

func (r *recorder) all() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

func (r *recorder) waitFor(t *testing.T, n int) []Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, 2*time.Second, 10*time.Millisecond)
	return r.all()
}

func testEmitter(t *testing.T, rec *recorder) (*Emitter, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	env := &PageEnvironment{
		PagePath: "/projects",
		PageHost: "abigailspencer.dev",
	}
	return NewEmitter(rec.server.URL, env, NewMemoryStorage(), clk), clk
}

func TestTrackReliableDeliversEnvelope(t *testing.T) {
	rec := newRecorder(t)
	e, _ := testEmitter(t, rec)

	e.TrackReliable("cta_click", map[string]interface{}{"cta": "resume"})

	envelopes := rec.all()
	require.Len(t, envelopes, 1)
	got := envelopes[0]
	assert.Equal(t, "cta_click", got.EventType)
	assert.Equal(t, "/projects", got.Page)
	assert.NotEmpty(t, got.SessionID)
	assert.Equal(t, map[string]interface{}{"cta": "resume"}, got.Metadata)
}

func TestTrackDedupWindow(t *testing.T) {
	rec := newRecorder(t)
	e, clk := testEmitter(t, rec)

	e.TrackReliable("filter_click", map[string]interface{}{"filter": "python"})
	e.TrackReliable("filter_click", map[string]interface{}{"filter": "python"})
	assert.Equal(t, 1, rec.count(), "identical event inside the window must be suppressed")

	// Past the suppression window the same event transmits again.
	clk.Advance(3 * time.Second)
	e.TrackReliable("filter_click", map[string]interface{}{"filter": "python"})
	assert.Equal(t, 2, rec.count())
}

func TestTrackDedupDistinguishesMetadata(t *testing.T) {
	rec := newRecorder(t)
	e, _ := testEmitter(t, rec)

	e.TrackReliable("filter_click", map[string]interface{}{"filter": "python"})
	e.TrackReliable("filter_click", map[string]interface{}{"filter": "sql"})
	assert.Equal(t, 2, rec.count())
}

func TestTrackDedupCacheIsBounded(t *testing.T) {
	rec := newRecorder(t)
	e, _ := testEmitter(t, rec)

	for i := 0; i < dedupCacheSize+10; i++ {
		e.TrackReliable("click", map[string]interface{}{"element": i})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.LessOrEqual(t, len(e.lastSent), dedupCacheSize)
	assert.Len(t, e.order, len(e.lastSent))
}

func TestTrackIsDisabledOnLocalHosts(t *testing.T) {
	rec := newRecorder(t)
	for _, host := range []string{"localhost:3000", "127.0.0.1", "[::1]:8080", "dev.local"} {
		e := NewEmitter(rec.server.URL, &PageEnvironment{PagePath: "/", PageHost: host}, NewMemoryStorage(), nil)
		e.TrackReliable("page_view", nil)
	}
	assert.Zero(t, rec.count(), "local/dev traffic must never be transmitted")
}

func TestTrackWithoutBrowserContextIsNoOp(t *testing.T) {
	rec := newRecorder(t)
	e := NewEmitter(rec.server.URL, nil, NewMemoryStorage(), nil)
	e.TrackReliable("page_view", nil)
	assert.Zero(t, rec.count())
}

func TestTrackTransportFailureIsSwallowed(t *testing.T) {
	env := &PageEnvironment{PagePath: "/", PageHost: "abigailspencer.dev"}
	e := NewEmitter("http://127.0.0.1:1/unreachable", env, NewMemoryStorage(), nil)

	// Must not panic or surface anything to the caller.
	e.TrackReliable("page_view", nil)
	e.Track("page_view", map[string]interface{}{"n": 2})
}

func TestConvenienceWrappersShapeMetadata(t *testing.T) {
	rec := newRecorder(t)
	e, _ := testEmitter(t, rec)

	e.TrackClick("resume-button", map[string]interface{}{"section": "hero"})
	e.TrackFilterClick("golang", 7)
	e.TrackProjectClick("event-analytics", nil)
	e.TrackContactClick("email")

	envelopes := rec.waitFor(t, 4)
	byType := map[string]Envelope{}
	for _, env := range envelopes {
		byType[env.EventType] = env
	}

	require.Contains(t, byType, "click")
	assert.Equal(t, "resume-button", byType["click"].Metadata["element"])
	assert.Equal(t, "hero", byType["click"].Metadata["section"])

	require.Contains(t, byType, "filter_click")
	assert.Equal(t, "golang", byType["filter_click"].Metadata["filter"])
	assert.Equal(t, float64(7), byType["filter_click"].Metadata["resultCount"])

	require.Contains(t, byType, "project_click")
	assert.Equal(t, "event-analytics", byType["project_click"].Metadata["project"])

	require.Contains(t, byType, "contact_click")
	assert.Equal(t, "email", byType["contact_click"].Metadata["method"])
}

// End-to-end: a page view from a simulated non-local browser context yields
// exactly one POST with the expected envelope.
func TestTrackPageViewEndToEnd(t *testing.T) {
	rec := newRecorder(t)
	e, _ := testEmitter(t, rec)

	e.TrackPageView(map[string]interface{}{"page": "home"})
	e.TrackPageView(map[string]interface{}{"page": "home"}) // double-fire, suppressed

	envelopes := rec.waitFor(t, 1)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "page_view", envelopes[0].EventType)
	assert.Equal(t, map[string]interface{}{"page": "home"}, envelopes[0].Metadata)
	assert.NotEmpty(t, envelopes[0].SessionID)
}
