package tracker

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeartbeat(t *testing.T) (*Heartbeat, *recorder, *testclock.Clock) {
	t.Helper()
	rec := newRecorder(t)
	e, clk := testEmitter(t, rec)
	h := NewHeartbeat(e)
	t.Cleanup(h.Stop)
	return h, rec, clk
}

func (r *recorder) ofType(eventType string) []Envelope {
	var out []Envelope
	for _, env := range r.all() {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

func TestFlushWithZeroSamplesIsNoOp(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	before := h.batchStart
	clk.Advance(7 * time.Second)
	h.Flush()

	assert.Zero(t, rec.count(), "empty batches must not be transmitted")
	assert.Equal(t, before, h.batchStart, "a no-op flush must not move the batch start")
}

func TestFlushTransmitsBatchAndResets(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	for i := 0; i < 3; i++ {
		clk.Advance(heartbeatInterval)
		h.sampleTick()
	}
	h.flush(true)

	batches := rec.ofType("heartbeat_batch")
	require.Len(t, batches, 1)
	md := batches[0].Metadata
	assert.Equal(t, float64(3), md["intervals"])
	assert.Equal(t, float64(15), md["totalSeconds"])
	assert.Equal(t, float64(15), md["actualDuration"])
	assert.NotEmpty(t, md["startTime"])
	assert.NotEmpty(t, md["endTime"])

	// Counter resets immediately regardless of network outcome.
	assert.Zero(t, h.heartbeatCount)
	assert.Equal(t, clk.Now(), h.batchStart)

	// And the next flush with nothing accumulated stays silent.
	h.flush(true)
	assert.Len(t, rec.ofType("heartbeat_batch"), 1)
}

func TestHiddenTimeIsNotSampled(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	h.sampleTick()
	h.SetVisibility(false) // flushes the single accumulated sample
	h.sampleTick()
	h.sampleTick() // hidden ticks must not count
	clk.Advance(10 * time.Second)
	h.SetVisibility(true)
	h.sampleTick()
	h.flush(true)

	require.Eventually(t, func() bool { return len(rec.ofType("heartbeat_batch")) == 2 }, 2*time.Second, 10*time.Millisecond)
	batches := rec.ofType("heartbeat_batch")
	assert.Equal(t, float64(1), batches[0].Metadata["intervals"])
	assert.Equal(t, float64(1), batches[1].Metadata["intervals"])
}

func TestVisibilityChangeEmitsEvents(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	// Hidden with nothing accumulated: no batch, just page_hidden.
	clk.Advance(42 * time.Second)
	h.SetVisibility(false)

	rec.waitFor(t, 1)
	assert.Empty(t, rec.ofType("heartbeat_batch"))
	hidden := rec.ofType("page_hidden")
	require.Len(t, hidden, 1)
	assert.Equal(t, float64(42), hidden[0].Metadata["timeOnPageSeconds"])

	h.SetVisibility(true)
	rec.waitFor(t, 2)
	assert.Len(t, rec.ofType("page_visible"), 1)

	// Redundant transitions are ignored.
	h.SetVisibility(true)
	assert.Len(t, rec.ofType("page_visible"), 1)
}

func TestGoingHiddenFlushesAccumulatedBatchFirst(t *testing.T) {
	h, rec, _ := testHeartbeat(t)

	h.sampleTick()
	h.sampleTick()
	h.SetVisibility(false)

	rec.waitFor(t, 2)
	require.Len(t, rec.ofType("heartbeat_batch"), 1)
	require.Len(t, rec.ofType("page_hidden"), 1)
}

func TestScrollMilestonesFireOncePerPageLoad(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	h.HandleScroll(20)
	assert.Zero(t, rec.count(), "below every threshold")

	clk.Advance(4 * time.Second)
	h.HandleScroll(30)
	milestones := rec.waitFor(t, 1)
	require.Len(t, milestones, 1)
	assert.Equal(t, float64(25), milestones[0].Metadata["milestone"])
	assert.Equal(t, float64(30), milestones[0].Metadata["scrollPercent"])
	assert.Equal(t, float64(4), milestones[0].Metadata["secondsOnPage"])

	// 55% newly crosses only the 50 threshold.
	h.HandleScroll(55)
	rec.waitFor(t, 2)
	fifties := rec.ofType("scroll_milestone")
	require.Len(t, fifties, 2)
	assert.Equal(t, float64(50), fifties[1].Metadata["milestone"])

	// Scrolling back and forward again must not re-fire.
	h.HandleScroll(40)
	h.HandleScroll(60)
	assert.Len(t, rec.ofType("scroll_milestone"), 2)
}

func TestScrollCrossingSeveralThresholdsAtOnce(t *testing.T) {
	h, rec, _ := testHeartbeat(t)

	h.HandleScroll(92)
	events := rec.waitFor(t, 4)
	require.Len(t, events, 4)
	var fired []float64
	for _, env := range events {
		fired = append(fired, env.Metadata["milestone"].(float64))
	}
	assert.ElementsMatch(t, []float64{25, 50, 75, 90}, fired)
}

func TestNavigationClickFlushesAndRebases(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	h.sampleTick()
	clk.Advance(9 * time.Second)
	h.HandleLinkClick("/about", "About "+strings.Repeat("x", 200))

	rec.waitFor(t, 2)
	require.Len(t, rec.ofType("heartbeat_batch"), 1, "navigation must flush first")

	navs := rec.ofType("navigation_click")
	require.Len(t, navs, 1)
	md := navs[0].Metadata
	assert.Equal(t, "/projects", md["from"])
	assert.Equal(t, "/about", md["to"])
	assert.Len(t, md["linkText"], maxLinkTextLen)

	assert.Equal(t, "/about", h.currentPage)
	assert.Equal(t, clk.Now(), h.pageLoad)
}

func TestNavigationIgnoresExternalAndMalformedLinks(t *testing.T) {
	h, rec, _ := testHeartbeat(t)

	h.HandleLinkClick("https://github.com/someone/project", "GitHub")
	h.HandleLinkClick("http://%zz-broken", "broken")
	h.HandleLinkClick("/projects", "same page")

	assert.Zero(t, rec.count())
	assert.Equal(t, "/projects", h.currentPage)
}

func TestNavigationAcceptsSameOriginAbsoluteLinks(t *testing.T) {
	h, rec, _ := testHeartbeat(t)

	h.HandleLinkClick("https://abigailspencer.dev/about", "About")
	navs := rec.waitFor(t, 1)
	require.Len(t, navs, 1)
	assert.Equal(t, "/about", navs[0].Metadata["to"])
}

func TestUnloadFlushesReliablyAndEmitsPageExit(t *testing.T) {
	h, rec, clk := testHeartbeat(t)

	h.sampleTick()
	h.sampleTick()
	clk.Advance(75 * time.Second)
	h.Unload()

	// Both sends are synchronous on the reliable path.
	require.Len(t, rec.ofType("heartbeat_batch"), 1)
	exits := rec.ofType("page_exit")
	require.Len(t, exits, 1)
	assert.Equal(t, float64(75), exits[0].Metadata["totalTimeSeconds"])
}

func TestSamplingTimerDrivenByClock(t *testing.T) {
	h, rec, clk := testHeartbeat(t)
	h.Start()

	for i := 0; i < 3; i++ {
		// Two waiters: the sampling timer and the flush timer.
		require.NoError(t, clk.WaitAdvance(heartbeatInterval, time.Second, 2))
		require.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.heartbeatCount == i+1
		}, time.Second, time.Millisecond)
	}

	h.Stop()
	h.flush(true)

	batches := rec.ofType("heartbeat_batch")
	require.Len(t, batches, 1)
	assert.Equal(t, float64(3), batches[0].Metadata["intervals"])
}

func TestHeartbeatDisabledOnLocalHost(t *testing.T) {
	rec := newRecorder(t)
	env := &PageEnvironment{PagePath: "/", PageHost: "localhost:3000"}
	e := NewEmitter(rec.server.URL, env, NewMemoryStorage(), nil)
	h := NewHeartbeat(e)

	h.Start()
	h.sampleTick()
	h.SetVisibility(false)
	h.HandleScroll(95)
	h.Unload()

	assert.Zero(t, rec.count())
}
