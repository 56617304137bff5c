// tracker/heartbeat.go
package tracker

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	heartbeatInterval = 5 * time.Second
	flushInterval     = 30 * time.Second
	maxLinkTextLen    = 100
)

// scrollMilestones are the document-scroll thresholds that each fire a
// scroll_milestone event at most once per page load.
var scrollMilestones = [...]int{25, 50, 75, 90}

// Heartbeat is a per-page-load engagement monitor. While the page is visible
// it accumulates 5-second presence samples; accumulated samples are flushed
// as one heartbeat_batch event on a 30-second timer, on visibility loss, on
// same-site navigation, and on unload, whichever comes first.
type Heartbeat struct {
	emitter *Emitter
	clk     clock.Clock

	mu             sync.Mutex
	currentPage    string
	heartbeatCount int
	batchStart     time.Time
	pageLoad       time.Time
	visible        bool
	milestonesHit  map[int]bool
	disabled       bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHeartbeat builds a monitor over the emitter's page context. The monitor
// is inert (every method a no-op) when the emitter itself is disabled.
func NewHeartbeat(emitter *Emitter) *Heartbeat {
	h := &Heartbeat{
		emitter:       emitter,
		clk:           emitter.clk,
		visible:       true,
		milestonesHit: make(map[int]bool),
		stop:          make(chan struct{}),
	}
	h.disabled = emitter.disabled()
	if !h.disabled {
		h.currentPage = emitter.env.Path()
	}
	now := h.clk.Now()
	h.batchStart = now
	h.pageLoad = now
	return h
}

// Start arms the sampling and flush timers. Call Stop (or Unload) when the
// page context goes away.
func (h *Heartbeat) Start() {
	if h.disabled {
		return
	}
	go h.run()
}

func (h *Heartbeat) run() {
	sample := h.clk.NewTimer(heartbeatInterval)
	flush := h.clk.NewTimer(flushInterval)
	defer sample.Stop()
	defer flush.Stop()

	for {
		select {
		case <-sample.Chan():
			h.sampleTick()
			sample.Reset(heartbeatInterval)
		case <-flush.Chan():
			h.Flush()
			flush.Reset(flushInterval)
		case <-h.stop:
			return
		}
	}
}

// sampleTick records one presence sample. Hidden time is not engagement, so
// sampling is gated on visibility.
func (h *Heartbeat) sampleTick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.visible {
		h.heartbeatCount++
	}
}

// Flush transmits the accumulated batch, then zeroes the counters. A flush
// with nothing accumulated is a silent no-op that leaves batchStart alone.
func (h *Heartbeat) Flush() {
	h.flush(false)
}

func (h *Heartbeat) flush(reliable bool) {
	if h.disabled {
		return
	}

	h.mu.Lock()
	if h.heartbeatCount == 0 {
		h.mu.Unlock()
		return
	}
	now := h.clk.Now()
	intervals := h.heartbeatCount
	start := h.batchStart
	h.heartbeatCount = 0
	h.batchStart = now
	h.mu.Unlock()

	metadata := map[string]interface{}{
		"intervals":      intervals,
		"totalSeconds":   intervals * int(heartbeatInterval/time.Second),
		"actualDuration": int(now.Sub(start) / time.Second),
		"startTime":      start.UTC().Format(time.RFC3339),
		"endTime":        now.UTC().Format(time.RFC3339),
	}
	if reliable {
		h.emitter.TrackReliable("heartbeat_batch", metadata)
	} else {
		h.emitter.Track("heartbeat_batch", metadata)
	}
}

// SetVisibility mirrors the page visibility hook. Going hidden flushes the
// batch immediately and emits page_hidden; coming back emits page_visible.
func (h *Heartbeat) SetVisibility(visible bool) {
	if h.disabled {
		return
	}

	h.mu.Lock()
	if h.visible == visible {
		h.mu.Unlock()
		return
	}
	h.visible = visible
	pageLoad := h.pageLoad
	h.mu.Unlock()

	if !visible {
		h.flush(false)
		h.emitter.Track("page_hidden", map[string]interface{}{
			"timeOnPageSeconds": int(h.clk.Now().Sub(pageLoad) / time.Second),
		})
	} else {
		h.emitter.Track("page_visible", nil)
	}
}

// HandleLinkClick intercepts clicks on anchors. A same-origin destination
// whose path differs from the current page counts as in-site navigation:
// flush, emit navigation_click, then rebase the page state. Malformed or
// external hrefs are ignored.
func (h *Heartbeat) HandleLinkClick(href, linkText string) {
	if h.disabled {
		return
	}

	u, err := url.Parse(href)
	if err != nil {
		return
	}
	if u.Host != "" && !strings.EqualFold(u.Host, h.emitter.env.Host()) {
		return
	}
	to := u.Path
	if to == "" {
		return
	}

	h.mu.Lock()
	from := h.currentPage
	h.mu.Unlock()
	if to == from {
		return
	}

	h.flush(false)

	if len(linkText) > maxLinkTextLen {
		linkText = linkText[:maxLinkTextLen]
	}
	h.emitter.Track("navigation_click", map[string]interface{}{
		"from":     from,
		"to":       to,
		"linkText": linkText,
	})

	now := h.clk.Now()
	h.mu.Lock()
	h.currentPage = to
	h.pageLoad = now
	h.mu.Unlock()
}

// HandleScroll records crossing of scroll-depth thresholds. Each threshold
// fires once per page load, the first time it is crossed, with the exact
// percentage and seconds since load.
func (h *Heartbeat) HandleScroll(percent int) {
	if h.disabled {
		return
	}

	h.mu.Lock()
	var crossed []int
	for _, m := range scrollMilestones {
		if percent >= m && !h.milestonesHit[m] {
			h.milestonesHit[m] = true
			crossed = append(crossed, m)
		}
	}
	pageLoad := h.pageLoad
	h.mu.Unlock()

	for _, m := range crossed {
		h.emitter.Track("scroll_milestone", map[string]interface{}{
			"milestone":     m,
			"scrollPercent": percent,
			"secondsOnPage": int(h.clk.Now().Sub(pageLoad) / time.Second),
		})
	}
}

// Unload flushes through the teardown-surviving transport and emits the
// final page_exit event, then stops the timers. Ordinary fire-and-forget
// delivery is not dependable while the page is being torn down.
func (h *Heartbeat) Unload() {
	if h.disabled {
		return
	}

	h.flush(true)

	h.mu.Lock()
	pageLoad := h.pageLoad
	h.mu.Unlock()
	h.emitter.TrackReliable("page_exit", map[string]interface{}{
		"totalTimeSeconds": int(h.clk.Now().Sub(pageLoad) / time.Second),
	})

	h.Stop()
}

// Stop halts the timers. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}
