// tracker/environment.go
package tracker

import (
	"net"
	"strings"
	"sync"
)

// Environment describes the page context the tracker runs in: the current
// path and host plus the inbound document referrer. A nil Environment means
// no browsing context exists (the server-side-rendering case); every tracker
// entry point treats that as a silent no-op.
type Environment interface {
	Path() string
	Host() string
	Referrer() string
}

// Storage is session-scoped key/value storage. Values live for one browsing
// session and are never persisted across restarts.
type Storage interface {
	Get(key string) string
	Set(key, value string)
}

// PageEnvironment is a plain Environment backed by fields.
type PageEnvironment struct {
	PagePath    string
	PageHost    string
	DocReferrer string
}

func (e *PageEnvironment) Path() string     { return e.PagePath }
func (e *PageEnvironment) Host() string     { return e.PageHost }
func (e *PageEnvironment) Referrer() string { return e.DocReferrer }

// MemoryStorage is the in-process Storage implementation.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// isLocalHost reports whether the environment host is a loopback or
// development origin; tracking is disabled entirely on those.
func isLocalHost(host string) bool {
	h := strings.ToLower(host)
	if parsed, _, err := net.SplitHostPort(h); err == nil {
		h = parsed
	}
	h = strings.Trim(h, "[]")
	switch h {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return strings.HasSuffix(h, ".local")
}
