// tracker/session.go
package tracker

import (
	"crypto/rand"
	"fmt"
	"log"
	"strconv"
	"time"
)

const sessionStorageKey = "analytics_session_id"

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SessionID returns the opaque identifier grouping all events of one
// browsing session. The first call per storage scope mints an id of the form
// session_<epoch-ms>_<random-base36>; every later call returns the cached
// value unchanged. Returns "" when no environment is present.
func SessionID(env Environment, storage Storage) string {
	if env == nil || storage == nil {
		return ""
	}
	if cached := storage.Get(sessionStorageKey); cached != "" {
		return cached
	}
	id := fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), randomBase36(9))
	storage.Set(sessionStorageKey, id)
	return id
}

func randomBase36(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Printf("Failed to read random bytes for session id: %v", err)
		s := strconv.FormatInt(time.Now().UnixNano(), 36)
		if len(s) > n {
			s = s[len(s)-n:]
		}
		return s
	}
	for i := range b {
		b[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(b)
}
