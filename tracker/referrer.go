// tracker/referrer.go
package tracker

import (
	"net/url"
	"strings"
)

const referrerStorageKey = "analytics_original_referrer"

// OriginalReferrer returns the first external referrer seen this session.
// Once a non-empty external value is cached it is never overwritten by
// later same-site navigation. Empty results are not cached: every call
// re-inspects the document referrer until an external one appears, so a
// referrer that shows up after the first paint is still captured.
func OriginalReferrer(env Environment, storage Storage) string {
	if env == nil || storage == nil {
		return ""
	}
	if cached := storage.Get(referrerStorageKey); cached != "" {
		return cached
	}

	ref := env.Referrer()
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		// Unparseable referrers are conservatively kept rather than discarded.
		storage.Set(referrerStorageKey, ref)
		return ref
	}
	if u.Host == "" || strings.EqualFold(u.Host, env.Host()) {
		// Internal navigation; keep waiting for a true external referrer.
		return ""
	}

	storage.Set(referrerStorageKey, ref)
	return ref
}
