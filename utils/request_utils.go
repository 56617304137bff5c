// api/utils/request_utils.go
package utils

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"portfolio/api/models"
)

const UnknownSentinel = "unknown"

// botSignatures is a best-effort heuristic list matched case-insensitively
// against the user-agent. Matches label the event, they never block storage.
var botSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"headless",
	"phantomjs",
	"puppeteer",
	"playwright",
	"selenium",
	"lighthouse",
	"pingdom",
	"uptimerobot",
	"statuscake",
	"slurp",
	"facebookexternalhit",
	"curl",
	"wget",
	"python-requests",
}

// ClientIP resolves the caller's address, preferring the forwarded-for chain
// set by the reverse proxy, then the direct-connection header, then the
// socket address itself.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the originating client; the rest are proxies.
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownSentinel
}

// IsBot reports whether the user-agent matches a known automation signature.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false
	}
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// IsLocalHost reports whether an inbound Host header (possibly host:port)
// points at a loopback or development origin.
func IsLocalHost(host string) bool {
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

// LocationFromRequest resolves geolocation from the edge/CDN headers the
// deployment platform stamps on each request. Every field degrades
// independently to its sentinel when the header is absent or unparseable.
func LocationFromRequest(r *http.Request) models.Location {
	loc := models.Location{
		City:    geoHeader(r, "X-Vercel-IP-City"),
		Country: geoHeader(r, "X-Vercel-IP-Country"),
		Region:  geoHeader(r, "X-Vercel-IP-Country-Region"),
	}
	if loc.Country == UnknownSentinel {
		loc.Country = geoHeader(r, "CF-IPCountry")
	}
	loc.Latitude = geoCoord(r, "X-Vercel-IP-Latitude")
	loc.Longitude = geoCoord(r, "X-Vercel-IP-Longitude")
	return loc
}

func geoHeader(r *http.Request, name string) string {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return UnknownSentinel
	}
	// Vercel percent-encodes city names ("S%C3%A3o%20Paulo").
	if decoded, err := url.QueryUnescape(v); err == nil {
		return decoded
	}
	return v
}

func geoCoord(r *http.Request, name string) *float64 {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
