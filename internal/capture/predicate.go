package capture

import (
	"net/url"
	"strings"
)

// Canonical hosts. Treated as code since they identify the
// specific vendor this system validates against, unlike the deny list.
const (
	analyticsHostPrimary   = "www.google-analytics.com"
	analyticsHostSecondary = "analytics.google.com"
	tagManagerHost         = "www.googletagmanager.com"

	analyticsCollectPathFragment = "/g/collect"
	tagManagerLoaderPath         = "/gtm.js"
)

// analyticsHosts is the closed set of hosts an analytics collect request
// may arrive on.
var analyticsHosts = map[string]bool{
	analyticsHostPrimary:   true,
	analyticsHostSecondary: true,
}

// denyListHosts is the closed false-positive deny list: hosts that would
// otherwise match the analytics predicate but are known to be something
// else. Treated as data, not baked into the predicate logic, so it can
// grow without touching the matcher.
var denyListHosts = []string{
	"*.lr-ingest.io",      // LogRocket session replay
	"*.fullstory.com",     // session replay
	"cdn.cookielaw.org",   // OneTrust consent management
	"*.onetrust.com",      // consent management
	"*.doubleclick.net",   // ad server
	"*.googlesyndication.com", // ad server
}

// IsAnalyticsCollectURL reports whether u is an analytics collect request:
// it carries the collect path fragment, its host is one of the canonical
// analytics hosts, and its host is not on the deny list.
func IsAnalyticsCollectURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.Contains(u.Path, analyticsCollectPathFragment) {
		return false
	}
	if !analyticsHosts[strings.ToLower(u.Hostname())] {
		return false
	}
	return !hostDenied(u.Hostname())
}

// IsTagManagerLoaderURL reports whether u is a tag-manager container load:
// canonical host and exact loader path.
func IsTagManagerLoaderURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), tagManagerHost) && u.Path == tagManagerLoaderPath
}

func hostDenied(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range denyListHosts {
		if wildcardHostMatch(pattern, host) {
			return true
		}
	}
	return false
}

// wildcardHostMatch matches a "*.example.com" or exact-host pattern against
// a lowercased hostname.
func wildcardHostMatch(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	suffix := pattern[1:] // keep leading dot: ".example.com"
	return strings.HasSuffix(host, suffix) || host == pattern[2:]
}

// urlsMatchIgnoringFragment reports whether two URLs refer to the same
// resource modulo a `#fragment`, tolerating encoding differences. This is
// the identity test the Network Event Capturer uses to deduplicate events
// observed by more than one capture layer.
func urlsMatchIgnoringFragment(url1, url2 string) bool {
	base1 := stripFragment(url1)
	base2 := stripFragment(url2)

	if base1 == base2 {
		return true
	}

	decoded1, err1 := url.QueryUnescape(base1)
	decoded2, err2 := url.QueryUnescape(base2)
	if err1 == nil && err2 == nil && decoded1 == decoded2 {
		return true
	}

	parsed1, err1 := url.Parse(base1)
	parsed2, err2 := url.Parse(base2)
	if err1 != nil || err2 != nil {
		return false
	}
	return parsed1.Host == parsed2.Host && parsed1.Path == parsed2.Path && parsed1.RawQuery == parsed2.RawQuery
}

func stripFragment(rawURL string) string {
	if idx := strings.Index(rawURL, "#"); idx > -1 {
		return rawURL[:idx]
	}
	return rawURL
}
