package capture

import "testing"

func TestIsAnalyticsCollectURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"primary host collect", "https://www.google-analytics.com/g/collect?v=2&tid=G-ABC123", true},
		{"secondary host collect", "https://analytics.google.com/g/collect?v=2&tid=G-ABC123", true},
		{"wrong path", "https://www.google-analytics.com/analytics.js", false},
		{"wrong host", "https://example.com/g/collect", false},
		{"denied exact host", "https://cdn.cookielaw.org/g/collect", false},
		{"denied wildcard host", "https://r.lr-ingest.io/g/collect", false},
		{"unparseable", "://bad-url", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAnalyticsCollectURL(tc.url); got != tc.want {
				t.Errorf("IsAnalyticsCollectURL(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestIsTagManagerLoaderURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"canonical loader", "https://www.googletagmanager.com/gtm.js?id=GTM-XXXX", true},
		{"wrong path", "https://www.googletagmanager.com/gtag/js?id=GTM-XXXX", false},
		{"wrong host", "https://example.com/gtm.js", false},
		{"case insensitive host", "https://WWW.GOOGLETAGMANAGER.COM/gtm.js?id=GTM-XXXX", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTagManagerLoaderURL(tc.url); got != tc.want {
				t.Errorf("IsTagManagerLoaderURL(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestWildcardHostMatch(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*.fullstory.com", "edge.fullstory.com", true},
		{"*.fullstory.com", "fullstory.com", true},
		{"*.fullstory.com", "notfullstory.com", false},
		{"cdn.cookielaw.org", "cdn.cookielaw.org", true},
		{"cdn.cookielaw.org", "other.cookielaw.org", false},
	}
	for _, tc := range cases {
		if got := wildcardHostMatch(tc.pattern, tc.host); got != tc.want {
			t.Errorf("wildcardHostMatch(%q, %q) = %v, want %v", tc.pattern, tc.host, got, tc.want)
		}
	}
}

func TestUrlsMatchIgnoringFragment(t *testing.T) {
	cases := []struct {
		name       string
		url1, url2 string
		want       bool
	}{
		{"identical", "https://x.com/g/collect?tid=G-1", "https://x.com/g/collect?tid=G-1", true},
		{"differ only by fragment", "https://x.com/g/collect?tid=G-1#frag", "https://x.com/g/collect?tid=G-1", true},
		{"different query", "https://x.com/g/collect?tid=G-1", "https://x.com/g/collect?tid=G-2", false},
		{"equivalent percent-encoding", "https://x.com/g/collect?dl=a%20b", "https://x.com/g/collect?dl=a+b", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := urlsMatchIgnoringFragment(tc.url1, tc.url2); got != tc.want {
				t.Errorf("urlsMatchIgnoringFragment(%q, %q) = %v, want %v", tc.url1, tc.url2, got, tc.want)
			}
		})
	}
}
