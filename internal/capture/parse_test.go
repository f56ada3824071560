package capture

import (
	"testing"
	"time"

	"github.com/user/tagwatch/internal/model"
)

func TestParseAnalyticsCollectURL_QueryOnly(t *testing.T) {
	now := time.Now()
	event := ParseAnalyticsCollectURL(
		"https://www.google-analytics.com/g/collect?v=2&tid=G-ABC123&en=page_view&dl=https%3A%2F%2Fexample.com%2F&epn.value=3",
		"", model.SourceCDP, now,
	)

	if event.AnalyticsID != "G-ABC123" {
		t.Errorf("AnalyticsID = %q, want G-ABC123", event.AnalyticsID)
	}
	if event.EventName != "page_view" {
		t.Errorf("EventName = %q, want page_view", event.EventName)
	}
	if event.DocumentLocation != "https://example.com/" {
		t.Errorf("DocumentLocation = %q", event.DocumentLocation)
	}
	if event.CustomParams["epn.value"] != "3" {
		t.Errorf("CustomParams[epn.value] = %q, want 3", event.CustomParams["epn.value"])
	}
	if event.Source != model.SourceCDP {
		t.Errorf("Source = %v, want SourceCDP", event.Source)
	}
}

func TestParseAnalyticsCollectURL_PostBodyOverridesQuery(t *testing.T) {
	event := ParseAnalyticsCollectURL(
		"https://www.google-analytics.com/g/collect?v=2&tid=G-QUERY&en=click",
		"tid=G-BODY&en=page_view",
		model.SourceCDP, time.Now(),
	)

	if event.AnalyticsID != "G-BODY" {
		t.Errorf("AnalyticsID = %q, want G-BODY (body overrides query)", event.AnalyticsID)
	}
	if event.EventName != "page_view" {
		t.Errorf("EventName = %q, want page_view (body overrides query)", event.EventName)
	}
}

func TestParseTagManagerLoaderURL(t *testing.T) {
	event := ParseTagManagerLoaderURL("https://www.googletagmanager.com/gtm.js?id=GTM-WXYZ", model.SourceCDP, time.Now())
	if event.TagManagerID != "GTM-WXYZ" {
		t.Errorf("TagManagerID = %q, want GTM-WXYZ", event.TagManagerID)
	}
}

func TestParseTagManagerLoaderURL_MissingID(t *testing.T) {
	event := ParseTagManagerLoaderURL("https://www.googletagmanager.com/gtm.js", model.SourceCDP, time.Now())
	if event.TagManagerID != "" {
		t.Errorf("TagManagerID = %q, want empty", event.TagManagerID)
	}
}
