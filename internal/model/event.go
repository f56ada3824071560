package model

import "time"

// EventSource identifies which capture layer observed a NetworkEvent.
type EventSource string

const (
	SourceCDP              EventSource = "cdp"
	SourceFetch            EventSource = "fetch"
	SourceXHR              EventSource = "xhr"
	SourceBeacon           EventSource = "beacon"
	SourceWindowExtraction EventSource = "windowExtraction"
	SourceMutationObserver EventSource = "mutationObserver"
)

// NetworkEvent is a closed tagged variant: every captured event is either an
// AnalyticsCollect or a TagManagerLoad. The unexported marker method keeps
// the set closed to this package.
type NetworkEvent interface {
	isNetworkEvent()
	EventURL() string
	EventTimestamp() time.Time
}

// AnalyticsCollect is a single analytics hit, whether observed on the wire
// or synthesized from window extraction.
type AnalyticsCollect struct {
	URL              string
	Timestamp        time.Time
	AnalyticsID      string
	EventName        string
	DocumentLocation string
	CustomParams     map[string]string
	Source           EventSource
}

func (AnalyticsCollect) isNetworkEvent()                 {}
func (e AnalyticsCollect) EventURL() string              { return e.URL }
func (e AnalyticsCollect) EventTimestamp() time.Time     { return e.Timestamp }

// TagManagerLoad is a single tag-manager container load, whether observed
// by the network listener, the mutation observer, or window extraction.
type TagManagerLoad struct {
	URL           string
	Timestamp     time.Time
	TagManagerID  string
	Source        EventSource
}

func (TagManagerLoad) isNetworkEvent()             {}
func (e TagManagerLoad) EventURL() string          { return e.URL }
func (e TagManagerLoad) EventTimestamp() time.Time { return e.Timestamp }

// WindowExtractedEventName is the sentinel event name used for analytics
// containers surfaced only via window extraction.
const WindowExtractedEventName = "window_extracted"

// PageViewEventName is the distinguished GA4 event name the detector and
// validator look for.
const PageViewEventName = "page_view"
