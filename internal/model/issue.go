package model

// IssueKind is the closed set of verdict issue kinds.
type IssueKind string

const (
	IssueAnalyticsIDMismatch    IssueKind = "ANALYTICS_ID_MISMATCH"
	IssueTagManagerIDMismatch   IssueKind = "TAG_MANAGER_ID_MISMATCH"
	IssuePageViewNotFound       IssueKind = "PAGE_VIEW_NOT_FOUND"
	IssueNoAnalyticsEvents      IssueKind = "NO_ANALYTICS_EVENTS"
	IssueAnalyticsNotConfigured IssueKind = "ANALYTICS_NOT_CONFIGURED"
	IssueConsentModeBasic       IssueKind = "CONSENT_MODE_BASIC_DETECTED"
	IssueTagManagerNotFound     IssueKind = "TAG_MANAGER_NOT_FOUND"
	IssueServiceClosed          IssueKind = "SERVICE_CLOSED"
	IssueServerError            IssueKind = "SERVER_ERROR"
	IssueValidationError        IssueKind = "VALIDATION_ERROR"
	IssueTimeout                IssueKind = "TIMEOUT"
)

// Severity is the closed set of issue severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is a single verdict finding. The field set is shared across all
// IssueKind values; Expected/Actual/Indicators are populated only where the
// kind calls for them.
type Issue struct {
	Kind       IssueKind
	Severity   Severity
	Message    string
	Expected   string
	Actual     string
	Indicators []string
}
