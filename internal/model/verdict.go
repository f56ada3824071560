package model

import "time"

// Phase identifies which scheduler pass produced a Verdict.
type Phase int

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
)

// VerdictStatus is the persisted status of a verdict row.
type VerdictStatus string

const (
	VerdictPassed  VerdictStatus = "passed"
	VerdictFailed  VerdictStatus = "failed"
	VerdictTimeout VerdictStatus = "timeout"
	VerdictError   VerdictStatus = "error"
)

// ExtractionSource is the derived primary channel an identifier was seen
// through.
type ExtractionSource string

const (
	SourcePrimaryWindow  ExtractionSource = "window"
	SourcePrimaryNetwork ExtractionSource = "network"
)

// IdCheckResult is the outcome of comparing an expected identifier against
// the set of identifiers observed in captured events.
type IdCheckResult struct {
	Expected     string
	ChosenActual string
	AllFound     []string
	Issues       []Issue
	IsValid      bool
}

// PageViewResult is the outcome of the page-view presence check.
type PageViewResult struct {
	Count             int
	DetectionLatencyMs int64
	TimedOut          bool
	Issues            []Issue
}

// ExtractionMetrics summarizes which capture layers observed which
// identifiers.
type ExtractionMetrics struct {
	PerID        map[string]map[EventSource]bool
	WindowCount  int
	NetworkCount int
	PrimarySource ExtractionSource
}

// Verdict is the single outcome record produced by the pipeline for one
// property in one phase. Produced exactly once per (runId, propertyId,
// phase).
type Verdict struct {
	PropertyID          string
	RunID               string
	Phase               Phase
	Status              VerdictStatus
	StartedAt           time.Time
	FinishedAt          time.Time
	NavigationStatus    int
	NavigationFinalURL  string
	Redirected          bool
	AnalyticsIDCheck    IdCheckResult
	TagManagerIDCheck   IdCheckResult
	PageViewCheck       PageViewResult
	ConsentModeObserved bool
	IsValid             bool
	Issues              []Issue
	WallClockMs         int64
	ScreenshotRef       string
	ExtractionSource    ExtractionMetrics
}
