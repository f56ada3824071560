// Package validate implements the Verdict Validator: the
// pure combination of a Property's expected configuration with the
// Analytics Detection Engine's output into a single Verdict with typed
// issues.
package validate

import (
	"time"

	"github.com/user/tagwatch/internal/detect"
	"github.com/user/tagwatch/internal/model"
)

// NavigationResult carries the outcome of the navigate step the pipeline
// runs before validation.
type NavigationResult struct {
	Status     int
	FinalURL   string
	Redirected bool
	Page       PageText
}

// Context is the boolean facts the Consent Mode Basic table needs beyond
// the raw event list.
type Context struct {
	TagManagerLoaded   bool
	ExpectedIDInWindow bool
}

// Input bundles everything Validate needs to produce a Verdict for one
// property in one phase.
type Input struct {
	Property   model.Property
	RunID      string
	Phase      model.Phase
	Events     []model.NetworkEvent
	Navigation NavigationResult
	Context    Context
	StartedAt  time.Time
	FinishedAt time.Time
}

// Validate is a pure function: the same Input produces a byte-identical
// Verdict modulo timestamps.
func Validate(in Input) model.Verdict {
	verdict := model.Verdict{
		PropertyID:         in.Property.ID,
		RunID:              in.RunID,
		Phase:              in.Phase,
		StartedAt:          in.StartedAt,
		FinishedAt:         in.FinishedAt,
		NavigationStatus:   in.Navigation.Status,
		NavigationFinalURL: in.Navigation.FinalURL,
		Redirected:         in.Navigation.Redirected,
		WallClockMs:        in.FinishedAt.Sub(in.StartedAt).Milliseconds(),
		ExtractionSource:   detect.ExtractionMetrics(in.Events),
	}

	if earlyExit, ok := checkEarlyExit(in); ok {
		earlyExit.PropertyID = verdict.PropertyID
		earlyExit.RunID = verdict.RunID
		earlyExit.Phase = verdict.Phase
		earlyExit.StartedAt = verdict.StartedAt
		earlyExit.FinishedAt = verdict.FinishedAt
		earlyExit.WallClockMs = verdict.WallClockMs
		earlyExit.NavigationStatus = verdict.NavigationStatus
		earlyExit.NavigationFinalURL = verdict.NavigationFinalURL
		earlyExit.Redirected = verdict.Redirected
		earlyExit.ExtractionSource = verdict.ExtractionSource
		return earlyExit
	}

	consentMode := detect.DetectConsentModeBasic(detect.ConsentModeContext{
		UsesConsentMode:        in.Property.UsesConsentMode,
		TagManagerLoaded:       in.Context.TagManagerLoaded,
		ExpectedIDInWindow:     in.Context.ExpectedIDInWindow,
		NetworkEventsForExpect: hasNetworkEventsForExpected(in),
	})
	verdict.ConsentModeObserved = consentMode.IsBasic

	verdict.AnalyticsIDCheck = checkAnalyticsID(in, consentMode)
	verdict.TagManagerIDCheck = checkTagManagerID(in)
	// With no analytics IDs observed at all, the analytics check's issue
	// already covers the absence, so the page-view check is skipped too.
	skipPageView := consentMode.IsBasic || len(verdict.AnalyticsIDCheck.AllFound) == 0
	verdict.PageViewCheck = checkPageView(in, skipPageView)

	verdict.IsValid = verdict.AnalyticsIDCheck.IsValid &&
		verdict.TagManagerIDCheck.IsValid &&
		pageViewPassed(verdict.PageViewCheck, skipPageView)

	verdict.Issues = append(verdict.Issues, verdict.AnalyticsIDCheck.Issues...)
	verdict.Issues = append(verdict.Issues, verdict.TagManagerIDCheck.Issues...)
	verdict.Issues = append(verdict.Issues, verdict.PageViewCheck.Issues...)

	if verdict.IsValid {
		verdict.Status = model.VerdictPassed
	} else {
		verdict.Status = model.VerdictFailed
	}

	return verdict
}

func pageViewPassed(pv model.PageViewResult, skipped bool) bool {
	if skipped {
		return true
	}
	return pv.Count > 0
}

func hasNetworkEventsForExpected(in Input) bool {
	if in.Property.ExpectedAnalyticsID == "" {
		return len(detect.AllAnalyticsIDs(in.Events)) > 0
	}
	match := detect.FindAnalyticsID(in.Events, in.Property.ExpectedAnalyticsID)
	return match.Found
}

// checkAnalyticsID validates the expected analytics identifier.
func checkAnalyticsID(in Input, consentMode detect.ConsentModeResult) model.IdCheckResult {
	match := detect.FindAnalyticsID(in.Events, in.Property.ExpectedAnalyticsID)
	result := model.IdCheckResult{Expected: in.Property.ExpectedAnalyticsID, AllFound: match.AllIDs}

	if len(match.AllIDs) == 0 {
		switch {
		case consentMode.IsBasic:
			result.IsValid = true
			result.Issues = []model.Issue{{
				Kind:     model.IssueConsentModeBasic,
				Severity: model.SeverityInfo,
				Message:  "Consent Mode Basic detected: tag manager loaded, analytics container absent from window, no network events observed pre-consent",
			}}
		case in.Context.TagManagerLoaded && !in.Property.UsesConsentMode:
			result.IsValid = false
			result.Issues = []model.Issue{{
				Kind:     model.IssueAnalyticsNotConfigured,
				Severity: model.SeverityCritical,
				Message:  "tag manager loaded but no analytics events observed",
			}}
		case in.Property.UsesConsentMode:
			result.IsValid = true
			result.Issues = []model.Issue{{
				Kind:     model.IssueNoAnalyticsEvents,
				Severity: model.SeverityInfo,
				Message:  "no analytics events observed",
			}}
		default:
			result.IsValid = false
			result.Issues = []model.Issue{{
				Kind:     model.IssueNoAnalyticsEvents,
				Severity: model.SeverityCritical,
				Message:  "no analytics events observed",
			}}
		}
		return result
	}

	if match.Found {
		result.IsValid = true
		result.ChosenActual = in.Property.ExpectedAnalyticsID
		return result
	}

	result.IsValid = false
	result.ChosenActual = match.Primary
	result.Issues = []model.Issue{{
		Kind:     model.IssueAnalyticsIDMismatch,
		Severity: model.SeverityCritical,
		Expected: in.Property.ExpectedAnalyticsID,
		Actual:   match.Primary,
		Message:  "observed analytics id does not match expected",
	}}
	return result
}

// checkTagManagerID validates the expected tag-manager container id:
// skipped (passthrough valid) when the property declares no expected
// tag-manager id.
func checkTagManagerID(in Input) model.IdCheckResult {
	if !in.Property.HasExpectedTagManagerID() {
		return model.IdCheckResult{IsValid: true}
	}

	match := detect.FindTagManagerID(in.Events, in.Property.ExpectedTagManagerID)
	result := model.IdCheckResult{Expected: in.Property.ExpectedTagManagerID, AllFound: match.AllIDs}

	if len(match.AllIDs) == 0 {
		result.IsValid = false
		result.Issues = []model.Issue{{
			Kind:     model.IssueTagManagerNotFound,
			Severity: model.SeverityCritical,
			Expected: in.Property.ExpectedTagManagerID,
			Message:  "no tag manager container observed",
		}}
		return result
	}

	if match.Found {
		result.IsValid = true
		result.ChosenActual = match.Primary
		return result
	}

	result.IsValid = false
	result.ChosenActual = match.Primary
	result.Issues = []model.Issue{{
		Kind:     model.IssueTagManagerIDMismatch,
		Severity: model.SeverityCritical,
		Expected: in.Property.ExpectedTagManagerID,
		Actual:   match.Primary,
		Message:  "observed tag manager id does not match expected",
	}}
	return result
}

// checkPageView validates that a page_view event was observed: skipped
// when Consent Mode Basic was already detected or no analytics IDs were
// observed.
func checkPageView(in Input, skip bool) model.PageViewResult {
	if skip {
		return model.PageViewResult{}
	}

	count := 0
	var firstAt time.Time
	for _, e := range in.Events {
		ac, ok := e.(model.AnalyticsCollect)
		if !ok || ac.EventName != model.PageViewEventName {
			continue
		}
		count++
		if firstAt.IsZero() || ac.Timestamp.Before(firstAt) {
			firstAt = ac.Timestamp
		}
	}

	result := model.PageViewResult{Count: count}
	if !firstAt.IsZero() {
		result.DetectionLatencyMs = firstAt.Sub(in.StartedAt).Milliseconds()
	}

	if count == 0 {
		result.Issues = []model.Issue{{
			Kind:     model.IssuePageViewNotFound,
			Severity: model.SeverityCritical,
			Message:  "no page_view event observed",
		}}
	}
	return result
}

// checkEarlyExit evaluates the early-exit classes before any
// of the three checks run.
func checkEarlyExit(in Input) (model.Verdict, bool) {
	if MatchesServiceClosedPhrase(in.Navigation.Page) {
		return model.Verdict{
			Status:  model.VerdictFailed,
			IsValid: false,
			Issues: []model.Issue{{
				Kind:     model.IssueServiceClosed,
				Severity: model.SeverityWarning,
				Message:  "page content matches the service-closed phrase list",
			}},
		}, true
	}

	if in.Navigation.Status >= 500 || MatchesServerErrorPhrase(in.Navigation.Page) {
		return model.Verdict{
			Status:  model.VerdictFailed,
			IsValid: false,
			Issues: []model.Issue{{
				Kind:     model.IssueServerError,
				Severity: model.SeverityCritical,
				Message:  "navigation returned a server error",
			}},
		}, true
	}

	return model.Verdict{}, false
}
