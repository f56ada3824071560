package detect

// ConsentModeContext is the boolean inputs to DetectConsentModeBasic: facts
// gathered during the pipeline's wait phase rather than derivable from the
// event list alone.
type ConsentModeContext struct {
	UsesConsentMode        bool
	TagManagerLoaded       bool
	ExpectedIDInWindow     bool
	NetworkEventsForExpect bool
}

// Confidence grades how certain a Consent Mode Basic detection is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConsentModeResult is the outcome of DetectConsentModeBasic.
type ConsentModeResult struct {
	IsBasic             bool
	Confidence          Confidence
	Indicators          []string
	AnalyticsConfigured bool
	Message             string
}

// DetectConsentModeBasic implements a 5-row decision table: a "Consent Mode
// Basic" implementation loads the tag manager but blocks all analytics
// traffic pre-consent, so a property using it legitimately shows neither
// network events for the expected ID nor that ID exposed on
// window.google_tag_manager.
func DetectConsentModeBasic(ctx ConsentModeContext) ConsentModeResult {
	if !ctx.UsesConsentMode {
		return ConsentModeResult{
			IsBasic: false,
			Message: "skipped: property does not use Consent Mode",
		}
	}

	if !ctx.TagManagerLoaded {
		return ConsentModeResult{
			IsBasic: false,
			Message: "no tag manager found",
		}
	}

	if ctx.ExpectedIDInWindow {
		return ConsentModeResult{
			IsBasic: false,
			Message: "normal implementation",
		}
	}

	if !ctx.NetworkEventsForExpect {
		return ConsentModeResult{
			IsBasic:             true,
			Confidence:          ConfidenceHigh,
			AnalyticsConfigured: true,
			Indicators:          []string{"expected id absent from window", "no analytics network events observed"},
		}
	}

	return ConsentModeResult{
		IsBasic:    false,
		Confidence: ConfidenceMedium,
		Message:    "possible advanced consent mode",
		Indicators: []string{"expected id absent from window", "analytics network events observed despite consent mode"},
	}
}
