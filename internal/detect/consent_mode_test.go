package detect

import "testing"

func TestDetectConsentModeBasic_DecisionTable(t *testing.T) {
	cases := []struct {
		name       string
		ctx        ConsentModeContext
		wantBasic  bool
		wantMsg    string
		wantConfig bool
	}{
		{
			name:    "consent mode not used",
			ctx:     ConsentModeContext{UsesConsentMode: false},
			wantMsg: "skipped: property does not use Consent Mode",
		},
		{
			name:    "no tag manager found",
			ctx:     ConsentModeContext{UsesConsentMode: true, TagManagerLoaded: false},
			wantMsg: "no tag manager found",
		},
		{
			name:    "expected id in window is a normal implementation",
			ctx:     ConsentModeContext{UsesConsentMode: true, TagManagerLoaded: true, ExpectedIDInWindow: true},
			wantMsg: "normal implementation",
		},
		{
			name:       "id absent from window and no network events is Consent Mode Basic",
			ctx:        ConsentModeContext{UsesConsentMode: true, TagManagerLoaded: true, ExpectedIDInWindow: false, NetworkEventsForExpect: false},
			wantBasic:  true,
			wantConfig: true,
		},
		{
			name:    "id absent from window but network events observed is advanced consent mode",
			ctx:     ConsentModeContext{UsesConsentMode: true, TagManagerLoaded: true, ExpectedIDInWindow: false, NetworkEventsForExpect: true},
			wantMsg: "possible advanced consent mode",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectConsentModeBasic(tc.ctx)
			if got.IsBasic != tc.wantBasic {
				t.Errorf("IsBasic = %v, want %v", got.IsBasic, tc.wantBasic)
			}
			if tc.wantMsg != "" && got.Message != tc.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tc.wantMsg)
			}
			if got.AnalyticsConfigured != tc.wantConfig {
				t.Errorf("AnalyticsConfigured = %v, want %v", got.AnalyticsConfigured, tc.wantConfig)
			}
		})
	}
}

func TestDetectConsentModeBasic_HighConfidenceOnBasicDetection(t *testing.T) {
	got := DetectConsentModeBasic(ConsentModeContext{UsesConsentMode: true, TagManagerLoaded: true, ExpectedIDInWindow: false, NetworkEventsForExpect: false})
	if got.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %v, want high", got.Confidence)
	}
}
