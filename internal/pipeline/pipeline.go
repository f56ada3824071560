// Package pipeline implements the per-property navigate→capture→validate→
// screenshot sequence that forms the body of a single scheduler worker
// iteration. It is grounded on the teacher's
// chrome.RendererV2.Render (internal/chrome/renderer_v2.go) task-building
// idiom, generalized from single-shot render diagnostics to analytics
// validation: instead of returning a RenderResult, it produces a
// model.Verdict plus a JPEG screenshot.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/apperrors"
	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/capture"
	"github.com/user/tagwatch/internal/detect"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/validate"
)

// tagManagerWaitWindow and analyticsTailWindow are the fixed sub-budgets
// inside a property's overall deadline.
const (
	tagManagerWaitWindow = 30 * time.Second
	analyticsTailWindow  = 15 * time.Second

	// screenshotJPEGQuality matches the object store contract.
	screenshotJPEGQuality = 60
)

// Outcome is what a pipeline run hands back to its scheduler worker.
type Outcome struct {
	Verdict    model.Verdict
	Screenshot []byte
}

// Pipeline runs the fixed navigate/capture/validate/screenshot sequence
// against one acquired browser instance.
type Pipeline struct {
	logger *zap.Logger
}

// New creates a Pipeline.
func New(logger *zap.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Run executes the full sequence for one property under the given
// deadline, which bounds every browser call made once the stealth session
// is open: navigation, event waits, page read, and screenshot capture.
//
// On a property-level error the returned error is one of
// apperrors.TimeoutError (navigation deadline),
// apperrors.TransportError (connection failure, 5xx at the transport
// layer, stealth-session setup failure) — callers should route these
// through apperrors.Classify. An event wait that ends without any
// page_view is not reported as an error: the verdict is built from the
// events captured by then.
func (p *Pipeline) Run(ctx context.Context, instance *browserpool.Instance, prop model.Property, runID string, phase model.Phase, deadline time.Duration) (Outcome, error) {
	session, err := instance.OpenStealthSession(false)
	if err != nil {
		return Outcome{}, apperrors.NewTransportError("failed to open stealth session", err)
	}
	defer session.Cancel()

	// pipelineCtx derives from the session's chromedp context so every CDP
	// call below runs against the tab and stops at the deadline; it is also
	// cancelled when ctx is.
	pipelineCtx, cancel := context.WithTimeout(session.Ctx, deadline)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	collector := capture.NewCollector(p.logger)
	collector.SetPageURL(prop.TargetURL)
	if err := collector.Attach(session.Ctx); err != nil {
		p.logger.Warn("network event capture degraded", zap.String("property_id", prop.ID), zap.Error(err))
	}

	startedAt := time.Now()

	navStatus, navFinalURL, redirected, navErr := p.navigate(pipelineCtx, pipelineCtx, prop.TargetURL)
	if navErr != nil {
		return Outcome{}, p.classifyNavigationError(navErr)
	}

	deadlineAt, hasDeadline := pipelineCtx.Deadline()
	remaining := func(window time.Duration) time.Duration {
		if !hasDeadline {
			return window
		}
		if left := time.Until(deadlineAt); left < window {
			return left
		}
		return window
	}

	if prop.HasExpectedTagManagerID() {
		collector.WaitForTagManager(pipelineCtx, prop.ExpectedTagManagerID, remaining(tagManagerWaitWindow))
	} else {
		collector.ExtractWindowSnapshot(pipelineCtx)
		collector.DrainPageBuffer(pipelineCtx)
	}
	collector.WaitForAnalyticsEvents(pipelineCtx, prop.ExpectedAnalyticsID, remaining(tagManagerWaitWindow), analyticsTailWindow)

	events := collector.Buffer().Snapshot()

	pageHTML := p.readOuterHTML(pipelineCtx)
	screenshot := p.captureScreenshot(pipelineCtx)

	finishedAt := time.Now()

	in := validate.Input{
		Property: prop,
		RunID:    runID,
		Phase:    phase,
		Events:   events,
		Navigation: validate.NavigationResult{
			Status:     navStatus,
			FinalURL:   navFinalURL,
			Redirected: redirected,
			Page:       validate.ExtractPageText(pageHTML),
		},
		Context: validate.Context{
			TagManagerLoaded:   len(detect.AllTagManagerIDs(events)) > 0,
			ExpectedIDInWindow: expectedIDInWindow(events, prop.ExpectedAnalyticsID),
		},
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	verdict := validate.Validate(in)
	return Outcome{Verdict: verdict, Screenshot: screenshot}, nil
}

// navigate runs the navigation step and returns the final status code,
// final URL, and whether a redirect occurred. The status code is sourced
// from the main-frame document response, the same CDP event the teacher's
// RendererV2 reads in renderer_v2.go.
func (p *Pipeline) navigate(ctx context.Context, tabCtx context.Context, targetURL string) (status int, finalURL string, redirected bool, err error) {
	var mu sync.Mutex
	var statusCode int

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		mu.Lock()
		if statusCode == 0 {
			statusCode = int(resp.Response.Status)
		}
		mu.Unlock()
	})

	err = chromedp.Run(tabCtx, chromedp.Navigate(targetURL), chromedp.Location(&finalURL))
	if err != nil {
		return 0, "", false, err
	}

	mu.Lock()
	status = statusCode
	mu.Unlock()
	if status == 0 {
		status = 200
	}

	redirected = !strings.EqualFold(stripTrailingSlash(finalURL), stripTrailingSlash(targetURL))
	return status, finalURL, redirected, nil
}

func stripTrailingSlash(u string) string {
	return strings.TrimSuffix(u, "/")
}

func (p *Pipeline) classifyNavigationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("navigation deadline exceeded", err)
	}
	return apperrors.NewTransportError("navigation failed", err)
}

func (p *Pipeline) readOuterHTML(tabCtx context.Context) string {
	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html)); err != nil {
		p.logger.Debug("outer HTML capture failed, proceeding without page text", zap.Error(err))
		return ""
	}
	return html
}

func (p *Pipeline) captureScreenshot(tabCtx context.Context) []byte {
	var buf []byte
	if err := chromedp.Run(tabCtx, chromedp.FullScreenshot(&buf, screenshotJPEGQuality)); err != nil {
		p.logger.Warn("screenshot capture failed", zap.Error(err))
		return nil
	}
	return buf
}

// expectedIDInWindow reports whether the expected analytics ID was
// surfaced by the window-extraction capture layer specifically — the only
// channel that exposes it under Consent Mode Basic.
func expectedIDInWindow(events []model.NetworkEvent, expected string) bool {
	if expected == "" {
		return false
	}
	for _, e := range events {
		ac, ok := e.(model.AnalyticsCollect)
		if !ok || ac.Source != model.SourceWindowExtraction {
			continue
		}
		if ac.AnalyticsID == expected {
			return true
		}
	}
	return false
}
