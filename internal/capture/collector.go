package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/model"
)

// mutationBindingName is the CDP runtime binding the DOM mutation observer
// layer calls into when a new tag-manager `<script>` tag is inserted.
const mutationBindingName = "__tagwatchScriptObserved"

// pageBufferGlobal is the window-scoped array the pre-navigation script
// injection layer pushes into.
const pageBufferGlobal = "__tagwatchBuffer"

// Collector attaches the three redundant observation layers to a browser
// session and reconciles their output into a single deduplicated
// EventBuffer, ported from the teacher's EventCollector (see
// internal/chrome/events.go) and generalized from render diagnostics to
// analytics/tag-manager detection.
type Collector struct {
	logger  *zap.Logger
	buffer  *EventBuffer
	pageURL string
}

// NewCollector creates a Collector for a single page session.
func NewCollector(logger *zap.Logger) *Collector {
	return &Collector{
		logger: logger,
		buffer: NewEventBuffer(),
	}
}

// Buffer returns the underlying deduplicated event list.
func (c *Collector) Buffer() *EventBuffer { return c.buffer }

// SetPageURL records the page's own URL so its document request is not
// mistaken for an analytics/tag-manager request.
func (c *Collector) SetPageURL(pageURL string) { c.pageURL = pageURL }

// Attach enables the CDP domains, installs the pre-navigation script and
// mutation observer, and wires the network listener. Must be called before
// navigation. Script-injection failure degrades to devtools-only capture,
// logged but non-fatal.
func (c *Collector) Attach(ctx context.Context) error {
	if err := chromedp.Run(ctx,
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
	); err != nil {
		return fmt.Errorf("enable CDP domains: %w", err)
	}

	if err := chromedp.Run(ctx, runtime.AddBinding(mutationBindingName)); err != nil {
		c.logger.Warn("mutation observer binding failed, continuing without it", zap.Error(err))
	}

	if err := chromedp.Run(ctx, page.AddScriptToEvaluateOnNewDocument(injectionScript()).WithRunImmediately(true)); err != nil {
		c.logger.Warn("pre-navigation script injection failed, degrading to devtools-only capture", zap.Error(err))
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.handleRequest(e)
		case *runtime.EventBindingCalled:
			if e.Name == mutationBindingName {
				c.handleMutationBinding(e)
			}
		}
	})

	return nil
}

func (c *Collector) handleRequest(e *network.EventRequestWillBeSent) {
	url := e.Request.URL
	if urlsMatchIgnoringFragment(url, c.pageURL) {
		return
	}

	now := time.Now()
	postBody := ""
	if e.Request.HasPostData {
		postBody = e.Request.PostData
	}

	switch {
	case IsAnalyticsCollectURL(url):
		c.buffer.Add(ParseAnalyticsCollectURL(url, postBody, model.SourceCDP, now))
	case IsTagManagerLoaderURL(url):
		c.buffer.Add(ParseTagManagerLoaderURL(url, model.SourceCDP, now))
	}
}

// mutationPayload is the JSON shape the injected mutation observer script
// sends through the CDP binding.
type mutationPayload struct {
	URL string `json:"url"`
}

func (c *Collector) handleMutationBinding(e *runtime.EventBindingCalled) {
	var payload mutationPayload
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return
	}
	if !IsTagManagerLoaderURL(payload.URL) {
		return
	}
	c.buffer.Add(ParseTagManagerLoaderURL(payload.URL, model.SourceMutationObserver, time.Now()))
}

// DrainPageBuffer reads and clears the window-scoped buffer the
// pre-navigation script wraps fetch/XHR/beacon calls into, parsing each
// entry into the shared EventBuffer. A read failure on any single tick is
// ignored.
func (c *Collector) DrainPageBuffer(ctx context.Context) {
	var raw []pageBufferEntry
	script := fmt.Sprintf(`(function(){ var b = window.%s || []; window.%s = []; return b; })()`, pageBufferGlobal, pageBufferGlobal)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return
	}

	now := time.Now()
	for _, entry := range raw {
		source := channelToSource(entry.Channel)
		if IsAnalyticsCollectURL(entry.URL) {
			c.buffer.Add(ParseAnalyticsCollectURL(entry.URL, "", source, now))
		}
	}
}

type pageBufferEntry struct {
	URL       string `json:"url"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

func channelToSource(channel string) model.EventSource {
	switch channel {
	case "xhr":
		return model.SourceXHR
	case "beacon":
		return model.SourceBeacon
	default:
		return model.SourceFetch
	}
}

// ExtractWindowSnapshot reads window.google_tag_manager's top-level keys
// and folds the resulting synthetic events into the buffer.
func (c *Collector) ExtractWindowSnapshot(ctx context.Context) {
	var keys []string
	script := `Object.keys(window.google_tag_manager || {})`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &keys)); err != nil {
		return
	}

	for _, event := range ExtractFromWindow(WindowSnapshot{Keys: keys}, time.Now()) {
		c.buffer.Add(event)
	}
}

// injectionScript wraps fetch, XMLHttpRequest, and navigator.sendBeacon so
// every outgoing request is pushed into the page-scoped buffer, and
// installs a MutationObserver that reports every inserted <script> tag
// through the CDP binding.
func injectionScript() string {
	return fmt.Sprintf(`(function(){
  window.%[1]s = window.%[1]s || [];
  function push(url, channel) {
    try { window.%[1]s.push({url: String(url), channel: channel, timestamp: Date.now()}); } catch (e) {}
  }

  var origFetch = window.fetch;
  if (origFetch) {
    window.fetch = function(input, init) {
      var url = (typeof input === 'string') ? input : (input && input.url);
      push(url, 'fetch');
      return origFetch.apply(this, arguments);
    };
  }

  var OrigXHR = window.XMLHttpRequest;
  if (OrigXHR) {
    var origOpen = OrigXHR.prototype.open;
    OrigXHR.prototype.open = function(method, url) {
      push(url, 'xhr');
      return origOpen.apply(this, arguments);
    };
  }

  var origSendBeacon = navigator.sendBeacon;
  if (origSendBeacon) {
    navigator.sendBeacon = function(url, data) {
      push(url, 'beacon');
      return origSendBeacon.apply(this, arguments);
    };
  }

  function reportScript(node) {
    if (node && node.tagName === 'SCRIPT' && node.src && window.%[2]s) {
      try { window.%[2]s(JSON.stringify({url: node.src})); } catch (e) {}
    }
  }

  var observer = new MutationObserver(function(mutations) {
    mutations.forEach(function(m) {
      m.addedNodes && m.addedNodes.forEach(reportScript);
    });
  });
  observer.observe(document.documentElement || document, {childList: true, subtree: true});
})();`, pageBufferGlobal, mutationBindingName)
}
