package capture

import (
	"net/url"
	"strings"
	"time"

	"github.com/user/tagwatch/internal/model"
)

// customParamPrefix identifies GA4 custom-event parameters (ep.* / epn.*)
// that are carried through to the captured event alongside the recognized
// fields.
const customParamPrefix = "ep"

// ParseAnalyticsCollectURL builds an AnalyticsCollect event from a captured
// request URL and, when present, its POST body. Body parameters override
// query parameters.
func ParseAnalyticsCollectURL(rawURL string, postBody string, source model.EventSource, at time.Time) model.AnalyticsCollect {
	values := queryValues(rawURL)
	if postBody != "" {
		overlay(values, queryValues("?"+postBody))
	}

	event := model.AnalyticsCollect{
		URL:          rawURL,
		Timestamp:    at,
		Source:       source,
		CustomParams: map[string]string{},
	}

	for key, val := range values {
		switch key {
		case "tid":
			event.AnalyticsID = val
		case "en":
			event.EventName = val
		case "dl":
			event.DocumentLocation = val
		default:
			if strings.HasPrefix(key, customParamPrefix) {
				event.CustomParams[key] = val
			}
		}
	}

	return event
}

// ParseTagManagerLoaderURL builds a TagManagerLoad event, extracting the
// `id` query parameter.
func ParseTagManagerLoaderURL(rawURL string, source model.EventSource, at time.Time) model.TagManagerLoad {
	values := queryValues(rawURL)
	return model.TagManagerLoad{
		URL:          rawURL,
		Timestamp:    at,
		TagManagerID: values["id"],
		Source:       source,
	}
}

func queryValues(rawURL string) map[string]string {
	out := map[string]string{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	for key, vals := range u.Query() {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}

func overlay(base, overrides map[string]string) {
	for k, v := range overrides {
		base[k] = v
	}
}
