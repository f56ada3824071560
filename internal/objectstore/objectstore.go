// Package objectstore uploads screenshot artefacts to the "screenshots"
// bucket and returns a time-limited signed URL
// for later retrieval. Grounded on
// tomasbasham-har-capture/internal/storage's Uploader abstraction, narrowed
// from an io.Reader-based request/result pair to a single Upload call since
// the Batch Uploader always has the full JPEG in memory already.
package objectstore

import (
	"context"
	"fmt"
)

// Uploader persists a screenshot and returns a signed (or public) URL. The
// GCS implementation is the production backend; alternative implementations
// exist for tests.
type Uploader interface {
	Upload(ctx context.Context, key string, content []byte, contentType string) (string, error)
}

// ScreenshotKey builds the object key exactly:
// "<runId>/<propertyId>_<epochMs>.jpg".
func ScreenshotKey(runID, propertyID string, epochMs int64) string {
	return fmt.Sprintf("%s/%s_%d.jpg", runID, propertyID, epochMs)
}

// ScreenshotContentType is the fixed MIME type for every object this
// package writes.
const ScreenshotContentType = "image/jpeg"
