package tempcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/tagwatch/internal/model"
)

func TestAddVerdict_SimpleAdd(t *testing.T) {
	c := New()
	err := c.AddVerdict(model.Verdict{PropertyID: "p1", Phase: model.Phase1, Status: model.VerdictPassed})
	if err != nil {
		t.Fatalf("AddVerdict returned error: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestAddVerdict_OverwriteTimeoutPlaceholderAllowed(t *testing.T) {
	c := New()
	if err := c.AddVerdict(model.Verdict{PropertyID: "p1", Phase: model.Phase1, Status: model.VerdictTimeout}); err != nil {
		t.Fatalf("initial AddVerdict failed: %v", err)
	}
	if err := c.AddVerdict(model.Verdict{PropertyID: "p1", Phase: model.Phase2, Status: model.VerdictPassed}); err != nil {
		t.Fatalf("overwrite of timeout placeholder should succeed, got: %v", err)
	}

	entries := c.ExportForUpload()
	if len(entries) != 1 || entries[0].Verdict.Status != model.VerdictPassed {
		t.Fatalf("expected the Phase-2 verdict to have replaced the placeholder, got %+v", entries)
	}
}

func TestAddVerdict_OverwriteNonTimeoutIsADefect(t *testing.T) {
	c := New()
	if err := c.AddVerdict(model.Verdict{PropertyID: "p1", Phase: model.Phase1, Status: model.VerdictPassed}); err != nil {
		t.Fatalf("initial AddVerdict failed: %v", err)
	}
	if err := c.AddVerdict(model.Verdict{PropertyID: "p1", Phase: model.Phase1, Status: model.VerdictFailed}); err == nil {
		t.Fatal("expected an error overwriting a non-timeout verdict")
	}
}

func TestAddScreenshot_NoOpWithoutVerdict(t *testing.T) {
	c := New()
	c.AddScreenshot("p1", []byte("jpeg-bytes"))
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 (no verdict recorded yet)", c.Len())
	}
}

func TestAddScreenshot_AttachesToExistingVerdict(t *testing.T) {
	c := New()
	c.AddVerdict(model.Verdict{PropertyID: "p1", Status: model.VerdictPassed})
	c.AddScreenshot("p1", []byte("jpeg-bytes"))

	entries := c.ExportForUpload()
	if len(entries) != 1 || string(entries[0].Screenshot) != "jpeg-bytes" {
		t.Fatalf("expected screenshot attached, got %+v", entries)
	}
}

func TestClear_ZerosCacheAndMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := filepath.Join(dir, "run-1")
	c := New(WithFileMirror(mirror))

	c.AddVerdict(model.Verdict{PropertyID: "p1", Status: model.VerdictPassed})
	c.AddScreenshot("p1", []byte("jpeg-bytes"))

	if _, err := os.Stat(mirror); err != nil {
		t.Fatalf("expected mirror dir to exist before Clear: %v", err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	if c.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", c.Len())
	}
	if len(c.ExportForUpload()) != 0 {
		t.Fatal("expected zero exported entries after Clear")
	}
	if _, err := os.Stat(mirror); !os.IsNotExist(err) {
		t.Fatalf("expected mirror dir removed after Clear, stat err = %v", err)
	}
}

func TestExportForUpload_DoesNotClear(t *testing.T) {
	c := New()
	c.AddVerdict(model.Verdict{PropertyID: "p1", Status: model.VerdictPassed})

	_ = c.ExportForUpload()

	if c.Len() != 1 {
		t.Fatalf("Len() after ExportForUpload = %d, want 1 (export must not clear)", c.Len())
	}
}
