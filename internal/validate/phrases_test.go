package validate

import "testing"

func TestExtractPageText(t *testing.T) {
	html := `<html><head><title>My Site</title><style>.x{}</style></head><body><script>var x=1;</script><h1>Welcome</h1></body></html>`
	page := ExtractPageText(html)

	if page.Title != "My Site" {
		t.Errorf("Title = %q, want %q", page.Title, "My Site")
	}
	if page.Body != "Welcome" {
		t.Errorf("Body = %q, want %q", page.Body, "Welcome")
	}
}

func TestMatchesServiceClosedPhrase(t *testing.T) {
	if !MatchesServiceClosedPhrase(PageText{Body: "This Account Suspended due to non-payment"}) {
		t.Error("expected case-insensitive match on service-closed phrase")
	}
	if MatchesServiceClosedPhrase(PageText{Body: "Welcome to our store"}) {
		t.Error("expected no match for unrelated body text")
	}
}

func TestMatchesServerErrorPhrase(t *testing.T) {
	if !MatchesServerErrorPhrase(PageText{Title: "503 Service Unavailable"}) {
		t.Error("expected match on server-error phrase in title")
	}
}
