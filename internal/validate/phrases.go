package validate

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// serviceClosedPhrases is the closed "service closed" phrase list. Treated
// as data per the deny-list precedent elsewhere in this package: not
// claimed complete, easy to extend without touching the matcher.
var serviceClosedPhrases = []string{
	"this service is no longer available",
	"account suspended",
	"this site has been disabled",
	"domain has expired",
	"website under construction",
	"coming soon",
}

// serverErrorPhrases is the closed server-error phrase list consulted
// alongside the navigation status code.
var serverErrorPhrases = []string{
	"internal server error",
	"502 bad gateway",
	"503 service unavailable",
	"504 gateway timeout",
	"application error",
}

// PageText is the minimal page-content surface the early-exit classifiers
// inspect: title plus visible body text.
type PageText struct {
	Title string
	Body  string
}

// ExtractPageText pulls the title and visible body text out of a raw HTML
// document for phrase matching, via goquery the way the teacher's parser
// package extracts body text (internal/parser/bodytext.go).
func ExtractPageText(html string) PageText {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageText{}
	}
	doc.Find("script, style, noscript").Remove()
	return PageText{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Body:  strings.TrimSpace(doc.Find("body").Text()),
	}
}

// MatchesServiceClosedPhrase reports whether the page's title or body
// contains any phrase from the service-closed list, case-insensitively.
func MatchesServiceClosedPhrase(page PageText) bool {
	return matchesAny(page, serviceClosedPhrases)
}

// MatchesServerErrorPhrase reports whether the page's title or body
// contains any phrase from the server-error list, case-insensitively.
func MatchesServerErrorPhrase(page PageText) bool {
	return matchesAny(page, serverErrorPhrases)
}

func matchesAny(page PageText, phrases []string) bool {
	title := strings.ToLower(page.Title)
	body := strings.ToLower(page.Body)
	for _, phrase := range phrases {
		if strings.Contains(title, phrase) || strings.Contains(body, phrase) {
			return true
		}
	}
	return false
}
