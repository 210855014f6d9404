// Package challenge classifies fetched pages into a closed taxonomy of
// challenge/CAPTCHA/consent pages without false-positiving on ordinary
// content.
package challenge

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Class is the closed tagged union of challenge classifications.
type Class string

const (
	ClassNone       Class = "none"
	ClassCaptcha    Class = "captcha"
	ClassJSChallenge Class = "js_challenge"
	ClassConsent    Class = "consent"
	ClassRateLimited Class = "rate_limited"
	ClassLoginWall  Class = "login_wall"
)

// Result carries the classification and the signature that matched.
type Result struct {
	Class    Class
	Matched  string
	Confidence float64 // binary today: 0 or 1
}

func (r Result) IsChallenge() bool { return r.Class != ClassNone }

// signature is a single data-driven detection rule. Title/body substrings are
// matched case-insensitively; selector, if set, must also be present in the DOM.
type signature struct {
	class    Class
	titleHas []string
	bodyHas  []string
	selector string
}

// signatures is the closed detection table. Ordered most-specific first.
var signatures = []signature{
	{class: ClassCaptcha, titleHas: []string{"just a moment", "checking your browser"}, selector: "#cf-challenge-running"},
	{class: ClassCaptcha, bodyHas: []string{"verify you are human", "complete the security check"}, selector: ".g-recaptcha"},
	{class: ClassCaptcha, selector: "iframe[src*='hcaptcha.com']"},
	{class: ClassCaptcha, selector: "iframe[src*='recaptcha']"},
	{class: ClassJSChallenge, titleHas: []string{"attention required"}, bodyHas: []string{"enable javascript and cookies"}},
	{class: ClassRateLimited, titleHas: []string{"too many requests", "429"}, bodyHas: []string{"rate limit exceeded"}},
	{class: ClassConsent, bodyHas: []string{"accept all cookies", "we value your privacy"}, selector: "#onetrust-banner-sdk"},
	{class: ClassLoginWall, bodyHas: []string{"sign in to continue reading", "subscribe to continue"}, selector: "div.paywall"},
}

// Detector classifies HTML bodies. It is stateless and safe for concurrent use.
type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

// Classify parses html and returns the first matching signature, or ClassNone.
// A signature matches when its selector (if any) is present AND at least one
// of its title/body substrings is present (when any are specified) — this
// conjunction is what keeps ordinary pages that merely mention "captcha" in
// prose from false-positiving.
func (d *Detector) Classify(html string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{Class: ClassNone}
	}

	title := strings.ToLower(doc.Find("title").First().Text())
	body := strings.ToLower(doc.Find("body").Text())

	for _, sig := range signatures {
		if sig.selector != "" && doc.Find(sig.selector).Length() == 0 {
			continue
		}
		textMatched := len(sig.titleHas) == 0 && len(sig.bodyHas) == 0
		matchedText := ""
		for _, t := range sig.titleHas {
			if strings.Contains(title, t) {
				textMatched = true
				matchedText = t
				break
			}
		}
		if !textMatched {
			for _, b := range sig.bodyHas {
				if strings.Contains(body, b) {
					textMatched = true
					matchedText = b
					break
				}
			}
		}
		if !textMatched {
			continue
		}
		if matchedText == "" {
			matchedText = sig.selector
		}
		return Result{Class: sig.class, Matched: matchedText, Confidence: 1}
	}
	return Result{Class: ClassNone, Confidence: 0}
}
