package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCloudflareChallenge(t *testing.T) {
	d := NewDetector()
	html := `<html><head><title>Just a moment...</title></head><body><div id="cf-challenge-running"></div></body></html>`
	got := d.Classify(html)
	assert.Equal(t, ClassCaptcha, got.Class)
	assert.True(t, got.IsChallenge())
}

func TestClassifyConsentBanner(t *testing.T) {
	d := NewDetector()
	html := `<html><body><div id="onetrust-banner-sdk">We value your privacy. Accept all cookies to continue.</div></body></html>`
	got := d.Classify(html)
	assert.Equal(t, ClassConsent, got.Class)
}

func TestClassifyOrdinaryContentIsNotAFalsePositive(t *testing.T) {
	d := NewDetector()
	html := `<html><head><title>How CAPTCHAs work</title></head><body><p>This article explains the history of CAPTCHA and reCAPTCHA systems in long-form prose, without any challenge widget present on the page.</p></body></html>`
	got := d.Classify(html)
	assert.Equal(t, ClassNone, got.Class)
	assert.False(t, got.IsChallenge())
}

func TestClassifyMentionOfCaptchaWithoutWidgetIsNotFlagged(t *testing.T) {
	d := NewDetector()
	html := `<html><body><p>Please verify you are human by solving the puzzle below.</p></body></html>`
	got := d.Classify(html)
	// "verify you are human" alone without the companion selector should not
	// match the captcha signature, which requires the recaptcha DOM marker.
	assert.Equal(t, ClassNone, got.Class)
}
