package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSecFetchHeadersDirectLoad(t *testing.T) {
	h := DirectLoad("https://example.com/article")
	assert.Equal(t, "none", h.Site)
	assert.Equal(t, "navigate", h.Mode)
	assert.Equal(t, "document", h.Dest)
	assert.Equal(t, "", h.User)
}

func TestComputeSecFetchHeadersSERPToArticle(t *testing.T) {
	h := SERPToArticle("https://www.google.com/search?q=x", "https://news.example.com/story")
	assert.Equal(t, "cross-site", h.Site)
	assert.Equal(t, "navigate", h.Mode)
	assert.Equal(t, "?1", h.User)
}

func TestComputeSecFetchHeadersSubresourceIsNoCORS(t *testing.T) {
	h := ComputeSecFetchHeaders(NavigationContext{
		TargetURL:   "https://cdn.example.com/app.js",
		RefererURL:  "https://example.com/",
		Destination: DestScript,
	})
	assert.Equal(t, "no-cors", h.Mode)
	assert.Equal(t, "", h.User, "subresource fetches never carry Sec-Fetch-User")
}

func TestComputeSecFetchHeadersSameSite(t *testing.T) {
	h := ComputeSecFetchHeaders(NavigationContext{
		TargetURL:   "https://shop.example.com/cart",
		RefererURL:  "https://www.example.com/",
		Destination: DestDocument,
	})
	assert.Equal(t, "same-site", h.Site)
}
