package netutil

// Mode is the closed Sec-Fetch-Mode taxonomy.
type Mode string

const (
	ModeNavigate    Mode = "navigate"
	ModeCORS        Mode = "cors"
	ModeNoCORS      Mode = "no-cors"
	ModeSameOrigin  Mode = "same-origin"
	ModeWebsocket   Mode = "websocket"
)

// Destination is the closed Sec-Fetch-Dest taxonomy.
type Destination string

const (
	DestDocument Destination = "document"
	DestIframe   Destination = "iframe"
	DestEmbed    Destination = "embed"
	DestObject   Destination = "object"
	DestImage    Destination = "image"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestFont     Destination = "font"
	DestAudio    Destination = "audio"
	DestVideo    Destination = "video"
	DestWorker   Destination = "worker"
	DestManifest Destination = "manifest"
	DestEmpty    Destination = "empty"
)

// NavigationContext is the input to Sec-Fetch header synthesis.
type NavigationContext struct {
	TargetURL       string
	RefererURL      string
	UserInitiated   bool
	Destination     Destination
}

// SecFetchHeaders holds the computed triple (+ optional Sec-Fetch-User).
type SecFetchHeaders struct {
	Site string
	Mode string
	Dest string
	User string // "?1" or ""
}

// ComputeSecFetchHeaders derives Site from registrable-domain comparison,
// sets Mode to navigate for documents and no-cors for subresources, passes
// Dest through, and sets User only for a user-initiated document navigation.
func ComputeSecFetchHeaders(ctx NavigationContext) SecFetchHeaders {
	site := ClassifySite(ctx.TargetURL, ctx.RefererURL)

	mode := ModeNoCORS
	if ctx.Destination == DestDocument {
		mode = ModeNavigate
	}

	user := ""
	if mode == ModeNavigate && ctx.UserInitiated {
		user = "?1"
	}

	return SecFetchHeaders{
		Site: string(site),
		Mode: string(mode),
		Dest: string(ctx.Destination),
		User: user,
	}
}

// SERPToArticle is the canonical cross-site document navigation used when
// following a search-result link: always cross-site, navigate, user-initiated.
func SERPToArticle(serpURL, articleURL string) SecFetchHeaders {
	return ComputeSecFetchHeaders(NavigationContext{
		TargetURL:     articleURL,
		RefererURL:    serpURL,
		UserInitiated: true,
		Destination:   DestDocument,
	})
}

// DirectLoad is the canonical bookmark/direct-navigation case: no referer.
func DirectLoad(targetURL string) SecFetchHeaders {
	return ComputeSecFetchHeaders(NavigationContext{
		TargetURL:   targetURL,
		Destination: DestDocument,
	})
}
