package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/lifecycle"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/netutil"
	"github.com/ternarybob/lancet/internal/profile"
	"github.com/ternarybob/lancet/internal/session"
)

// BrowserResult extends Result with the auth-intervention fields the
// browser path alone can produce.
type BrowserResult struct {
	Result
	AuthRequired bool
	AuthQueued   bool
	QueueID      string
}

// AuthQueue records an intervention record when a challenge requires human
// resolution, transitioning the owning job to awaiting_auth.
type AuthQueue interface {
	Enqueue(ctx context.Context, taskID, jobID, class string) (queueID string, err error)
}

// autoStartLock serialises attached-browser auto-start process-wide.
var autoStartLock sync.Mutex

// browserPoolTaskID registers per-worker attached-browser contexts outside
// any single task's lifecycle registry, since they are reused across tasks.
const browserPoolTaskID = "__browser_pool__"

// BrowserFetcher implements the Browser Fetcher contract (H): attach-only
// navigation over CDP, per-worker debug port isolation, context reuse,
// session injection, human-behavior simulation, and challenge/auth handling.
type BrowserFetcher struct {
	logger        arbor.ILogger
	rateLimiter   RateLimiter
	sessions      *session.Manager
	classifier    ChallengeClassifier
	lifecycleMgr  *lifecycle.Manager
	authQueue     AuthQueue

	remoteDebugHost      string
	debugPortBase        int
	autoStartScript      string
	attachTimeout        time.Duration
	autoStartPollTimeout time.Duration
	navigationTimeout    time.Duration

	auditEnabled bool

	mu           sync.Mutex
	contexts     map[int]context.Context // worker index -> reused chromedp context
	cancels      map[int]context.CancelFunc
	baselines    map[int]profile.Fingerprint
	auditedTasks map[string]bool
}

func NewBrowserFetcher(logger arbor.ILogger, rateLimiter RateLimiter, sessions *session.Manager, classifier ChallengeClassifier, lifecycleMgr *lifecycle.Manager, authQueue AuthQueue, auditEnabled bool, remoteDebugHost string, debugPortBase int, autoStartScript string, attachTimeout, autoStartPollTimeout, navigationTimeout time.Duration) *BrowserFetcher {
	f := &BrowserFetcher{
		logger:               logger,
		rateLimiter:          rateLimiter,
		sessions:             sessions,
		classifier:           classifier,
		lifecycleMgr:         lifecycleMgr,
		authQueue:            authQueue,
		auditEnabled:         auditEnabled,
		remoteDebugHost:      remoteDebugHost,
		debugPortBase:        debugPortBase,
		autoStartScript:      autoStartScript,
		attachTimeout:        attachTimeout,
		autoStartPollTimeout: autoStartPollTimeout,
		navigationTimeout:    navigationTimeout,
		contexts:             make(map[int]context.Context),
		cancels:              make(map[int]context.CancelFunc),
		baselines:            make(map[int]profile.Fingerprint),
		auditedTasks:         make(map[string]bool),
	}
	return f
}

// chromeRepairer executes profile repairs by forcing a fresh attached
// context (profile recreation) or simply logging (font resync, restart-flag
// injection require a browser-launch argument this process does not own).
type chromeRepairer struct {
	fetcher     *BrowserFetcher
	workerIndex int
}

func (r chromeRepairer) Repair(action profile.RepairAction, attribute string) (string, error) {
	if action == profile.RepairProfileRecreation {
		r.fetcher.releaseContext(r.workerIndex)
		return "context released; next navigation re-attaches with a clean profile", nil
	}
	return "no-op: repair requires browser relaunch outside this process", nil
}

// debugPortFor is a deterministic function of worker index.
func (f *BrowserFetcher) debugPortFor(workerIndex int) int {
	return f.debugPortBase + workerIndex
}

// Fetch navigates to req.URL using the browser attached to workerIndex's debug
// port, reusing that worker's context across calls.
func (f *BrowserFetcher) Fetch(ctx context.Context, req Request, workerIndex int, taskID, jobID string) BrowserResult {
	domain := netutil.RegistrableDomain(req.URL)
	if domain == "" {
		return BrowserResult{Result: Result{OK: false, Reason: "invalid_url"}}
	}
	if err := f.rateLimiter.Wait(ctx, domain); err != nil {
		return BrowserResult{Result: Result{OK: false, Reason: rewriteEmptyMessage(err)}}
	}

	browserCtx, newlyCreated, err := f.attachedContext(ctx, workerIndex, taskID)
	if err != nil {
		return BrowserResult{Result: Result{OK: false, Reason: "cdp_unreachable"}}
	}

	if f.sessions != nil {
		if synth := f.sessions.Synthesize(req.URL, session.SynthesisOptions{}, time.Now()); synth.OK {
			injectCookies(browserCtx, domain, synth.Cookie)
		}
	}

	navCtx, cancel := context.WithTimeout(browserCtx, f.navigationTimeout)
	defer cancel()

	var html string
	var finalURL string
	var cookies []*network.Cookie
	navErr := chromedp.Run(navCtx,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(jitteredDwell()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if navErr != nil {
		if newlyCreated {
			f.releaseContext(workerIndex)
		}
		return BrowserResult{Result: Result{OK: false, Reason: rewriteEmptyMessage(navErr)}}
	}

	if f.classifier != nil {
		if result := f.classifier.Classify(html); result.IsChallenge() {
			if f.authQueue != nil && taskID != "" {
				queueID, qErr := f.authQueue.Enqueue(ctx, taskID, jobID, string(result.Class))
				if qErr == nil {
					// Page stays open awaiting human resolution; do not release the context.
					return BrowserResult{
						Result:       Result{OK: false, Reason: "auth_required", URL: req.URL, FinalURL: finalURL},
						AuthRequired: true,
						AuthQueued:   true,
						QueueID:      queueID,
					}
				}
			}
			if newlyCreated {
				f.releaseContext(workerIndex)
			}
			return BrowserResult{Result: Result{OK: false, Reason: "challenge_detected", URL: req.URL, FinalURL: finalURL}}
		}
	}

	simulateHumanBehavior(navCtx)

	if f.auditEnabled && taskID != "" {
		f.performAudit(navCtx, workerIndex, taskID)
	}

	chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		fetched, err := network.GetAllCookies().Do(ctx)
		if err == nil {
			cookies = fetched
		}
		return nil
	}))

	modelCookies := toModelCookies(cookies)
	if f.sessions != nil {
		_ = f.sessions.Capture(req.URL, finalURL, "", req.AcceptLanguage, "", "", modelCookies, time.Now())
	}

	return BrowserResult{Result: Result{OK: true, URL: req.URL, FinalURL: finalURL}}
}

// attachedContext returns the reused chromedp context for workerIndex,
// attaching (with auto-start fallback) if none exists yet. The returned
// context is deliberately not tied to parent's deadline: it must outlive any
// single Fetch call and be reused by every later call from this worker. A
// newly attached context is registered under both the worker pool's own
// pseudo-task and the caller's taskID, so either a clean process shutdown or
// that task's own termination can reclaim it.
func (f *BrowserFetcher) attachedContext(parent context.Context, workerIndex int, taskID string) (context.Context, bool, error) {
	f.mu.Lock()
	if existing, ok := f.contexts[workerIndex]; ok {
		f.mu.Unlock()
		return existing, false, nil
	}
	f.mu.Unlock()

	port := f.debugPortFor(workerIndex)
	debugURL := fmt.Sprintf("http://%s:%d", f.remoteDebugHost, port)
	wsURL := fmt.Sprintf("ws://%s:%d", f.remoteDebugHost, port)

	if err := probeDebugEndpoint(parent, debugURL, f.attachTimeout); err != nil {
		if startErr := f.autoStartAndRetry(parent, debugURL); startErr != nil {
			return nil, false, startErr
		}
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	f.mu.Lock()
	f.contexts[workerIndex] = browserCtx
	f.cancels[workerIndex] = func() {
		ctxCancel()
		allocCancel()
	}
	f.mu.Unlock()

	if f.lifecycleMgr != nil {
		release := func() error {
			f.releaseContext(workerIndex)
			return nil
		}
		f.lifecycleMgr.Register(browserPoolTaskID, models.Resource{ResourceID: fmt.Sprintf("browser-%d", workerIndex), Kind: models.ResourceBrowser, CreatedAt: time.Now()}, release)
		if taskID != "" {
			f.lifecycleMgr.Register(taskID, models.Resource{ResourceID: fmt.Sprintf("browser-%d", workerIndex), Kind: models.ResourceBrowser, CreatedAt: time.Now()}, release)
		}
	}
	return browserCtx, true, nil
}

// probeDebugEndpoint checks that the Chrome DevTools debug endpoint answers,
// without constructing a long-lived allocator context tied to this deadline.
func probeDebugEndpoint(ctx context.Context, debugURL string, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, debugURL+"/json/version", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from debug endpoint", resp.StatusCode)
	}
	return nil
}

// autoStartAndRetry runs the configured auto-start script under the
// process-wide lock, then polls up to autoStartPollTimeout for the
// debugging endpoint to come up.
func (f *BrowserFetcher) autoStartAndRetry(ctx context.Context, debugURL string) error {
	if f.autoStartScript == "" {
		return fmt.Errorf("cdp unreachable and no auto_start_script configured")
	}

	autoStartLock.Lock()
	defer autoStartLock.Unlock()

	cmd := exec.Command(f.autoStartScript)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to auto-start browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	deadline := time.Now().Add(f.autoStartPollTimeout)
	for time.Now().Before(deadline) {
		if err := probeDebugEndpoint(ctx, debugURL, time.Second); err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("browser did not become reachable within %s after auto-start", f.autoStartPollTimeout)
}

func (f *BrowserFetcher) releaseContext(workerIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, ok := f.cancels[workerIndex]; ok {
		cancel()
		delete(f.cancels, workerIndex)
	}
	delete(f.contexts, workerIndex)
}

// performAudit captures the worker's current fingerprint on a task's first
// navigation and compares it against that worker's baseline, repairing on
// drift. It never fails the host navigation: a capture error only drifts the
// audit status to fail, it does not propagate.
func (f *BrowserFetcher) performAudit(ctx context.Context, workerIndex int, taskID string) {
	f.mu.Lock()
	if f.auditedTasks[taskID] {
		f.mu.Unlock()
		return
	}
	f.auditedTasks[taskID] = true
	baseline, hasBaseline := f.baselines[workerIndex]
	f.mu.Unlock()

	current, captureErr := captureFingerprint(ctx)
	if captureErr != nil {
		f.logger.Warn().Err(captureErr).Int("worker", workerIndex).Msg("fingerprint capture failed")
	}

	if !hasBaseline {
		f.mu.Lock()
		f.baselines[workerIndex] = current
		f.mu.Unlock()
		return
	}

	auditor := profile.NewAuditor(f.logger, chromeRepairer{fetcher: f, workerIndex: workerIndex})
	result := auditor.Audit(baseline, current, captureErr)
	if result.Status == profile.StatusDrift {
		auditor.Repair(result, baseline)
		f.mu.Lock()
		f.baselines[workerIndex] = current
		f.mu.Unlock()
	}
}

// captureFingerprint reads the signals profile.Fingerprint tracks via a
// single JS evaluation.
func captureFingerprint(ctx context.Context) (profile.Fingerprint, error) {
	const script = `(() => {
		function canvasHash() {
			try {
				const c = document.createElement('canvas');
				const g = c.getContext('2d');
				g.textBaseline = 'top';
				g.font = '14px Arial';
				g.fillText('lancet-fp', 2, 2);
				return c.toDataURL().length.toString(36);
			} catch (e) { return 'na'; }
		}
		function audioHash() {
			try {
				const ctx = new (window.OfflineAudioContext || window.webkitOfflineAudioContext)(1, 44100, 44100);
				return ctx.sampleRate.toString(36);
			} catch (e) { return 'na'; }
		}
		const ua = navigator.userAgent.match(/Chrome\/(\d+)/);
		return JSON.stringify({
			ua_major: ua ? ua[1] : '',
			lang: navigator.language || '',
			tz: Intl.DateTimeFormat().resolvedOptions().timeZone || '',
			fonts: (document.fonts ? document.fonts.size : 0).toString(36),
			canvas: canvasHash(),
			audio: audioHash(),
			screen: screen.width + 'x' + screen.height,
		});
	})()`

	var raw string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return profile.Fingerprint{}, err
	}

	var decoded struct {
		UAMajor string `json:"ua_major"`
		Lang    string `json:"lang"`
		TZ      string `json:"tz"`
		Fonts   string `json:"fonts"`
		Canvas  string `json:"canvas"`
		Audio   string `json:"audio"`
		Screen  string `json:"screen"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return profile.Fingerprint{}, err
	}
	return profile.Fingerprint{
		UserAgentMajorVersion: decoded.UAMajor,
		Language:              decoded.Lang,
		Timezone:              decoded.TZ,
		FontSetSignature:      decoded.Fonts,
		CanvasHash:            decoded.Canvas,
		AudioHash:             decoded.Audio,
		Screen:                decoded.Screen,
	}, nil
}

func injectCookies(ctx context.Context, domain, cookieHeader string) {
	if cookieHeader == "" {
		return
	}
	chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie("session", cookieHeader).WithDomain(domain).Do(ctx)
	}))
}

// jitteredDwell returns a log-normal-ish post-load dwell time.
func jitteredDwell() time.Duration {
	base := 800.0
	jitter := math.Exp(rand.NormFloat64() * 0.3)
	return time.Duration(base*jitter) * time.Millisecond
}

// simulateHumanBehavior performs inertial scrolling and a bezier-ish mouse
// trajectory. The mouse follows the fixed path of bezierPoint, and only when
// the page has an a, button or input element; it does not move to that
// element. Pauses between steps are uniformly random, not log-normal.
func simulateHumanBehavior(ctx context.Context) {
	chromedp.Run(ctx,
		chromedp.ScrollIntoView("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return scrollInertially(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return moveMouseBezier(ctx)
		}),
	)
}

// scrollInertially scrolls in decelerating steps, mimicking a flick-scroll's
// momentum decay rather than one uniform jump.
func scrollInertially(ctx context.Context) error {
	segments := 5
	for i := 0; i < segments; i++ {
		dy := 280.0 / math.Pow(1.6, float64(i))
		script := fmt.Sprintf("window.scrollBy(0, %f)", dy)
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
			return err
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
	return nil
}

func moveMouseBezier(ctx context.Context) error {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes("a, button, input", &nodes, chromedp.ByQueryAll)); err != nil || len(nodes) == 0 {
		return nil
	}
	steps := 6
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x, y := bezierPoint(t)
		if err := chromedp.Run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(25)) * time.Millisecond)
	}
	return nil
}

// bezierPoint computes a point along a fixed quadratic bezier path used for
// the mouse trajectory simulation, purely to avoid perfectly linear movement.
func bezierPoint(t float64) (float64, float64) {
	p0x, p0y := 50.0, 50.0
	p1x, p1y := 300.0, 120.0
	p2x, p2y := 500.0, 300.0
	x := (1-t)*(1-t)*p0x + 2*(1-t)*t*p1x + t*t*p2x
	y := (1-t)*(1-t)*p0y + 2*(1-t)*t*p1y + t*t*p2y
	return x, y
}

func toModelCookies(cookies []*network.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		var expires time.Time
		if c.Expires > 0 {
			expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
		})
	}
	return out
}
