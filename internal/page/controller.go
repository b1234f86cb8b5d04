// Package page implements the PageController of spec.md §4.7: navigation,
// reading, and interaction with one Page through its CDP Session.
package page

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cdpemulation "github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	cdptarget "github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/cdpsession"
	"reach/internal/corerrors"
)

// Wait is the navigation lifecycle state an operation blocks for.
type Wait string

const (
	WaitLoad            Wait = "load"
	WaitDOMContentLoaded Wait = "domcontentloaded"
	WaitNetworkIdle      Wait = "networkidle"
)

// State is the page's own lifecycle state machine (spec.md §4.7).
type State string

const (
	StateIdle       State = "idle"
	StateNavigating State = "navigating"
	StateLoaded     State = "loaded"
	StateDOMReady   State = "dom_ready"
	StateNetIdle    State = "network_idle"
	StateCrashed    State = "crashed"
)

// RouteHandler decides the fate of one intercepted request: it must call
// exactly one of Fulfill, Abort, or Continue on req.
type RouteHandler func(req *RoutedRequest)

// BindingCallback services one expose_function invocation, receiving the
// JSON-encoded argument array and returning a JSON-encodable result.
type BindingCallback func(args json.RawMessage) (any, error)

// Controller is the PageController for one target/session pair.
type Controller struct {
	router    *cdpsession.Router
	sessionID cdptarget.SessionID
	targetID  cdptarget.ID
	log       *zap.Logger

	mu    sync.Mutex
	state State
	url   string
	title string

	lifecycleWaiters []lifecycleWaiter

	bindings map[string]BindingCallback
	routes   []routeEntry
	initScripts []string
}

type lifecycleWaiter struct {
	want Wait
	ch   chan struct{}
}

type routeEntry struct {
	pattern string
	handler RouteHandler
}

// New constructs a Controller bound to one attached session.
func New(router *cdpsession.Router, sessionID cdptarget.SessionID, targetID cdptarget.ID, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		router:    router,
		sessionID: sessionID,
		targetID:  targetID,
		log:       log,
		state:     StateIdle,
		bindings:  make(map[string]BindingCallback),
	}
}

// Enable turns on the Page/Runtime/DOM domains and lifecycle events this
// controller depends on. Must be called once before any other method.
func (c *Controller) Enable(ctx context.Context) error {
	if _, err := c.send(ctx, "Page.enable", nil); err != nil {
		return err
	}
	if _, err := c.send(ctx, "Runtime.enable", nil); err != nil {
		return err
	}
	if _, err := c.send(ctx, "DOM.enable", nil); err != nil {
		return err
	}
	params, _ := json.Marshal(cdppage.SetLifecycleEventsEnabledParams{Enabled: true})
	if _, err := c.send(ctx, "Page.setLifecycleEventsEnabled", params); err != nil {
		return err
	}

	c.router.On(string(c.sessionID), "Page.lifecycleEvent", c.onLifecycleEvent)
	c.router.On(string(c.sessionID), "Runtime.bindingCalled", c.onBindingCalled)
	c.router.On(string(c.sessionID), "Fetch.requestPaused", c.onRequestPaused)
	return nil
}

// MarkCrashed transitions the page to the crashed state; every subsequent
// operation fails with corerrors.ErrPageCrashed until a reload succeeds.
func (c *Controller) MarkCrashed() {
	c.mu.Lock()
	c.state = StateCrashed
	c.mu.Unlock()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CachedURL returns the last URL observed without a round trip.
func (c *Controller) CachedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Title evaluates document.title and caches it for CachedTitle.
func (c *Controller) Title(ctx context.Context) (string, error) {
	var title string
	if err := c.Evaluate(ctx, "document.title", &title); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	return title, nil
}

// CachedTitle returns the last Title() result without a round trip.
func (c *Controller) CachedTitle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *Controller) onLifecycleEvent(_ string, params json.RawMessage) {
	var ev cdppage.EventLifecycleEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	var next State
	switch ev.Name {
	case "DOMContentLoaded":
		next = StateDOMReady
	case "load":
		next = StateLoaded
	case "networkIdle", "networkAlmostIdle":
		next = StateNetIdle
	default:
		return
	}

	c.mu.Lock()
	if c.state != StateCrashed {
		c.state = next
	}
	waiters := c.lifecycleWaiters
	remaining := waiters[:0]
	for _, w := range waiters {
		if matchesWait(next, w.want) {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	c.lifecycleWaiters = remaining
	c.mu.Unlock()
}

func matchesWait(reached State, want Wait) bool {
	switch want {
	case WaitDOMContentLoaded:
		return reached == StateDOMReady || reached == StateLoaded || reached == StateNetIdle
	case WaitLoad:
		return reached == StateLoaded || reached == StateNetIdle
	case WaitNetworkIdle:
		return reached == StateNetIdle
	}
	return false
}

func (c *Controller) waitForLifecycle(ctx context.Context, want Wait, deadline time.Duration) error {
	ch := make(chan struct{})
	c.mu.Lock()
	already := matchesWait(c.state, want)
	if !already {
		c.lifecycleWaiters = append(c.lifecycleWaiters, lifecycleWaiter{want: want, ch: ch})
	}
	c.mu.Unlock()
	if already {
		return nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return &corerrors.LifecycleTimeout{State: string(want)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Goto navigates to rawURL and blocks until waitUntil is reached or
// deadline elapses.
func (c *Controller) Goto(ctx context.Context, rawURL string, waitUntil Wait, referer string, deadline time.Duration) error {
	if st := c.State(); st == StateCrashed {
		return corerrors.ErrPageCrashed
	}

	c.mu.Lock()
	c.state = StateNavigating
	c.mu.Unlock()

	navParams := cdppage.NavigateParams{URL: rawURL}
	if referer != "" {
		navParams.Referrer = referer
	}
	params, _ := json.Marshal(navParams)
	res, err := c.router.Send(ctx, c.sessionID, "Page.navigate", params)
	if err != nil {
		return &corerrors.NavigationError{Kind: corerrors.NavOther, URL: rawURL}
	}
	var ret cdppage.NavigateReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return &corerrors.NavigationError{Kind: corerrors.NavOther, URL: rawURL}
	}
	if ret.ErrorText != "" {
		return &corerrors.NavigationError{Kind: classifyNavError(ret.ErrorText), URL: rawURL}
	}

	if err := c.waitForLifecycle(ctx, waitUntil, deadline); err != nil {
		return err
	}

	c.mu.Lock()
	c.url = rawURL
	c.mu.Unlock()
	return nil
}

func classifyNavError(errText string) corerrors.NavigationErrorKind {
	switch {
	case containsAny(errText, "ERR_NAME_NOT_RESOLVED", "ERR_DNS"):
		return corerrors.NavDNS
	case containsAny(errText, "ERR_CONNECTION", "ERR_NETWORK", "ERR_INTERNET"):
		return corerrors.NavNet
	case containsAny(errText, "ERR_ABORTED"):
		return corerrors.NavAborted
	case containsAny(errText, "ERR_CERT", "ERR_SSL"):
		return corerrors.NavSSL
	default:
		return corerrors.NavOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Reload reloads the page and blocks until waitUntil is reached.
func (c *Controller) Reload(ctx context.Context, waitUntil Wait, deadline time.Duration) error {
	// Reload is the one operation allowed to clear a crashed state.
	c.mu.Lock()
	c.state = StateNavigating
	c.mu.Unlock()

	if _, err := c.send(ctx, "Page.reload", nil); err != nil {
		return &corerrors.NavigationError{Kind: corerrors.NavOther, URL: c.CachedURL()}
	}
	return c.waitForLifecycle(ctx, waitUntil, deadline)
}

// GoBack navigates to the previous history entry.
func (c *Controller) GoBack(ctx context.Context, waitUntil Wait, deadline time.Duration) error {
	return c.navigateHistory(ctx, -1, waitUntil, deadline)
}

// GoForward navigates to the next history entry.
func (c *Controller) GoForward(ctx context.Context, waitUntil Wait, deadline time.Duration) error {
	return c.navigateHistory(ctx, 1, waitUntil, deadline)
}

func (c *Controller) navigateHistory(ctx context.Context, direction int, waitUntil Wait, deadline time.Duration) error {
	res, err := c.send(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		return err
	}
	var hist cdppage.GetNavigationHistoryReturns
	if err := json.Unmarshal(res, &hist); err != nil {
		return err
	}
	target := int(hist.CurrentIndex) + direction
	if target < 0 || target >= len(hist.Entries) {
		return fmt.Errorf("page: no history entry in that direction")
	}

	c.mu.Lock()
	c.state = StateNavigating
	c.mu.Unlock()

	params, _ := json.Marshal(cdppage.NavigateToHistoryEntryParams{EntryID: hist.Entries[target].ID})
	if _, err := c.send(ctx, "Page.navigateToHistoryEntry", params); err != nil {
		return err
	}
	return c.waitForLifecycle(ctx, waitUntil, deadline)
}

// Content returns document.documentElement.outerHTML.
func (c *Controller) Content(ctx context.Context) (string, error) {
	var html string
	if err := c.Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return "", err
	}
	return html, nil
}

// SetContent replaces the document with html and waits for waitUntil.
func (c *Controller) SetContent(ctx context.Context, html string, waitUntil Wait, deadline time.Duration) error {
	res, err := c.send(ctx, "Page.getFrameTree", nil)
	if err != nil {
		return err
	}
	var tree cdppage.GetFrameTreeReturns
	if err := json.Unmarshal(res, &tree); err != nil {
		return err
	}
	params, _ := json.Marshal(cdppage.SetDocumentContentParams{FrameID: tree.FrameTree.Frame.ID, HTML: html})
	if _, err := c.send(ctx, "Page.setDocumentContent", params); err != nil {
		return err
	}
	return c.waitForLifecycle(ctx, waitUntil, deadline)
}

// Evaluate runs expression as a top-level script and decodes the by-value
// result into out (pass nil to discard it).
func (c *Controller) Evaluate(ctx context.Context, expression string, out any) error {
	params, _ := json.Marshal(cdpruntime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	})
	res, err := c.send(ctx, "Runtime.evaluate", params)
	if err != nil {
		return err
	}
	var ret cdpruntime.EvaluateReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return err
	}
	if ret.ExceptionDetails != nil {
		return &corerrors.ScriptError{Text: exceptionText(ret.ExceptionDetails)}
	}
	if out == nil || ret.Result == nil || len(ret.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(ret.Result.Value, out)
}

func exceptionText(e *cdpruntime.ExceptionDetails) string {
	if e.Exception != nil && e.Exception.Description != "" {
		return e.Exception.Description
	}
	return e.Text
}

// SetViewport configures Emulation.setDeviceMetricsOverride.
func (c *Controller) SetViewport(ctx context.Context, w, h int64, dpr float64, mobile, touch bool) error {
	params, _ := json.Marshal(cdpemulation.SetDeviceMetricsOverrideParams{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: dpr,
		Mobile:            mobile,
	})
	if _, err := c.send(ctx, "Emulation.setDeviceMetricsOverride", params); err != nil {
		return err
	}
	touchParams, _ := json.Marshal(cdpemulation.SetTouchEmulationEnabledParams{Enabled: touch})
	_, err := c.send(ctx, "Emulation.setTouchEmulationEnabled", touchParams)
	return err
}

// SetExtraHTTPHeaders installs headers on every subsequent request from
// this page.
func (c *Controller) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	hdrs := make(map[string]any, len(headers))
	for k, v := range headers {
		hdrs[k] = v
	}
	raw, err := json.Marshal(hdrs)
	if err != nil {
		return err
	}
	params := struct {
		Headers json.RawMessage `json:"headers"`
	}{Headers: raw}
	buf, _ := json.Marshal(params)
	_, err = c.send(ctx, "Network.setExtraHTTPHeaders", buf)
	return err
}

// SetOffline toggles simulated network disconnection.
func (c *Controller) SetOffline(ctx context.Context, offline bool) error {
	netParams := struct {
		Offline            bool    `json:"offline"`
		Latency            float64 `json:"latency"`
		DownloadThroughput float64 `json:"downloadThroughput"`
		UploadThroughput   float64 `json:"uploadThroughput"`
	}{Offline: offline}
	buf, _ := json.Marshal(netParams)
	_, err := c.send(ctx, "Network.emulateNetworkConditions", buf)
	return err
}

// SetGeolocation overrides Geolocation API results for this page.
func (c *Controller) SetGeolocation(ctx context.Context, lat, lon, accuracy float64) error {
	params, _ := json.Marshal(cdpemulation.SetGeolocationOverrideParams{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
	})
	_, err := c.send(ctx, "Emulation.setGeolocationOverride", params)
	return err
}

// EmulateMedia overrides CSS media features.
func (c *Controller) EmulateMedia(ctx context.Context, media, colorScheme, reducedMotion string) error {
	var features []*cdpemulation.MediaFeature
	if colorScheme != "" {
		features = append(features, &cdpemulation.MediaFeature{Name: "prefers-color-scheme", Value: colorScheme})
	}
	if reducedMotion != "" {
		features = append(features, &cdpemulation.MediaFeature{Name: "prefers-reduced-motion", Value: reducedMotion})
	}
	params, _ := json.Marshal(cdpemulation.SetEmulatedMediaParams{Media: media, Features: features})
	_, err := c.send(ctx, "Emulation.setEmulatedMedia", params)
	return err
}

// BringToFront activates this page's tab.
func (c *Controller) BringToFront(ctx context.Context) error {
	_, err := c.send(ctx, "Page.bringToFront", nil)
	return err
}

// AddInitScript registers a script to run in every new document, mirroring
// Page.addScriptToEvaluateOnNewDocument.
func (c *Controller) AddInitScript(ctx context.Context, script string) error {
	c.mu.Lock()
	c.initScripts = append(c.initScripts, script)
	c.mu.Unlock()
	params, _ := json.Marshal(cdppage.AddScriptToEvaluateOnNewDocumentParams{Source: script})
	_, err := c.send(ctx, "Page.addScriptToEvaluateOnNewDocument", params)
	return err
}

func (c *Controller) send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if c.State() == StateCrashed {
		return nil, corerrors.ErrPageCrashed
	}
	return c.router.Send(ctx, c.sessionID, method, params)
}
