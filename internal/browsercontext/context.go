// Package browsercontext implements the ContextController of spec.md §4.8:
// a browsing context that owns a set of Pages sharing cookies, permissions,
// and injected behavior (init scripts, exposed functions, routes).
package browsercontext

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cdp "github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	cdpemulation "github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	cdpsecurity "github.com/chromedp/cdproto/security"
	cdptarget "github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/cdpsession"
	"reach/internal/network"
	"reach/internal/page"
	targettrack "reach/internal/target"
)

// Viewport is the emulated window viewport applied to every page.
type Viewport struct {
	Width  int64
	Height int64
	DPR    float64
	Mobile bool
	Touch  bool
}

// Geolocation is the spoofed position applied to every page.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Options is the set of per-context defaults propagated to every page
// created in the context, per spec.md §4.8.
type Options struct {
	Viewport          *Viewport
	Locale            string
	TimezoneID        string
	Geolocation       *Geolocation
	Permissions       []string
	ExtraHTTPHeaders  map[string]string
	Offline           bool
	IgnoreHTTPSErrors bool
	BypassCSP         bool
	JavaScriptEnabled bool
}

// Page bundles the PageController and NetworkObserver of one target
// belonging to this Context.
type Page struct {
	TargetID  cdptarget.ID
	SessionID cdptarget.SessionID
	Controller *page.Controller
	Observer   *network.Observer
}

type routeEntry struct {
	pattern string
	handler page.RouteHandler
}

type bindingEntry struct {
	name     string
	callback page.BindingCallback
}

// Context is the ContextController for one browsing context.
type Context struct {
	router    *cdpsession.Router
	tracker   *targettrack.Tracker
	log       *zap.Logger
	contextID cdp.BrowserContextID
	isDefault bool
	opts      Options

	mu          sync.Mutex
	pages       map[cdptarget.ID]*Page
	initScripts []string
	bindings    []bindingEntry
	routes      []routeEntry
	closed      bool
}

// New wraps an existing browser context (contextID is empty for the
// browser's own default context). It does not create any pages; call
// NewPage or adopt an already-tracked target via Adopt.
func New(router *cdpsession.Router, tracker *targettrack.Tracker, log *zap.Logger, contextID cdp.BrowserContextID, opts Options) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		router:    router,
		tracker:   tracker,
		log:       log,
		contextID: contextID,
		isDefault: contextID == "",
		opts:      opts,
		pages:     make(map[cdptarget.ID]*Page),
	}
}

// CreateIsolated creates a brand-new, non-default browser context via
// Target.createBrowserContext, per spec.md §4.8's new_context().
func CreateIsolated(ctx context.Context, router *cdpsession.Router, tracker *targettrack.Tracker, log *zap.Logger, opts Options) (*Context, error) {
	params, err := json.Marshal(cdptarget.CreateBrowserContextParams{DisposeOnDetach: true})
	if err != nil {
		return nil, err
	}
	res, err := router.Send(ctx, "", "Target.createBrowserContext", params)
	if err != nil {
		return nil, fmt.Errorf("browsercontext: create: %w", err)
	}
	var ret cdptarget.CreateBrowserContextReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return nil, err
	}
	c := New(router, tracker, log, ret.BrowserContextID, opts)
	if len(opts.Permissions) > 0 {
		if err := c.grantPermissions(ctx); err != nil {
			log.Warn("grant permissions on new context failed", zap.Error(err))
		}
	}
	return c, nil
}

// ContextID returns the browser context id, empty for the default context.
func (c *Context) ContextID() cdp.BrowserContextID { return c.contextID }

// IsDefault reports whether this is the browser's own default context.
func (c *Context) IsDefault() bool { return c.isDefault }

// Pages returns a snapshot of every open page in the context.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out
}

// NewPage creates a target in this context, attaches a Session to it, and
// wires a PageController + NetworkObserver pair, applying every context
// default before returning it (spec.md §4.8's new_page()).
func (c *Context) NewPage(ctx context.Context, rawURL string) (*Page, error) {
	if rawURL == "" {
		rawURL = "about:blank"
	}
	createParams := cdptarget.CreateTargetParams{URL: rawURL}
	if !c.isDefault {
		createParams.BrowserContextID = c.contextID
	}
	if c.opts.Viewport != nil {
		createParams.Width = c.opts.Viewport.Width
		createParams.Height = c.opts.Viewport.Height
	}
	params, err := json.Marshal(createParams)
	if err != nil {
		return nil, err
	}
	res, err := c.router.Send(ctx, "", "Target.createTarget", params)
	if err != nil {
		return nil, fmt.Errorf("browsercontext: create target: %w", err)
	}
	var ret cdptarget.CreateTargetReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return nil, err
	}
	return c.Adopt(ctx, ret.TargetID)
}

// Adopt attaches a Session to an already-existing, already-tracked target
// (e.g. one discovered by TargetTracker from a window.open()) and wires it
// into this Context exactly as NewPage does.
func (c *Context) Adopt(ctx context.Context, targetID cdptarget.ID) (*Page, error) {
	sessionID, err := c.router.Attach(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("browsercontext: attach: %w", err)
	}
	if c.tracker != nil {
		c.tracker.AttachSessionID(targetID, sessionID)
	}

	ctrl := page.New(c.router, sessionID, targetID, c.log)
	if err := ctrl.Enable(ctx); err != nil {
		return nil, fmt.Errorf("browsercontext: enable page: %w", err)
	}

	fetchBody := network.DefaultBodyFetcher(c.router, string(sessionID))
	obs := network.New(c.router, string(sessionID), c.log, fetchBody)
	if err := obs.Start(ctx, network.Options{MaxEntries: 1000, AutoCaptureBody: false}); err != nil {
		return nil, fmt.Errorf("browsercontext: start observer: %w", err)
	}

	p := &Page{TargetID: targetID, SessionID: sessionID, Controller: ctrl, Observer: obs}

	if err := c.applyDefaults(ctx, p); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pages[targetID] = p
	c.mu.Unlock()
	return p, nil
}

// applyDefaults pushes every context-level option, init script, exposed
// function, and route onto a newly attached page.
func (c *Context) applyDefaults(ctx context.Context, p *Page) error {
	c.mu.Lock()
	opts := c.opts
	initScripts := append([]string(nil), c.initScripts...)
	bindings := append([]bindingEntry(nil), c.bindings...)
	routes := append([]routeEntry(nil), c.routes...)
	c.mu.Unlock()

	ctrl := p.Controller

	if opts.Viewport != nil {
		v := opts.Viewport
		if err := ctrl.SetViewport(ctx, v.Width, v.Height, v.DPR, v.Mobile, v.Touch); err != nil {
			return fmt.Errorf("browsercontext: set viewport: %w", err)
		}
	}
	if len(opts.ExtraHTTPHeaders) > 0 {
		if err := ctrl.SetExtraHTTPHeaders(ctx, opts.ExtraHTTPHeaders); err != nil {
			return fmt.Errorf("browsercontext: set headers: %w", err)
		}
	}
	if opts.Offline {
		if err := ctrl.SetOffline(ctx, true); err != nil {
			return fmt.Errorf("browsercontext: set offline: %w", err)
		}
	}
	if opts.Geolocation != nil {
		g := opts.Geolocation
		if err := ctrl.SetGeolocation(ctx, g.Latitude, g.Longitude, g.Accuracy); err != nil {
			return fmt.Errorf("browsercontext: set geolocation: %w", err)
		}
	}
	if opts.TimezoneID != "" {
		if err := c.sendOnSession(ctx, p.SessionID, "Emulation.setTimezoneOverride", cdpemulation.SetTimezoneOverrideParams{TimezoneID: opts.TimezoneID}); err != nil {
			return fmt.Errorf("browsercontext: set timezone: %w", err)
		}
	}
	if opts.Locale != "" {
		if err := c.sendOnSession(ctx, p.SessionID, "Emulation.setLocaleOverride", cdpemulation.SetLocaleOverrideParams{Locale: opts.Locale}); err != nil {
			return fmt.Errorf("browsercontext: set locale: %w", err)
		}
	}
	if opts.BypassCSP {
		if err := c.sendOnSession(ctx, p.SessionID, "Page.setBypassCSP", cdppage.SetBypassCSPParams{Enabled: true}); err != nil {
			return fmt.Errorf("browsercontext: bypass csp: %w", err)
		}
	}
	if !opts.JavaScriptEnabled {
		if err := c.sendOnSession(ctx, p.SessionID, "Emulation.setScriptExecutionDisabled", cdpemulation.SetScriptExecutionDisabledParams{Value: true}); err != nil {
			return fmt.Errorf("browsercontext: disable javascript: %w", err)
		}
	}
	if opts.IgnoreHTTPSErrors {
		if err := c.sendOnSession(ctx, p.SessionID, "Security.setIgnoreCertificateErrors", cdpsecurity.SetIgnoreCertificateErrorsParams{Ignore: true}); err != nil {
			return fmt.Errorf("browsercontext: ignore https errors: %w", err)
		}
	}

	for _, script := range initScripts {
		if err := ctrl.AddInitScript(ctx, script); err != nil {
			return fmt.Errorf("browsercontext: add init script: %w", err)
		}
	}
	for _, b := range bindings {
		if err := ctrl.ExposeFunction(ctx, b.name, b.callback); err != nil {
			return fmt.Errorf("browsercontext: expose function %s: %w", b.name, err)
		}
	}
	for _, r := range routes {
		if err := ctrl.Route(ctx, r.pattern, r.handler); err != nil {
			return fmt.Errorf("browsercontext: route %s: %w", r.pattern, err)
		}
	}
	return nil
}

func (c *Context) sendOnSession(ctx context.Context, sessionID cdptarget.SessionID, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = c.router.Send(ctx, sessionID, method, raw)
	return err
}

func (c *Context) grantPermissions(ctx context.Context) error {
	params := cdpbrowser.GrantPermissionsParams{
		Permissions:      permissionTypes(c.opts.Permissions),
		BrowserContextID: c.contextID,
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = c.router.Send(ctx, "", "Browser.grantPermissions", raw)
	return err
}

func permissionTypes(names []string) []cdpbrowser.PermissionType {
	out := make([]cdpbrowser.PermissionType, 0, len(names))
	for _, n := range names {
		out = append(out, cdpbrowser.PermissionType(n))
	}
	return out
}

// AddInitScript registers a script evaluated on every future document in
// every page of this context, and pushes it onto already-open pages too.
func (c *Context) AddInitScript(ctx context.Context, script string) error {
	c.mu.Lock()
	c.initScripts = append(c.initScripts, script)
	c.mu.Unlock()
	pages := c.Pages()

	for _, p := range pages {
		if err := p.Controller.AddInitScript(ctx, script); err != nil {
			return err
		}
	}
	return nil
}

// ExposeFunction registers name as a binding available to every page's
// JavaScript in this context, retroactively applying it to open pages.
func (c *Context) ExposeFunction(ctx context.Context, name string, callback page.BindingCallback) error {
	c.mu.Lock()
	c.bindings = append(c.bindings, bindingEntry{name: name, callback: callback})
	c.mu.Unlock()
	pages := c.Pages()

	for _, p := range pages {
		if err := p.Controller.ExposeFunction(ctx, name, callback); err != nil {
			return err
		}
	}
	return nil
}

// Route installs a request interceptor for pattern on every page in this
// context, retroactively applying it to open pages.
func (c *Context) Route(ctx context.Context, pattern string, handler page.RouteHandler) error {
	c.mu.Lock()
	c.routes = append(c.routes, routeEntry{pattern: pattern, handler: handler})
	c.mu.Unlock()
	pages := c.Pages()

	for _, p := range pages {
		if err := p.Controller.Route(ctx, pattern, handler); err != nil {
			return err
		}
	}
	return nil
}

// ClosePage closes a single page by detaching its session and disposing
// the underlying target, removing it from the context's page set.
func (c *Context) ClosePage(ctx context.Context, targetID cdptarget.ID) error {
	c.mu.Lock()
	p, ok := c.pages[targetID]
	delete(c.pages, targetID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	_ = p.Observer.Stop(ctx)
	_ = c.router.Detach(ctx, p.SessionID)

	params, err := json.Marshal(cdptarget.CloseTargetParams{TargetID: targetID})
	if err != nil {
		return err
	}
	_, err = c.router.Send(ctx, "", "Target.closeTarget", params)
	return err
}

// Close closes every page in the context. For a non-default context it
// also disposes the browser context itself via
// Target.disposeBrowserContext, per spec.md §4.8's close() semantics.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	targets := make([]cdptarget.ID, 0, len(c.pages))
	for id := range c.pages {
		targets = append(targets, id)
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range targets {
		if err := c.ClosePage(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.isDefault {
		return firstErr
	}

	params, err := json.Marshal(cdptarget.DisposeBrowserContextParams{BrowserContextID: c.contextID})
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	if _, err := c.router.Send(ctx, "", "Target.disposeBrowserContext", params); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
