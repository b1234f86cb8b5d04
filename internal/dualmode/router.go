// Package dualmode implements the DualModeRouter of spec.md §4.11: the
// policy deciding, per operation, whether it runs through a real browser
// Session or through the lighter-weight session-mode HttpClient, and the
// cookie-jar coherence that decision requires whenever the active side
// changes.
package dualmode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	cdpnetwork "github.com/chromedp/cdproto/network"
	cdptarget "github.com/chromedp/cdproto/target"

	"reach/internal/cdpsession"
	"reach/internal/cookie"
	"reach/internal/corerrors"
	"reach/internal/httpclient"
	"reach/internal/page"
)

// Mode is which engine services one operation.
type Mode string

const (
	ModeBrowser Mode = "browser"
	ModeSession Mode = "session"
)

// GlobalSetting is the coarse operator knob spec.md §4.11 calls "auto" vs
// a hard pin to one side.
type GlobalSetting string

const (
	SettingAuto    GlobalSetting = "auto"
	SettingBrowser GlobalSetting = "browser"
	SettingSession GlobalSetting = "session"
)

// URLRule pins every request whose URL matches Pattern (a Filter-style
// glob, see internal/network) to Mode. Rules are evaluated in order;
// the first match wins.
type URLRule struct {
	Pattern string
	Mode    Mode
}

// Config is the static policy DualModeRouter evaluates per call.
type Config struct {
	Global            GlobalSetting
	ForcedBrowserKinds map[string]bool
	URLRules          []URLRule
	PreferSession     bool
}

// DirtyFlag tracks which side holds cookie writes the other side hasn't
// seen yet, per spec.md §4.11's cookies_dirty_in.
type DirtyFlag string

const (
	DirtyNone    DirtyFlag = "none"
	DirtyBrowser DirtyFlag = "browser"
	DirtySession DirtyFlag = "session"
)

// Router is the DualModeRouter.
type Router struct {
	router    *cdpsession.Router
	client    httpclient.HttpClient
	store     *cookie.Store
	config    Config

	mu        sync.Mutex
	sessionID cdptarget.SessionID
	activeURL string
	dirty     DirtyFlag
}

// New builds a Router. sessionID may be updated later via SetActiveSession
// as the owning Page navigates or is replaced.
func New(router *cdpsession.Router, sessionID cdptarget.SessionID, client httpclient.HttpClient, store *cookie.Store, config Config) *Router {
	return &Router{
		router:    router,
		client:    client,
		store:     store,
		config:    config,
		sessionID: sessionID,
		dirty:     DirtyNone,
	}
}

// SetActiveSession updates the browser-mode session DualModeRouter
// synchronizes cookies against, e.g. after the owning Page navigates to a
// freshly attached target.
func (r *Router) SetActiveSession(sessionID cdptarget.SessionID) {
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()
}

// SelectMode resolves which engine should service one operation, per
// spec.md §4.11's precedence: explicit override, then the global setting,
// then a forced-browser operation kind, then URL pattern rules, and
// finally the prefer_session default bias.
func (r *Router) SelectMode(opKind, rawURL string, override *Mode) Mode {
	if override != nil {
		return *override
	}

	r.mu.Lock()
	global := r.config.Global
	forced := r.config.ForcedBrowserKinds[opKind]
	rules := r.config.URLRules
	preferSession := r.config.PreferSession
	r.mu.Unlock()

	switch global {
	case SettingBrowser:
		return ModeBrowser
	case SettingSession:
		return ModeSession
	}

	if forced {
		return ModeBrowser
	}

	for _, rule := range rules {
		if matchGlob(rule.Pattern, rawURL) {
			return rule.Mode
		}
	}

	if preferSession {
		return ModeSession
	}
	return ModeBrowser
}

// Prepare resolves the mode for one operation and, if it crosses to the
// opposite side from whichever side holds unsynced cookie writes, syncs
// cookies first so the operation sees a coherent jar.
func (r *Router) Prepare(ctx context.Context, opKind, rawURL string, override *Mode) (Mode, error) {
	mode := r.SelectMode(opKind, rawURL, override)

	r.mu.Lock()
	dirty := r.dirty
	r.mu.Unlock()

	switch {
	case dirty == DirtyBrowser && mode == ModeSession:
		if err := r.SyncCookies(ctx); err != nil {
			return mode, err
		}
	case dirty == DirtySession && mode == ModeBrowser:
		if err := r.SyncCookies(ctx); err != nil {
			return mode, err
		}
	}
	return mode, nil
}

// MarkDirty records that side just wrote cookies the other side hasn't
// observed yet. Calling it with the side that's already dirty, or with
// DirtyNone, is a no-op/clear respectively.
func (r *Router) MarkDirty(side DirtyFlag) {
	r.mu.Lock()
	r.dirty = side
	r.mu.Unlock()
}

// SyncCookies pushes whichever side is dirty into the other side and into
// the shared CookieStore, then clears the flag. Calling it when nothing is
// dirty is a no-op, matching spec.md §4.11's explicit sync_cookies().
func (r *Router) SyncCookies(ctx context.Context) error {
	r.mu.Lock()
	dirty := r.dirty
	sessionID := r.sessionID
	activeURL := r.activeURL
	r.mu.Unlock()

	switch dirty {
	case DirtyNone:
		return nil
	case DirtyBrowser:
		recs, err := r.readBrowserCookies(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("dualmode: read browser cookies: %w", err)
		}
		r.store.UpdateFromList(recs)
		if activeURL != "" {
			cookies, err := r.store.GetForURL(activeURL)
			if err == nil {
				if err := r.pushToClient(activeURL, cookies); err != nil {
					return fmt.Errorf("dualmode: push cookies to client: %w", err)
				}
			}
		}
	case DirtySession:
		if activeURL != "" {
			values, err := r.client.GetCookies(activeURL)
			if err != nil {
				return fmt.Errorf("dualmode: read session cookies: %w", err)
			}
			if u, err := url.Parse(activeURL); err == nil {
				for name, value := range values {
					r.store.Set(cookie.Record{Name: name, Value: value, Domain: u.Hostname(), Path: "/"})
				}
			}
		}
		recs := r.store.GetAll()
		if err := r.writeBrowserCookies(ctx, sessionID, recs); err != nil {
			return fmt.Errorf("dualmode: write browser cookies: %w", err)
		}
	}

	r.mu.Lock()
	r.dirty = DirtyNone
	r.mu.Unlock()
	return nil
}

// SetActiveURL records the URL the browser-mode Page currently shows, used
// to scope cookie pushes into the session-mode HttpClient during sync.
func (r *Router) SetActiveURL(rawURL string) {
	r.mu.Lock()
	r.activeURL = rawURL
	r.mu.Unlock()
}

func (r *Router) pushToClient(rawURL string, recs []cookie.Record) error {
	values := make(map[string]string, len(recs))
	for _, rec := range recs {
		values[rec.Name] = rec.Value
	}
	return r.client.SetCookies(rawURL, values)
}

// ClearCookies empties the shared store, the session-mode client's jar,
// and the browser's cookie store, per spec.md §4.11's clear_cookies().
func (r *Router) ClearCookies(ctx context.Context) error {
	r.store.Clear("")
	if err := r.client.ClearCookies(); err != nil {
		return fmt.Errorf("dualmode: clear session cookies: %w", err)
	}

	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()
	if sessionID != "" {
		if _, err := r.router.Send(ctx, sessionID, "Network.clearBrowserCookies", nil); err != nil {
			return fmt.Errorf("dualmode: clear browser cookies: %w", err)
		}
	}

	r.mu.Lock()
	r.dirty = DirtyNone
	r.mu.Unlock()
	return nil
}

func (r *Router) readBrowserCookies(ctx context.Context, sessionID cdptarget.SessionID) ([]cookie.Record, error) {
	res, err := r.router.Send(ctx, sessionID, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}
	var ret cdpnetwork.GetCookiesReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return nil, err
	}
	out := make([]cookie.Record, 0, len(ret.Cookies))
	for _, c := range ret.Cookies {
		out = append(out, cookie.Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: sameSiteFromCDP(c.SameSite),
		})
	}
	return out, nil
}

func (r *Router) writeBrowserCookies(ctx context.Context, sessionID cdptarget.SessionID, recs []cookie.Record) error {
	if sessionID == "" || len(recs) == 0 {
		return nil
	}
	params := make([]*cdpnetwork.CookieParam, 0, len(recs))
	for _, rec := range recs {
		params = append(params, &cdpnetwork.CookieParam{
			Name:     rec.Name,
			Value:    rec.Value,
			Domain:   rec.Domain,
			Path:     rec.Path,
			HTTPOnly: rec.HTTPOnly,
			Secure:   rec.Secure,
			SameSite: sameSiteToCDP(rec.SameSite),
		})
	}
	raw, err := json.Marshal(cdpnetwork.SetCookiesParams{Cookies: params})
	if err != nil {
		return err
	}
	_, err = r.router.Send(ctx, sessionID, "Network.setCookies", raw)
	return err
}

func sameSiteFromCDP(v cdpnetwork.CookieSameSite) cookie.SameSite {
	switch v {
	case cdpnetwork.CookieSameSiteStrict:
		return cookie.SameSiteStrict
	case cdpnetwork.CookieSameSiteLax:
		return cookie.SameSiteLax
	default:
		return cookie.SameSiteNone
	}
}

func sameSiteToCDP(v cookie.SameSite) cdpnetwork.CookieSameSite {
	switch v {
	case cookie.SameSiteStrict:
		return cdpnetwork.CookieSameSiteStrict
	case cookie.SameSiteLax:
		return cdpnetwork.CookieSameSiteLax
	default:
		return cdpnetwork.CookieSameSiteNone
	}
}

// Query reports whether selector matches at least one element in the
// document currently fetched at activeURL, evaluated against the
// session-mode HttpClient's response rather than a live DOM. Mirrors
// page.Controller.Query's signature so callers can dispatch to either side
// of the DualModeRouter without branching on the return shape.
func (r *Router) Query(ctx context.Context, selector string) (bool, error) {
	n, err := r.QueryAll(ctx, selector)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// QueryAll returns how many elements selector matches in the document
// fetched at activeURL. Only CSS locators are supported: there is no DOM in
// HTTP-only mode, so matching runs against the parsed HTML tree via goquery
// instead, and goquery has no XPath engine.
func (r *Router) QueryAll(ctx context.Context, selector string) (int, error) {
	loc, err := page.ParseSelector(selector)
	if err != nil {
		return 0, err
	}
	if loc.Mode != page.ModeCSS {
		return 0, &corerrors.UnsupportedSelectorMode{Mode: "xpath", Engine: "dualmode session-mode query"}
	}

	doc, err := r.fetchDocument(ctx)
	if err != nil {
		return 0, err
	}
	sel := doc.Find(loc.Expr)
	if loc.Index != nil {
		if *loc.Index < 0 || *loc.Index >= sel.Length() {
			return 0, nil
		}
		return 1, nil
	}
	return sel.Length(), nil
}

// fetchDocument issues a GET against the Router's activeURL through the
// session-mode HttpClient and parses the response body with goquery.
func (r *Router) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	r.mu.Lock()
	rawURL := r.activeURL
	r.mu.Unlock()
	if rawURL == "" {
		return nil, fmt.Errorf("dualmode: query requires an active URL")
	}

	resp, err := r.client.Send(ctx, httpclient.Request{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("dualmode: fetch document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("dualmode: parse document: %w", err)
	}
	return doc, nil
}

// matchGlob supports '*' wildcards the same way internal/network's Filter
// does, kept local and small so dualmode doesn't need to import network
// just for one helper.
func matchGlob(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return globMatch(pattern, s)
}

func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if globMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	}
}
