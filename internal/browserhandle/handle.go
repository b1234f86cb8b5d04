// Package browserhandle implements the BrowserHandle of spec.md §4.9: the
// lifecycle of one browser process or remote connection, plus the default
// ContextController every browser starts with.
//
// Launching is done with a plain os/exec child process, grounded on the
// same "read the DevTools listening on… line from stderr" technique real
// headless-browser launchers use, rather than through chromedp's own
// allocator: chromedp only exposes that information through its own CDP
// client loop, which would fight with Transport for ownership of the
// socket.
package browserhandle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	cdp "github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	cdptarget "github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/browsercontext"
	"reach/internal/cdpsession"
	"reach/internal/corerrors"
	"reach/internal/page"
	"reach/internal/profilestore"
	targettrack "reach/internal/target"
	"reach/internal/transport"
)

// State is the BrowserHandle lifecycle state of spec.md §4.9.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// Options configures Launch, which spawns a local process. To attach to an
// already-running browser, call Connect with its endpoint instead.
type Options struct {
	ExecPath      string
	Headless      bool
	UserDataDir   string
	ExtraFlags    map[string]string
	ProxyURL      string
	LaunchTimeout time.Duration
	Profile       *profilestore.Handle
}

// Handle is the BrowserHandle.
type Handle struct {
	log *zap.Logger

	mu    sync.Mutex
	state State

	tr      *transport.Transport
	router  *cdpsession.Router
	tracker *targettrack.Tracker

	defaultContext *browsercontext.Context
	contexts       map[cdp.BrowserContextID]*browsercontext.Context

	cmd         *exec.Cmd
	userDataDir string
	removeDir   bool
	profile     *profilestore.Handle

	version   string
	userAgent string
}

func defaultOptions(opts Options) Options {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 20 * time.Second
	}
	return opts
}

// Launch spawns a new local browser process and attaches a Transport to it.
func Launch(ctx context.Context, opts Options, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = defaultOptions(opts)

	cmd, wsURL, userDataDir, removeDir, err := spawnProcess(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("browserhandle: launch: %w", err)
	}

	h := &Handle{
		log:         log,
		state:       StateConnecting,
		cmd:         cmd,
		userDataDir: userDataDir,
		removeDir:   removeDir,
		profile:     opts.Profile,
		contexts:    make(map[cdp.BrowserContextID]*browsercontext.Context),
	}
	if err := h.attach(ctx, wsURL); err != nil {
		_ = killProcess(cmd)
		if removeDir {
			os.RemoveAll(userDataDir)
		}
		return nil, err
	}
	return h, nil
}

// Connect attaches to an already-running browser's devtools endpoint
// without taking on any process-lifecycle responsibility.
func Connect(ctx context.Context, endpoint string, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handle{
		log:      log,
		state:    StateConnecting,
		contexts: make(map[cdp.BrowserContextID]*browsercontext.Context),
	}
	if err := h.attach(ctx, endpoint); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handle) attach(ctx context.Context, wsURL string) error {
	tr, err := transport.Dial(ctx, wsURL, h.log)
	if err != nil {
		return fmt.Errorf("browserhandle: dial: %w", err)
	}
	h.tr = tr
	h.router = cdpsession.New(tr, h.log)
	h.tracker = targettrack.New(h.router, h.log)

	if err := h.tracker.EnableAutoAttach(ctx); err != nil {
		return fmt.Errorf("browserhandle: auto-attach: %w", err)
	}
	if err := h.tracker.Refresh(ctx); err != nil {
		return fmt.Errorf("browserhandle: initial target refresh: %w", err)
	}

	h.defaultContext = browsercontext.New(h.router, h.tracker, h.log, "", browsercontext.Options{})
	h.contexts[""] = h.defaultContext

	for _, info := range h.tracker.ForContext("") {
		if info.Kind != targettrack.KindPage {
			continue
		}
		if _, err := h.defaultContext.Adopt(ctx, info.TargetID); err != nil {
			h.log.Warn("adopt initial page failed", zap.String("target_id", string(info.TargetID)), zap.Error(err))
		}
	}

	ver, err := h.fetchVersion(ctx)
	if err == nil {
		h.version = ver.Product
		h.userAgent = ver.UserAgent
	} else {
		h.log.Warn("Browser.getVersion failed", zap.Error(err))
	}

	h.mu.Lock()
	h.state = StateConnected
	h.mu.Unlock()
	return nil
}

type versionInfo struct {
	Product   string
	UserAgent string
}

func (h *Handle) fetchVersion(ctx context.Context) (versionInfo, error) {
	res, err := h.router.Send(ctx, "", "Browser.getVersion", nil)
	if err != nil {
		return versionInfo{}, err
	}
	var ret cdpbrowser.GetVersionReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return versionInfo{}, err
	}
	return versionInfo{Product: ret.Product, UserAgent: ret.UserAgent}, nil
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Version returns the cached browser product string from Browser.getVersion.
func (h *Handle) Version() string { return h.version }

// UserAgent returns the browser's default User-Agent from Browser.getVersion.
func (h *Handle) UserAgent() string { return h.userAgent }

// DefaultContext returns the ContextController for the browser's own
// default browsing context.
func (h *Handle) DefaultContext() *browsercontext.Context { return h.defaultContext }

// NewContext creates a fresh, isolated browsing context.
func (h *Handle) NewContext(ctx context.Context, opts browsercontext.Options) (*browsercontext.Context, error) {
	c, err := browsercontext.CreateIsolated(ctx, h.router, h.tracker, h.log, opts)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.contexts[c.ContextID()] = c
	h.mu.Unlock()
	return c, nil
}

// Contexts returns every open browsing context, default one included.
func (h *Handle) Contexts() []*browsercontext.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*browsercontext.Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		out = append(out, c)
	}
	return out
}

// NewPage is shorthand for DefaultContext().NewPage.
func (h *Handle) NewPage(ctx context.Context, rawURL string) (*browsercontext.Page, error) {
	return h.defaultContext.NewPage(ctx, rawURL)
}

// Pages aggregates every open page across every context.
func (h *Handle) Pages() []*browsercontext.Page {
	var out []*browsercontext.Page
	for _, c := range h.Contexts() {
		out = append(out, c.Pages()...)
	}
	return out
}

// NewCDPSession returns the low-level router shared by every controller
// built on this handle, for callers that need raw protocol access.
func (h *Handle) NewCDPSession() *cdpsession.Router { return h.router }

// WindowBounds reads the OS window bounds hosting targetID, supplementing
// spec.md §4.9 with the window-geometry controls original_source exposes.
func (h *Handle) WindowBounds(ctx context.Context, targetID cdptarget.ID) (cdpbrowser.Bounds, error) {
	params, err := json.Marshal(cdpbrowser.GetWindowForTargetParams{TargetID: targetID})
	if err != nil {
		return cdpbrowser.Bounds{}, err
	}
	res, err := h.router.Send(ctx, "", "Browser.getWindowForTarget", params)
	if err != nil {
		return cdpbrowser.Bounds{}, err
	}
	var ret cdpbrowser.GetWindowForTargetReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return cdpbrowser.Bounds{}, err
	}
	if ret.Bounds == nil {
		return cdpbrowser.Bounds{}, nil
	}
	return *ret.Bounds, nil
}

// SetWindowBounds resizes/repositions the OS window hosting targetID.
func (h *Handle) SetWindowBounds(ctx context.Context, targetID cdptarget.ID, bounds cdpbrowser.Bounds) error {
	getParams, err := json.Marshal(cdpbrowser.GetWindowForTargetParams{TargetID: targetID})
	if err != nil {
		return err
	}
	res, err := h.router.Send(ctx, "", "Browser.getWindowForTarget", getParams)
	if err != nil {
		return err
	}
	var ret cdpbrowser.GetWindowForTargetReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return err
	}
	setParams, err := json.Marshal(cdpbrowser.SetWindowBoundsParams{WindowID: ret.WindowID, Bounds: &bounds})
	if err != nil {
		return err
	}
	_, err = h.router.Send(ctx, "", "Browser.setWindowBounds", setParams)
	return err
}

// Reset prepares a handle for reuse by a pool: every non-default context is
// closed, and every page in the default context beyond one blank survivor
// is closed too, mirroring spec.md §4.10's release()-time recycling.
func (h *Handle) Reset(ctx context.Context) error {
	h.mu.Lock()
	nonDefault := make([]*browsercontext.Context, 0, len(h.contexts))
	for id, c := range h.contexts {
		if id != "" {
			nonDefault = append(nonDefault, c)
		}
	}
	h.mu.Unlock()

	for _, c := range nonDefault {
		if err := c.Close(ctx); err != nil {
			return fmt.Errorf("browserhandle: reset: close context: %w", err)
		}
		h.mu.Lock()
		delete(h.contexts, c.ContextID())
		h.mu.Unlock()
	}

	pages := h.defaultContext.Pages()
	if len(pages) == 0 {
		_, err := h.defaultContext.NewPage(ctx, "about:blank")
		return err
	}
	for _, p := range pages[1:] {
		if err := h.defaultContext.ClosePage(ctx, p.TargetID); err != nil {
			return fmt.Errorf("browserhandle: reset: close page: %w", err)
		}
	}
	survivor := pages[0]
	return survivor.Controller.Goto(ctx, "about:blank", page.WaitLoad, "", 10*time.Second)
}

// Close tears the browser down: every non-default context, the default
// context's pages, the Transport, then (for a launched process) the OS
// process itself, finally releasing any held profile lock.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateClosing || h.state == StateDisconnected {
		h.mu.Unlock()
		return nil
	}
	h.state = StateClosing
	contexts := make([]*browsercontext.Context, 0, len(h.contexts))
	for id, c := range h.contexts {
		if id != "" {
			contexts = append(contexts, c)
		}
	}
	h.mu.Unlock()

	var firstErr error
	for _, c := range contexts {
		if err := c.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.defaultContext != nil {
		if err := h.defaultContext.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.tr != nil {
		if err := h.tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if h.cmd != nil {
		if err := terminateProcess(h.cmd); err != nil && firstErr == nil {
			firstErr = err
		}
		if h.removeDir {
			os.RemoveAll(h.userDataDir)
		}
	}
	if h.profile != nil {
		if err := h.profile.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	h.mu.Lock()
	h.state = StateDisconnected
	h.mu.Unlock()
	return firstErr
}

func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
	}
	return killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

var execCandidates = []string{
	"headless_shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

func resolveExecPath(preferred string) string {
	if preferred != "" {
		return preferred
	}
	for _, candidate := range execCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return execCandidates[0]
}

func buildArgs(opts Options) (args []string, userDataDir string, removeDir bool, err error) {
	args = append(args,
		"--disable-gpu",
		"--disable-dev-shm-usage",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-features=IsolateOrigins,site-per-process,TranslateUI",
		"--no-first-run",
		"--no-default-browser-check",
		"--remote-debugging-port=0",
	)
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	if os.Getuid() == 0 {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if opts.ProxyURL != "" {
		args = append(args, "--proxy-server="+opts.ProxyURL)
	}
	for name, value := range opts.ExtraFlags {
		if value == "" {
			args = append(args, "--"+name)
		} else {
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		}
	}

	switch {
	case opts.Profile != nil:
		userDataDir = opts.Profile.UserDataDir()
	case opts.UserDataDir != "":
		userDataDir = opts.UserDataDir
	default:
		userDataDir, err = os.MkdirTemp("", "reach-profile-*")
		if err != nil {
			return nil, "", false, err
		}
		removeDir = true
	}
	args = append(args, "--user-data-dir="+userDataDir)
	return args, userDataDir, removeDir, nil
}

// spawnProcess launches the browser executable and blocks until its
// "DevTools listening on ws://…" banner appears on stderr, returning the
// parsed websocket endpoint.
func spawnProcess(ctx context.Context, opts Options) (cmd *exec.Cmd, wsURL, userDataDir string, removeDir bool, err error) {
	args, userDataDir, removeDir, err := buildArgs(opts)
	if err != nil {
		return nil, "", "", false, err
	}
	execPath := resolveExecPath(opts.ExecPath)

	cmd = exec.Command(execPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", "", false, err
	}
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		return nil, "", "", false, fmt.Errorf("start %s: %w", execPath, err)
	}

	type result struct {
		url string
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		url, err := readDevToolsURL(stderr)
		resultCh <- result{url: url, err: err}
	}()

	timeout := opts.LaunchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	select {
	case r := <-resultCh:
		if r.err != nil {
			_ = killProcess(cmd)
			return nil, "", "", false, r.err
		}
		return cmd, r.url, userDataDir, removeDir, nil
	case <-time.After(timeout):
		_ = killProcess(cmd)
		return nil, "", "", false, corerrors.ErrTimeout
	case <-ctx.Done():
		_ = killProcess(cmd)
		return nil, "", "", false, ctx.Err()
	}
}

func readDevToolsURL(rc io.ReadCloser) (string, error) {
	prefix := []byte("DevTools listening on")
	var accumulated bytes.Buffer
	r := bufio.NewReader(rc)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return "", fmt.Errorf("browser exited before announcing a debug port:\n%s", accumulated.String())
		}
		if bytes.HasPrefix(line, prefix) {
			return string(bytes.TrimSpace(line[len(prefix):])), nil
		}
		accumulated.Write(line)
	}
}
