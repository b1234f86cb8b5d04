// Package httpclient implements the external HttpClient interface of
// spec.md §4.6 and a default implementation wrapping gocolly/colly, the
// session-mode HTTP engine the core falls back to when DualModeRouter
// decides a request doesn't need a real browser.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"reach/pkg/network"
)

// Request is the capability-set request shape consumed by Client.Send.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what Send returns.
type Response struct {
	StatusCode int
	URL        string
	Headers    map[string]string
	Body       []byte
}

// HttpClient is the external interface the core consumes, per spec.md
// §4.6: {send, set_fingerprint, set_proxy, get_cookies, set_cookies,
// delete_cookie, clear_cookies}. The core never assumes the client
// persists cookies beyond its own lifetime; CookieStore is the source of
// truth and pushes/pulls around every session-mode request.
type HttpClient interface {
	Send(ctx context.Context, req Request) (*Response, error)
	SetFingerprint(p Profile)
	SetProxy(proxyURL string) error
	GetCookies(rawURL string) (map[string]string, error)
	SetCookies(rawURL string, cookies map[string]string) error
	DeleteCookie(rawURL, name string) error
	ClearCookies() error
}

// Client is the default HttpClient, grounded on colly's synchronous
// request/response model: one colly.Context per Send correlates the
// callback-driven result back to the blocked caller.
type Client struct {
	mu          sync.Mutex
	collector   *colly.Collector
	fingerprint Profile
	timeout     time.Duration
}

// Options configures a default Client.
type Options struct {
	Timeout     time.Duration
	Fingerprint Profile
	// Pool tunes the underlying transport's connection pooling. A nil Pool
	// falls back to network.DefaultPoolConfig().
	Pool *network.PoolConfig
}

// New constructs a default, colly-backed HttpClient.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	poolConfig := network.DefaultPoolConfig()
	if opts.Pool != nil {
		poolConfig = *opts.Pool
	}
	pool := network.NewConnectionPool(poolConfig)

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)
	c.WithTransport(pool.GetClient().Transport)

	cl := &Client{collector: c, fingerprint: opts.Fingerprint, timeout: opts.Timeout}
	cl.installHandlers()
	if opts.Fingerprint.UserAgent != "" {
		cl.applyFingerprintLocked()
	}
	return cl
}

type sendOutcome struct {
	resp *Response
	err  error
}

func (c *Client) installHandlers() {
	c.collector.OnResponse(func(r *colly.Response) {
		ch, ok := r.Ctx.GetAny("out").(chan sendOutcome)
		if !ok {
			return
		}
		headers := make(map[string]string)
		if r.Headers != nil {
			for k := range *r.Headers {
				headers[k] = r.Headers.Get(k)
			}
		}
		ch <- sendOutcome{resp: &Response{
			StatusCode: r.StatusCode,
			URL:        r.Request.URL.String(),
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}}
	})

	c.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		ch, ok := r.Ctx.GetAny("out").(chan sendOutcome)
		if !ok {
			return
		}
		ch <- sendOutcome{err: err}
	})
}

// Send issues req synchronously (colly's default, non-Async mode blocks
// Request until its callbacks fire) and returns the correlated Response.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	hdr := http.Header{}
	c.mu.Lock()
	for k, v := range c.fingerprint.ExtraHeaders() {
		hdr.Set(k, v)
	}
	c.mu.Unlock()
	for k, v := range req.Headers {
		hdr.Set(k, v)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = strings.NewReader(string(req.Body))
	}

	cctx := colly.NewContext()
	out := make(chan sendOutcome, 1)
	cctx.Put("out", out)

	reqErr := make(chan error, 1)
	go func() { reqErr <- c.collector.Request(method, req.URL, body, cctx, hdr) }()

	for {
		select {
		case outcome := <-out:
			if outcome.err != nil {
				return nil, outcome.err
			}
			return outcome.resp, nil
		case err := <-reqErr:
			if err != nil {
				return nil, fmt.Errorf("httpclient send: %w", err)
			}
			reqErr = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SetFingerprint updates the User-Agent and extra headers applied to every
// future request.
func (c *Client) SetFingerprint(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = p
	c.applyFingerprintLocked()
}

func (c *Client) applyFingerprintLocked() {
	c.collector.UserAgent = c.fingerprint.UserAgent
}

// SetProxy configures the single upstream proxy colly issues requests
// through. Passing "" clears it.
func (c *Client) SetProxy(proxyURL string) error {
	if proxyURL == "" {
		c.collector.SetProxyFunc(nil)
		return nil
	}
	return c.collector.SetProxy(proxyURL)
}

// GetCookies returns the cookie jar's view for rawURL as name→value.
func (c *Client) GetCookies(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, ck := range c.collector.Cookies(u.String()) {
		out[ck.Name] = ck.Value
	}
	return out, nil
}

// SetCookies installs cookies into the jar for rawURL.
func (c *Client) SetCookies(rawURL string, cookies map[string]string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value})
	}
	return c.collector.SetCookies(u.String(), list)
}

// DeleteCookie removes one cookie by name for rawURL, by overwriting it
// with an immediately-expired cookie (net/http/cookiejar has no direct
// delete).
func (c *Client) DeleteCookie(rawURL, name string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	expired := &http.Cookie{Name: name, Value: "", MaxAge: -1, Expires: time.Unix(0, 0)}
	return c.collector.SetCookies(u.String(), []*http.Cookie{expired})
}

// ClearCookies replaces the collector with a fresh one, discarding the whole
// jar; cookie storage has no partial clear in net/http/cookiejar. The request
// timeout and fingerprint carry over to the new collector; the pooled
// transport installed by New and any proxy set through SetProxy do not.
func (c *Client) ClearCookies() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	timeout := c.timeout
	fp := c.fingerprint
	c.collector = colly.NewCollector(colly.AllowURLRevisit())
	c.collector.SetRequestTimeout(timeout)
	c.installHandlers()
	c.fingerprint = fp
	c.applyFingerprintLocked()
	return nil
}
