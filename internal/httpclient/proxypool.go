package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ProxyConfig is one upstream proxy entry.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Protocol string
}

// Key is the proxy's unique identity within a pool.
func (pc *ProxyConfig) Key() string {
	return fmt.Sprintf("%s:%d", pc.Host, pc.Port)
}

// URL renders the proxy as a *url.URL suitable for http.Transport.Proxy
// or colly.Collector.SetProxy.
func (pc *ProxyConfig) URL() *url.URL {
	var userInfo *url.Userinfo
	if pc.Username != "" || pc.Password != "" {
		userInfo = url.UserPassword(pc.Username, pc.Password)
	}
	protocol := pc.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return &url.URL{Scheme: protocol, Host: fmt.Sprintf("%s:%d", pc.Host, pc.Port), User: userInfo}
}

// URLString is URL().String().
func (pc *ProxyConfig) URLString() string { return pc.URL().String() }

type failureInfo struct {
	failCount   int
	lastFailure time.Time
	nextRetry   time.Time
}

// ProxyMetrics tracks one proxy's request outcomes.
type ProxyMetrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	AvgResponseTime time.Duration
	LastUsed        time.Time
}

// ProxyPool is a round-robin proxy rotator with exponential backoff on
// failure and an optional background health check, adapted from the
// teacher's proxy pool into set_proxy's rotation source.
type ProxyPool struct {
	mu             sync.RWMutex
	proxies        []*ProxyConfig
	current        int
	healthCheck    bool
	healthInterval time.Duration
	failed         map[string]*failureInfo
	metrics        map[string]*ProxyMetrics
}

// NewProxyPool builds a pool from proxies. Returns nil for an empty list,
// signaling "no pool configured" to callers.
func NewProxyPool(proxies []*ProxyConfig, healthCheck bool) *ProxyPool {
	if len(proxies) == 0 {
		return nil
	}
	p := &ProxyPool{
		proxies:        proxies,
		healthCheck:    healthCheck,
		healthInterval: 5 * time.Minute,
		failed:         make(map[string]*failureInfo),
		metrics:        make(map[string]*ProxyMetrics),
	}
	for _, px := range proxies {
		p.metrics[px.Key()] = &ProxyMetrics{}
	}
	return p
}

// Next returns the next proxy in rotation, skipping entries still inside
// their backoff window. When every proxy is backed off it returns the first
// one.
func (p *ProxyPool) Next() *ProxyConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}
	for attempts := 0; attempts < len(p.proxies); attempts++ {
		px := p.proxies[p.current]
		p.current = (p.current + 1) % len(p.proxies)

		if f, exists := p.failed[px.Key()]; exists {
			if time.Now().Before(f.nextRetry) {
				continue
			}
			delete(p.failed, px.Key())
		}
		return px
	}
	return p.proxies[0]
}

// MarkSuccess records a successful request through proxy.
func (p *ProxyPool) MarkSuccess(proxy *ProxyConfig, responseTime time.Duration) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := proxy.Key()
	m := p.metrics[key]
	if m == nil {
		m = &ProxyMetrics{}
		p.metrics[key] = m
	}
	m.TotalRequests++
	m.SuccessRequests++
	m.LastUsed = time.Now()
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = responseTime
	} else {
		const alpha = 0.3
		m.AvgResponseTime = time.Duration(float64(m.AvgResponseTime)*(1-alpha) + float64(responseTime)*alpha)
	}
	delete(p.failed, key)
}

// MarkFailed records a failed request through proxy, applying capped
// exponential backoff before it's retried.
func (p *ProxyPool) MarkFailed(proxy *ProxyConfig) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := proxy.Key()
	if m := p.metrics[key]; m != nil {
		m.TotalRequests++
		m.FailedRequests++
	}

	f, exists := p.failed[key]
	if !exists {
		p.failed[key] = &failureInfo{failCount: 1, lastFailure: time.Now(), nextRetry: time.Now().Add(time.Minute)}
		return
	}
	f.failCount++
	f.lastFailure = time.Now()
	exp := f.failCount - 1
	if exp > 6 {
		exp = 6
	}
	f.nextRetry = time.Now().Add(time.Minute * time.Duration(1<<exp))
}

// StartHealthCheck runs periodic liveness probes until ctx is canceled.
func (p *ProxyPool) StartHealthCheck(ctx context.Context) {
	if !p.healthCheck {
		return
	}
	ticker := time.NewTicker(p.healthInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runHealthChecks()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *ProxyPool) runHealthChecks() {
	p.mu.RLock()
	proxies := make([]*ProxyConfig, len(p.proxies))
	copy(proxies, p.proxies)
	p.mu.RUnlock()

	for _, px := range proxies {
		if checkProxyHealth(px) {
			p.MarkSuccess(px, 0)
		} else {
			p.MarkFailed(px)
		}
	}
}

func checkProxyHealth(proxy *ProxyConfig) bool {
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxy.URL())},
	}
	resp, err := client.Get("https://www.google.com/robots.txt")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Metrics returns a snapshot of every tracked proxy's metrics.
func (p *ProxyPool) Metrics() map[string]ProxyMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ProxyMetrics, len(p.metrics))
	for k, v := range p.metrics {
		out[k] = *v
	}
	return out
}

// Best returns the proxy with the best success-rate × speed score among
// those not currently backed off.
func (p *ProxyPool) Best() *ProxyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.proxies) == 0 {
		return nil
	}
	var best *ProxyConfig
	bestScore := -1.0
	for _, px := range p.proxies {
		key := px.Key()
		if _, failed := p.failed[key]; failed {
			continue
		}
		m := p.metrics[key]
		if m == nil || m.TotalRequests == 0 {
			return px
		}
		successRate := float64(m.SuccessRequests) / float64(m.TotalRequests)
		speed := 1.0
		if m.AvgResponseTime.Milliseconds() > 0 {
			speed = 1000.0 / float64(m.AvgResponseTime.Milliseconds())
		}
		score := successRate * speed
		if score > bestScore {
			bestScore = score
			best = px
		}
	}
	if best == nil {
		return p.proxies[0]
	}
	return best
}

// UseNextProxy rotates the pool and installs the chosen proxy on the
// client, implementing set_proxy's "pick from a rotation" mode.
func (c *Client) UseNextProxy(pool *ProxyPool) error {
	px := pool.Next()
	if px == nil {
		return fmt.Errorf("httpclient: proxy pool empty")
	}
	return c.SetProxy(px.URLString())
}
