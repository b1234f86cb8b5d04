package httpclient

import (
	"testing"
	"time"
)

func testProxies() []*ProxyConfig {
	return []*ProxyConfig{
		{Host: "proxy1.example", Port: 8080},
		{Host: "proxy2.example", Port: 8080},
		{Host: "proxy3.example", Port: 8080},
	}
}

func TestProxyPoolEmptyReturnsNil(t *testing.T) {
	if NewProxyPool(nil, false) != nil {
		t.Fatal("expected nil pool for empty proxy list")
	}
}

func TestProxyPoolRoundRobin(t *testing.T) {
	pool := NewProxyPool(testProxies(), false)

	first := pool.Next()
	second := pool.Next()
	third := pool.Next()
	fourth := pool.Next()

	if first.Key() == second.Key() || second.Key() == third.Key() {
		t.Fatalf("expected distinct rotation, got %s %s %s", first.Key(), second.Key(), third.Key())
	}
	if fourth.Key() != first.Key() {
		t.Fatalf("expected rotation to wrap back to %s, got %s", first.Key(), fourth.Key())
	}
}

func TestProxyPoolMarkFailedSkipsUntilRetry(t *testing.T) {
	proxies := testProxies()
	pool := NewProxyPool(proxies, false)

	bad := pool.Next()
	pool.MarkFailed(bad)

	for i := 0; i < len(proxies)*2; i++ {
		if got := pool.Next(); got.Key() == bad.Key() {
			t.Fatalf("expected %s to be skipped while backed off", bad.Key())
		}
	}
}

func TestProxyPoolMarkSuccessClearsFailure(t *testing.T) {
	proxies := []*ProxyConfig{{Host: "only.example", Port: 8080}}
	pool := NewProxyPool(proxies, false)

	px := pool.Next()
	pool.MarkFailed(px)
	pool.MarkSuccess(px, 10*time.Millisecond)

	metrics := pool.Metrics()[px.Key()]
	if metrics.SuccessRequests != 1 || metrics.FailedRequests != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	if got := pool.Next(); got.Key() != px.Key() {
		t.Fatalf("expected success to clear backoff, got %s", got.Key())
	}
}

func TestProxyPoolBestPrefersUntestedThenHigherSuccessRate(t *testing.T) {
	proxies := []*ProxyConfig{
		{Host: "a.example", Port: 80},
		{Host: "b.example", Port: 80},
	}
	pool := NewProxyPool(proxies, false)

	// Before any metrics, Best should return an untested proxy immediately.
	if pool.Best() == nil {
		t.Fatal("expected an untested proxy to be returned")
	}

	pool.MarkSuccess(proxies[0], 50*time.Millisecond)
	pool.MarkFailed(proxies[0])
	pool.MarkSuccess(proxies[1], 50*time.Millisecond)

	best := pool.Best()
	if best.Key() != proxies[1].Key() {
		t.Fatalf("expected %s to score higher, got %s", proxies[1].Key(), best.Key())
	}
}

func TestProxyConfigURLString(t *testing.T) {
	pc := &ProxyConfig{Host: "proxy.example", Port: 3128, Username: "u", Password: "p"}
	got := pc.URLString()
	want := "http://u:p@proxy.example:3128"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
