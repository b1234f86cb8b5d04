package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Test"); got != "1" {
			t.Errorf("expected forwarded header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})

	resp, err := c.Send(context.Background(), Request{
		Method:  "GET",
		URL:     srv.URL,
		Headers: map[string]string{"X-Test": "1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
}

func TestSendAppliesFingerprintUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})
	c.SetFingerprint(ChromeWindowsDesktop(124))

	if _, err := c.Send(context.Background(), Request{Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotUA == "" {
		t.Fatal("expected a non-empty forwarded user agent")
	}
}

func TestSendRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	c := New(Options{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, Request{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestCookiesSetGetDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})

	if err := c.SetCookies(srv.URL, map[string]string{"session": "abc"}); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	got, err := c.GetCookies(srv.URL)
	if err != nil {
		t.Fatalf("get cookies: %v", err)
	}
	if got["session"] != "abc" {
		t.Fatalf("expected session cookie, got %+v", got)
	}

	if err := c.DeleteCookie(srv.URL, "session"); err != nil {
		t.Fatalf("delete cookie: %v", err)
	}
	got, err = c.GetCookies(srv.URL)
	if err != nil {
		t.Fatalf("get cookies after delete: %v", err)
	}
	if _, exists := got["session"]; exists {
		t.Fatalf("expected session cookie to be gone, got %+v", got)
	}
}

func TestClearCookiesDropsJar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})
	if err := c.SetCookies(srv.URL, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if err := c.ClearCookies(); err != nil {
		t.Fatalf("clear cookies: %v", err)
	}
	got, err := c.GetCookies(srv.URL)
	if err != nil {
		t.Fatalf("get cookies: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty jar after clear, got %+v", got)
	}
}

func TestSetProxyEmptyStringClears(t *testing.T) {
	c := New(Options{Timeout: 5 * time.Second})
	if err := c.SetProxy(""); err != nil {
		t.Fatalf("clearing proxy should not error: %v", err)
	}
}
