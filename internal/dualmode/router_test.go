package dualmode

import (
	"context"
	"net/http"
	"testing"

	"reach/internal/cookie"
	"reach/internal/httpclient"
)

// fakeClient is a minimal httpclient.HttpClient returning a fixed document
// for every Send, enough to exercise Router.Query/QueryAll without a real
// network round trip.
type fakeClient struct {
	body []byte
}

func (f *fakeClient) Send(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	return &httpclient.Response{StatusCode: http.StatusOK, URL: req.URL, Body: f.body}, nil
}
func (f *fakeClient) SetFingerprint(httpclient.Profile)                      {}
func (f *fakeClient) SetProxy(string) error                                  { return nil }
func (f *fakeClient) GetCookies(string) (map[string]string, error)           { return nil, nil }
func (f *fakeClient) SetCookies(string, map[string]string) error             { return nil }
func (f *fakeClient) DeleteCookie(string, string) error                      { return nil }
func (f *fakeClient) ClearCookies() error                                    { return nil }

const fakeHTML = `<html><body><div class="card">a</div><div class="card">b</div><p id="only">hi</p></body></html>`

func newTestRouter(t *testing.T, body string) *Router {
	t.Helper()
	r := New(nil, "", &fakeClient{body: []byte(body)}, cookie.New(), Config{})
	r.SetActiveURL("https://example.test/page")
	return r
}

func TestQueryAllCountsCSSMatches(t *testing.T) {
	r := newTestRouter(t, fakeHTML)
	n, err := r.QueryAll(context.Background(), ".card")
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("QueryAll(.card) = %d, want 2", n)
	}
}

func TestQueryAllWithIndexSuffix(t *testing.T) {
	r := newTestRouter(t, fakeHTML)
	n, err := r.QueryAll(context.Background(), ".card@i=5")
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if n != 0 {
		t.Fatalf("QueryAll(.card@i=5) = %d, want 0 (out of range)", n)
	}
}

func TestQueryFindsAndMissesCSS(t *testing.T) {
	r := newTestRouter(t, fakeHTML)

	found, err := r.Query(context.Background(), "#only")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !found {
		t.Fatal("Query(#only) = false, want true")
	}

	found, err = r.Query(context.Background(), "#missing")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if found {
		t.Fatal("Query(#missing) = true, want false")
	}
}

func TestQueryAllRejectsXPath(t *testing.T) {
	r := newTestRouter(t, fakeHTML)
	_, err := r.QueryAll(context.Background(), "//div")
	if err == nil {
		t.Fatal("QueryAll(//div) = nil error, want UnsupportedSelectorMode")
	}
}

func TestQueryAllRequiresActiveURL(t *testing.T) {
	r := New(nil, "", &fakeClient{body: []byte(fakeHTML)}, cookie.New(), Config{})
	if _, err := r.QueryAll(context.Background(), ".card"); err == nil {
		t.Fatal("QueryAll with no active URL = nil error, want error")
	}
}
