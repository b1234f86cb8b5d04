package network

import "testing"

func TestFilterURLGlob(t *testing.T) {
	f := NewFilter().WithURLGlob("*api*")
	req := RequestInfo{URL: "https://example.com/api/v1/users"}
	if !f.MatchesRequest(req) {
		t.Fatal("expected glob match")
	}
	req2 := RequestInfo{URL: "https://example.com/static/app.js"}
	if f.MatchesRequest(req2) {
		t.Fatal("expected glob to reject non-matching url")
	}
}

func TestFilterMethodSet(t *testing.T) {
	f := NewFilter().WithMethods("GET", "POST")
	if !f.MatchesRequest(RequestInfo{URL: "https://x.com", Method: "get"}) {
		t.Fatal("expected case-insensitive method match")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://x.com", Method: "DELETE"}) {
		t.Fatal("expected DELETE to be rejected")
	}
}

func TestFilterResourceKindIncludeExclude(t *testing.T) {
	f := NewFilter().WithResourceKinds(ResourceXHR, ResourceFetch)
	if !f.MatchesRequest(RequestInfo{URL: "https://x.com", ResourceKind: ResourceXHR}) {
		t.Fatal("expected XHR to match")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://x.com", ResourceKind: ResourceImage}) {
		t.Fatal("expected Image to be rejected")
	}

	ex := NewFilter().ExcludeResourceKinds(ResourceImage, ResourceMedia)
	if ex.MatchesRequest(RequestInfo{URL: "https://x.com", ResourceKind: ResourceImage}) {
		t.Fatal("expected excluded kind rejected")
	}
	if !ex.MatchesRequest(RequestInfo{URL: "https://x.com", ResourceKind: ResourceScript}) {
		t.Fatal("expected non-excluded kind accepted")
	}
}

func TestFilterStatusRange(t *testing.T) {
	f := NewFilter().WithStatusRange(400, 499)
	if !f.MatchesResponse(ResponseInfo{URL: "https://x.com", Status: 404}) {
		t.Fatal("expected 404 in range")
	}
	if f.MatchesResponse(ResponseInfo{URL: "https://x.com", Status: 200}) {
		t.Fatal("expected 200 rejected")
	}
}

func TestFilterHeaderPresenceAndValue(t *testing.T) {
	p := NewFilter().WithHeaderPresent("X-Trace")
	if !p.MatchesRequest(RequestInfo{URL: "https://x.com", Headers: map[string]string{"x-trace": "1"}}) {
		t.Fatal("expected case-insensitive header presence match")
	}
	if p.MatchesRequest(RequestInfo{URL: "https://x.com"}) {
		t.Fatal("expected request without the header rejected")
	}

	f := NewFilter().WithHeaderValue("X-Auth", "token123")
	ok := f.MatchesRequest(RequestInfo{URL: "https://x.com", Headers: map[string]string{"x-auth": "token123"}})
	if !ok {
		t.Fatal("expected case-insensitive header name match")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://x.com", Headers: map[string]string{"X-Auth": "wrong"}}) {
		t.Fatal("expected mismatched header value rejected")
	}
}

func TestFilterDomainExactAndGlob(t *testing.T) {
	f := NewFilter().WithDomain("example.com")
	if !f.MatchesRequest(RequestInfo{URL: "https://example.com/a"}) {
		t.Fatal("expected exact domain match")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://sub.example.com/a"}) {
		t.Fatal("expected exact domain to reject subdomain")
	}

	g := NewFilter().WithDomainGlob("*.example.com")
	if !g.MatchesRequest(RequestInfo{URL: "https://sub.example.com/a"}) {
		t.Fatal("expected domain glob to match subdomain")
	}
}

func TestErrorAndSuccessFilters(t *testing.T) {
	if !ErrorFilter().MatchesResponse(ResponseInfo{URL: "https://x.com", Status: 503}) {
		t.Fatal("expected 503 to match error filter")
	}
	if ErrorFilter().MatchesResponse(ResponseInfo{URL: "https://x.com", Status: 200}) {
		t.Fatal("expected 200 rejected by error filter")
	}
	if !SuccessFilter().MatchesResponse(ResponseInfo{URL: "https://x.com", Status: 204}) {
		t.Fatal("expected 204 to match success filter")
	}
}

func TestAPIFilterMatchesXHRAndFetchOnly(t *testing.T) {
	f := APIFilter("*example.com*")
	if !f.MatchesRequest(RequestInfo{URL: "https://example.com/api", ResourceKind: ResourceFetch}) {
		t.Fatal("expected fetch under matching url to pass")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://other.com/api", ResourceKind: ResourceFetch}) {
		t.Fatal("expected non-matching url rejected")
	}
	if !f.MatchesRequest(RequestInfo{URL: "https://example.com/api", ResourceKind: ResourceXHR}) {
		t.Fatal("expected XHR under matching url to pass")
	}
	if f.MatchesRequest(RequestInfo{URL: "https://example.com/", ResourceKind: ResourceDocument}) {
		t.Fatal("expected non-API resource kind rejected")
	}
}
