package network

import (
	"net/url"
	"regexp"
	"strings"
)

// MatchGlob exports globMatch for callers outside this package that need
// the same full-URL glob semantics (e.g. page.Route's pattern matching).
func MatchGlob(pattern, s string) bool { return globMatch(pattern, s) }

// globMatch matches a shell-style glob ('*' any run, '?' one rune) against
// s. Unlike path.Match, '*' also matches '/', since patterns here run
// against full URLs rather than filesystem paths.
func globMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// ResourceKind mirrors the CDP Network.ResourceType enumeration the core
// surfaces to callers (spec.md §3's NetworkEntry.request.resource-kind).
type ResourceKind string

const (
	ResourceDocument   ResourceKind = "Document"
	ResourceStylesheet ResourceKind = "Stylesheet"
	ResourceImage      ResourceKind = "Image"
	ResourceMedia      ResourceKind = "Media"
	ResourceFont       ResourceKind = "Font"
	ResourceScript     ResourceKind = "Script"
	ResourceXHR        ResourceKind = "XHR"
	ResourceFetch      ResourceKind = "Fetch"
	ResourceWebSocket  ResourceKind = "WebSocket"
	ResourceOther      ResourceKind = "Other"
)

// Filter is a two-stage predicate over NetworkEntry request/response data,
// per spec.md §4.4's filter semantics table: request-stage criteria are
// evaluated when the request is first seen, response-stage criteria when
// the status line arrives.
type Filter struct {
	urlExact    string
	urlGlob     string
	urlRegex    *regexp.Regexp
	urlContains string
	urlPrefix   string
	urlSuffix   string

	domain     string
	domainGlob string

	methods []string

	resourceKinds        []ResourceKind
	excludeResourceKinds []ResourceKind

	hasHeader    string
	headerValue  [2]string
	headerIsSet  bool

	status      *int
	statusMin   *int
	statusMax   *int

	contentType string

	fromCache *bool
	fromSW    *bool
}

// NewFilter constructs an empty Filter; with no criteria set, it matches
// everything.
func NewFilter() *Filter {
	return &Filter{}
}

// WithURL requires an exact URL match.
func (f *Filter) WithURL(u string) *Filter { f.urlExact = u; return f }

// WithURLGlob requires url to match a shell glob pattern (e.g. "*api*").
func (f *Filter) WithURLGlob(pattern string) *Filter { f.urlGlob = pattern; return f }

// WithURLRegex requires url to match expr. Panics on an invalid pattern.
func (f *Filter) WithURLRegex(expr string) *Filter {
	f.urlRegex = regexp.MustCompile(expr)
	return f
}

// WithURLContains requires url to contain substr.
func (f *Filter) WithURLContains(substr string) *Filter { f.urlContains = substr; return f }

// WithURLPrefix requires url to start with prefix.
func (f *Filter) WithURLPrefix(prefix string) *Filter { f.urlPrefix = prefix; return f }

// WithURLSuffix requires url to end with suffix.
func (f *Filter) WithURLSuffix(suffix string) *Filter { f.urlSuffix = suffix; return f }

// WithDomain requires an exact host match.
func (f *Filter) WithDomain(domain string) *Filter { f.domain = domain; return f }

// WithDomainGlob requires the host to match a shell glob pattern.
func (f *Filter) WithDomainGlob(pattern string) *Filter { f.domainGlob = pattern; return f }

// WithMethods requires the request method to be one of methods.
func (f *Filter) WithMethods(methods ...string) *Filter {
	for _, m := range methods {
		f.methods = append(f.methods, strings.ToUpper(m))
	}
	return f
}

// WithResourceKinds requires the resource kind to be one of kinds.
func (f *Filter) WithResourceKinds(kinds ...ResourceKind) *Filter {
	f.resourceKinds = append(f.resourceKinds, kinds...)
	return f
}

// ExcludeResourceKinds rejects entries whose resource kind is one of kinds.
func (f *Filter) ExcludeResourceKinds(kinds ...ResourceKind) *Filter {
	f.excludeResourceKinds = append(f.excludeResourceKinds, kinds...)
	return f
}

// WithHeaderPresent requires the request to carry header name.
func (f *Filter) WithHeaderPresent(name string) *Filter { f.hasHeader = name; return f }

// WithHeaderValue requires header name to equal value.
func (f *Filter) WithHeaderValue(name, value string) *Filter {
	f.headerValue = [2]string{name, value}
	f.headerIsSet = true
	return f
}

// WithStatus requires an exact response status code.
func (f *Filter) WithStatus(code int) *Filter { f.status = &code; return f }

// WithStatusRange requires the response status to fall in [min, max].
func (f *Filter) WithStatusRange(min, max int) *Filter {
	f.statusMin = &min
	f.statusMax = &max
	return f
}

// WithContentType requires the response content-type to contain substr.
func (f *Filter) WithContentType(substr string) *Filter { f.contentType = substr; return f }

// WithFromCache requires from-cache to equal want.
func (f *Filter) WithFromCache(want bool) *Filter { f.fromCache = &want; return f }

// WithFromServiceWorker requires from-service-worker to equal want.
func (f *Filter) WithFromServiceWorker(want bool) *Filter { f.fromSW = &want; return f }

// MatchesRequest evaluates the request-stage criteria against a request
// already seen by the observer. Response-stage-only criteria are ignored.
func (f *Filter) MatchesRequest(req RequestInfo) bool {
	if !f.matchesURL(req.URL) {
		return false
	}
	if !f.matchesDomain(req.URL) {
		return false
	}
	if len(f.methods) > 0 && !containsUpper(f.methods, req.Method) {
		return false
	}
	if len(f.resourceKinds) > 0 && !containsKind(f.resourceKinds, req.ResourceKind) {
		return false
	}
	if len(f.excludeResourceKinds) > 0 && containsKind(f.excludeResourceKinds, req.ResourceKind) {
		return false
	}
	if f.hasHeader != "" {
		if _, ok := lookupHeader(req.Headers, f.hasHeader); !ok {
			return false
		}
	}
	if f.headerIsSet {
		v, ok := lookupHeader(req.Headers, f.headerValue[0])
		if !ok || v != f.headerValue[1] {
			return false
		}
	}
	return true
}

// MatchesResponse evaluates the full criteria set (URL/domain/headers plus
// response-only fields) against a completed response.
func (f *Filter) MatchesResponse(resp ResponseInfo) bool {
	if !f.matchesURL(resp.URL) {
		return false
	}
	if !f.matchesDomain(resp.URL) {
		return false
	}
	if f.headerIsSet {
		v, ok := lookupHeader(resp.Headers, f.headerValue[0])
		if !ok || v != f.headerValue[1] {
			return false
		}
	}
	if f.hasHeader != "" {
		if _, ok := lookupHeader(resp.Headers, f.hasHeader); !ok {
			return false
		}
	}
	if f.status != nil && resp.Status != *f.status {
		return false
	}
	if f.statusMin != nil && (resp.Status < *f.statusMin || resp.Status > *f.statusMax) {
		return false
	}
	if f.contentType != "" && !strings.Contains(resp.MimeType, f.contentType) {
		return false
	}
	if f.fromCache != nil && resp.FromCache != *f.fromCache {
		return false
	}
	if f.fromSW != nil && resp.FromServiceWorker != *f.fromSW {
		return false
	}
	return true
}

func (f *Filter) matchesURL(u string) bool {
	if f.urlExact != "" && u != f.urlExact {
		return false
	}
	if f.urlGlob != "" && !globMatch(f.urlGlob, u) {
		return false
	}
	if f.urlRegex != nil && !f.urlRegex.MatchString(u) {
		return false
	}
	if f.urlContains != "" && !strings.Contains(u, f.urlContains) {
		return false
	}
	if f.urlPrefix != "" && !strings.HasPrefix(u, f.urlPrefix) {
		return false
	}
	if f.urlSuffix != "" && !strings.HasSuffix(u, f.urlSuffix) {
		return false
	}
	return true
}

func (f *Filter) matchesDomain(rawURL string) bool {
	if f.domain == "" && f.domainGlob == "" {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Host
	if f.domain != "" && host != f.domain {
		return false
	}
	if f.domainGlob != "" && !globMatch(f.domainGlob, host) {
		return false
	}
	return true
}

func containsUpper(set []string, v string) bool {
	v = strings.ToUpper(v)
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsKind(set []ResourceKind, v ResourceKind) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Convenience constructors mirroring common filter shapes.

// APIFilter matches XHR and Fetch requests, optionally under urlGlob.
func APIFilter(urlGlob string) *Filter {
	f := NewFilter().WithResourceKinds(ResourceXHR, ResourceFetch)
	if urlGlob != "" {
		f.WithURLGlob(urlGlob)
	}
	return f
}

// DocumentFilter matches top-level document requests.
func DocumentFilter() *Filter {
	return NewFilter().WithResourceKinds(ResourceDocument)
}

// ErrorFilter matches 4xx and 5xx responses.
func ErrorFilter() *Filter {
	return NewFilter().WithStatusRange(400, 599)
}

// SuccessFilter matches 2xx responses.
func SuccessFilter() *Filter {
	return NewFilter().WithStatusRange(200, 299)
}
