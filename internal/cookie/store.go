// Package cookie implements the CookieStore of spec.md §4.5: an
// authoritative, domain-aware cookie model with RFC 6265-style matching
// rules, shared by BrowserHandle, HttpClient, and DualModeRouter.
package cookie

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// SameSite mirrors spec.md §3's same_site enumeration.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Record is the normalized CookieRecord of spec.md §3, keyed uniquely by
// (Domain, Path, Name).
type Record struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  *time.Time // nil means session cookie, never expires on its own
	HTTPOnly bool
	Secure   bool
	SameSite SameSite
	Priority string
}

type key struct {
	domain string
	path   string
	name   string
}

func recordKey(domain, path, name string) key {
	return key{domain: normalizeDomain(domain), path: normalizePath(path), name: name}
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimPrefix(d, "."))
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// Store is the CookieStore: the single authoritative cookie jar for a
// browser context or http-mode session.
type Store struct {
	mu      sync.RWMutex
	records map[key]*Record
	now     func() time.Time // overridable for tests
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		records: make(map[key]*Record),
		now:     time.Now,
	}
}

func (s *Store) expired(r *Record, at time.Time) bool {
	return r.Expires != nil && !r.Expires.After(at)
}

// pruneLocked removes every expired record. Caller must hold s.mu for writing.
func (s *Store) pruneLocked() {
	at := s.now()
	for k, r := range s.records {
		if s.expired(r, at) {
			delete(s.records, k)
		}
	}
}

// Set inserts or replaces a record by (domain, path, name). An
// already-expired record is discarded immediately rather than stored.
func (s *Store) Set(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	k := recordKey(rec.Domain, rec.Path, rec.Name)
	rec.Domain = k.domain
	rec.Path = k.path
	if s.expired(&rec, s.now()) {
		delete(s.records, k)
		return
	}
	cp := rec
	s.records[k] = &cp
}

// Delete removes one record by (name, domain, path).
func (s *Store) Delete(name, domain, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(domain, path, name))
}

// Get returns the exact record for (name, domain, path) if present and
// unexpired; pruning happens on every call.
func (s *Store) Get(name, domain, path string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	r, ok := s.records[recordKey(domain, path, name)]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// GetForURL returns every cookie applicable to rawURL per spec.md §4.5's
// matching rule: domain matches host (exact or dot-suffix), path is a
// prefix of the request path, and secure cookies only match https.
func (s *Store) GetForURL(rawURL string) ([]Record, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	reqPath := u.EscapedPath()
	if reqPath == "" {
		reqPath = "/"
	}
	isSecureScheme := u.Scheme == "https" || u.Scheme == "wss"

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	var out []Record
	for _, r := range s.records {
		if !domainMatches(r.Domain, host) {
			continue
		}
		if !pathIsPrefix(r.Path, reqPath) {
			continue
		}
		if r.Secure && !isSecureScheme {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == host {
		return true
	}
	return strings.HasSuffix(host, "."+cookieDomain)
}

func pathIsPrefix(cookiePath, reqPath string) bool {
	if cookiePath == "/" {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	if len(reqPath) == len(cookiePath) {
		return true
	}
	return reqPath[len(cookiePath)] == '/'
}

// GetForDomain returns every unexpired record for domain, pruning first.
func (s *Store) GetForDomain(domain string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	d := normalizeDomain(domain)
	var out []Record
	for _, r := range s.records {
		if r.Domain == d {
			out = append(out, *r)
		}
	}
	return out
}

// GetAll returns every unexpired record, pruning first.
func (s *Store) GetAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}

// Clear removes every record. If domain is non-empty, only that domain's
// records are removed.
func (s *Store) Clear(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain == "" {
		s.records = make(map[key]*Record)
		return
	}
	d := normalizeDomain(domain)
	for k := range s.records {
		if k.domain == d {
			delete(s.records, k)
		}
	}
}

// UpdateFromList bulk-upserts records, e.g. from a CDP Network.getAllCookies
// response or a persisted profile.
func (s *Store) UpdateFromList(recs []Record) {
	for _, r := range recs {
		s.Set(r)
	}
}
