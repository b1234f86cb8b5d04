package httpclient

import (
	"testing"

	"reach/pkg/clienthints"
)

func TestChromeWindowsDesktopHeaders(t *testing.T) {
	p := ChromeWindowsDesktop(124)
	h := p.ExtraHeaders()

	if h["Sec-Ch-Ua-Platform"] != `"Windows"` {
		t.Fatalf("unexpected platform header: %s", h["Sec-Ch-Ua-Platform"])
	}
	if h["Sec-Ch-Ua-Mobile"] != "?0" {
		t.Fatalf("unexpected mobile header: %s", h["Sec-Ch-Ua-Mobile"])
	}
	if p.UserAgent == "" {
		t.Fatal("expected non-empty user agent")
	}
}

func TestExtraHeadersOmitsEmptyFields(t *testing.T) {
	p := Profile{UserAgent: "x"}
	h := p.ExtraHeaders()
	if len(h) != 0 {
		t.Fatalf("expected no extra headers for a bare profile, got %+v", h)
	}
}

func TestRandomProfileReturnsFromPool(t *testing.T) {
	p := RandomProfile()
	found := false
	for _, candidate := range clienthints.AllProfiles() {
		if candidate.Name == p.Name {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("RandomProfile returned profile not in pool: %+v", p)
	}
}
