package profilestore

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"reach/internal/cookie"
	"reach/internal/corerrors"
)

func TestCreateThenOpen(t *testing.T) {
	base := t.TempDir()
	id := NewID()

	h, err := Create(base, id, "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.Metadata().Name != "work" {
		t.Fatalf("unexpected name: %s", h.Metadata().Name)
	}
	if _, err := os.Stat(h.UserDataDir()); err != nil {
		t.Fatalf("expected user_data dir to exist: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	h2, err := Open(base, id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h2.Release()
	if h2.Metadata().Name != "work" {
		t.Fatalf("unexpected reloaded name: %s", h2.Metadata().Name)
	}
}

func TestOpenMissingProfile(t *testing.T) {
	base := t.TempDir()
	_, err := Open(base, "does-not-exist")
	if !errors.Is(err, corerrors.ErrProfileMissing) {
		t.Fatalf("expected ErrProfileMissing, got %v", err)
	}
}

func TestLockHeldByLiveProcessRejectsSecondOpen(t *testing.T) {
	base := t.TempDir()
	id := NewID()

	h, err := Create(base, id, "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.Release()

	// Overwrite the lock to claim a different, definitely-live pid (the
	// parent process that started this test binary).
	lockData := []byte(`{"pid":` + strconv.Itoa(os.Getppid()) + `,"timestamp":"2024-01-01T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(h.Dir(), ".lock"), lockData, 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	_, err = Open(base, id)
	var locked *corerrors.ProfileLocked
	if !errors.As(err, &locked) {
		t.Fatalf("expected ProfileLocked, got %v", err)
	}
}

func TestStaleLockIsPruned(t *testing.T) {
	base := t.TempDir()
	id := NewID()

	h, err := Create(base, id, "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	// A pid that is very unlikely to be live.
	lockData := []byte(`{"pid":999999,"timestamp":"2024-01-01T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(h.Dir(), ".lock"), lockData, 0o600); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	h2, err := Open(base, id)
	if err != nil {
		t.Fatalf("expected stale lock to be pruned, got: %v", err)
	}
	h2.Release()
}

func TestPreferencesRoundTrip(t *testing.T) {
	base := t.TempDir()
	h, err := Create(base, NewID(), "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.Release()

	prefs := map[string]any{"download_dir": "/tmp/dl"}
	if err := h.WritePreferences(prefs); err != nil {
		t.Fatalf("write prefs: %v", err)
	}
	got, err := h.ReadPreferences()
	if err != nil {
		t.Fatalf("read prefs: %v", err)
	}
	if got["download_dir"] != "/tmp/dl" {
		t.Fatalf("unexpected prefs: %+v", got)
	}
}

func TestCookiesSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	h, err := Create(base, NewID(), "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.Release()

	store := cookie.New()
	store.Set(cookie.Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
	if err := h.SaveCookies(store); err != nil {
		t.Fatalf("save cookies: %v", err)
	}

	store2 := cookie.New()
	if err := h.LoadCookies(store2); err != nil {
		t.Fatalf("load cookies: %v", err)
	}
	r, ok := store2.Get("a", "example.com", "/")
	if !ok || r.Value != "1" {
		t.Fatalf("expected restored cookie, got %+v ok=%v", r, ok)
	}
}
