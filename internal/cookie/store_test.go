package cookie

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})

	r, ok := s.Get("a", "example.com", "/")
	if !ok {
		t.Fatal("expected record present")
	}
	if r.Value != "1" {
		t.Fatalf("unexpected value: %s", r.Value)
	}
}

func TestSetReplacesByKey(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
	s.Set(Record{Name: "a", Value: "2", Domain: "example.com", Path: "/"})

	r, ok := s.Get("a", "example.com", "/")
	if !ok || r.Value != "2" {
		t.Fatalf("expected replaced value 2, got %+v ok=%v", r, ok)
	}
	if len(s.GetAll()) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(s.GetAll()))
	}
}

func TestExpiredRecordNeverServes(t *testing.T) {
	s := New()
	past := time.Unix(0, 0)
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: &past})

	if _, ok := s.Get("a", "example.com", "/"); ok {
		t.Fatal("expected expired record to not be served")
	}
	if len(s.GetAll()) != 0 {
		t.Fatal("expected expired record to be pruned")
	}
}

func TestDomainMatchingHostAndSuffix(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})

	recs, err := s.GetForURL("https://example.com/")
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected exact host match, got %v err=%v", recs, err)
	}

	recs, err = s.GetForURL("https://sub.example.com/")
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected dot-suffix match, got %v err=%v", recs, err)
	}

	recs, err = s.GetForURL("https://notexample.com/")
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected no match for unrelated host, got %v", recs)
	}
}

func TestPathPrefixMatching(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/app"})

	recs, _ := s.GetForURL("https://example.com/app/page")
	if len(recs) != 1 {
		t.Fatalf("expected match for /app/page, got %v", recs)
	}

	recs, _ = s.GetForURL("https://example.com/application")
	if len(recs) != 0 {
		t.Fatalf("expected no match for /application (not a path-segment prefix), got %v", recs)
	}

	recs, _ = s.GetForURL("https://example.com/other")
	if len(recs) != 0 {
		t.Fatalf("expected no match for unrelated path, got %v", recs)
	}
}

func TestSecureOnlyOnHTTPS(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/", Secure: true})

	recs, _ := s.GetForURL("http://example.com/")
	if len(recs) != 0 {
		t.Fatalf("expected secure cookie withheld from http, got %v", recs)
	}

	recs, _ = s.GetForURL("https://example.com/")
	if len(recs) != 1 {
		t.Fatalf("expected secure cookie served over https, got %v", recs)
	}
}

func TestDeleteRemovesOne(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
	s.Set(Record{Name: "b", Value: "2", Domain: "example.com", Path: "/"})

	s.Delete("a", "example.com", "/")

	if _, ok := s.Get("a", "example.com", "/"); ok {
		t.Fatal("expected a to be deleted")
	}
	if _, ok := s.Get("b", "example.com", "/"); !ok {
		t.Fatal("expected b to remain")
	}
}

func TestClearByDomainAndAll(t *testing.T) {
	s := New()
	s.Set(Record{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
	s.Set(Record{Name: "b", Value: "2", Domain: "other.com", Path: "/"})

	s.Clear("example.com")
	if len(s.GetForDomain("example.com")) != 0 {
		t.Fatal("expected example.com cleared")
	}
	if len(s.GetForDomain("other.com")) != 1 {
		t.Fatal("expected other.com untouched")
	}

	s.Clear("")
	if len(s.GetAll()) != 0 {
		t.Fatal("expected full clear to remove everything")
	}
}

func TestUpdateFromListBulkUpsert(t *testing.T) {
	s := New()
	s.UpdateFromList([]Record{
		{Name: "a", Value: "1", Domain: "example.com", Path: "/"},
		{Name: "b", Value: "2", Domain: "example.com", Path: "/"},
	})
	if len(s.GetAll()) != 2 {
		t.Fatalf("expected 2 records, got %d", len(s.GetAll()))
	}
}
