package page

import "testing"

func TestParseSelectorCSSDefault(t *testing.T) {
	loc, err := ParseSelector("#login-button")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if loc.Mode != ModeCSS || loc.Expr != "#login-button" {
		t.Fatalf("got %+v", loc)
	}
	if loc.Index != nil {
		t.Fatalf("expected no index, got %v", *loc.Index)
	}
}

func TestParseSelectorExplicitPrefixes(t *testing.T) {
	cases := []struct {
		sel      string
		mode     Mode
		wantExpr string
	}{
		{"css:.card", ModeCSS, ".card"},
		{"c:.card", ModeCSS, ".card"},
		{"xpath://div[@id='x']", ModeXPath, "//div[@id='x']"},
		{"x://div[@id='x']", ModeXPath, "//div[@id='x']"},
	}
	for _, tc := range cases {
		loc, err := ParseSelector(tc.sel)
		if err != nil {
			t.Fatalf("%s: %v", tc.sel, err)
		}
		if loc.Mode != tc.mode || loc.Expr != tc.wantExpr {
			t.Fatalf("%s: got %+v", tc.sel, loc)
		}
	}
}

func TestParseSelectorRawXPathPassthrough(t *testing.T) {
	for _, sel := range []string{"//div", "/html/body", "(//div)[1]"} {
		loc, err := ParseSelector(sel)
		if err != nil {
			t.Fatalf("%s: %v", sel, err)
		}
		if loc.Mode != ModeXPath || loc.Expr != sel {
			t.Fatalf("%s: got %+v", sel, loc)
		}
	}
}

func TestParseSelectorTextForms(t *testing.T) {
	loc, err := ParseSelector("text:Sign in")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	want := `//*[contains(text(), "Sign in")]`
	if loc.Mode != ModeXPath || loc.Expr != want {
		t.Fatalf("got %+v, want expr %q", loc, want)
	}

	loc, err = ParseSelector("tx:Sign in")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if loc.Mode != ModeXPath || loc.Expr != want {
		t.Fatalf("got %+v, want expr %q", loc, want)
	}

	loc, err = ParseSelector("text=Exact")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	wantEq := `//*[text()="Exact"]`
	if loc.Mode != ModeXPath || loc.Expr != wantEq {
		t.Fatalf("got %+v, want expr %q", loc, wantEq)
	}
}

func TestParseSelectorAttributeShorthand(t *testing.T) {
	loc, err := ParseSelector("@data-testid=submit")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	want := `[data-testid="submit"]`
	if loc.Mode != ModeCSS || loc.Expr != want {
		t.Fatalf("got %+v, want expr %q", loc, want)
	}

	loc, err = ParseSelector("@disabled")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if loc.Mode != ModeCSS || loc.Expr != "[disabled]" {
		t.Fatalf("got %+v", loc)
	}
}

func TestParseSelectorIndexSuffix(t *testing.T) {
	loc, err := ParseSelector(".item@i=2")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if loc.Mode != ModeCSS || loc.Expr != ".item" {
		t.Fatalf("got %+v", loc)
	}
	if loc.Index == nil || *loc.Index != 2 {
		t.Fatalf("expected index 2, got %v", loc.Index)
	}
}

func TestParseSelectorEmptyIsError(t *testing.T) {
	if _, err := ParseSelector(""); err == nil {
		t.Fatal("expected error for empty selector")
	}
}

func TestParseSelectorIndexOnlyIsError(t *testing.T) {
	if _, err := ParseSelector("@i=2"); err == nil {
		t.Fatal("expected error for a selector with no base expression")
	}
}

func TestXpathLiteralHandlesMixedQuotes(t *testing.T) {
	got := xpathLiteral(`it's "quoted"`)
	want := `concat("it's ", '"', "quoted", '"', "")`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
