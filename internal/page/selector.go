package page

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Mode is the query language a parsed Locator should be evaluated with.
type Mode int

const (
	ModeCSS Mode = iota
	ModeXPath
)

// Locator is a parsed selector string: the query expression to run, in
// which language, and an optional 0-based index narrowing a multi-match
// result down to one element (the "@i=N" suffix).
type Locator struct {
	Mode  Mode
	Expr  string
	Index *int
}

var indexSuffix = regexp.MustCompile(`@i=(\d+)$`)

// ParseSelector implements the DrissionPage-style prefix grammar of
// spec.md §6: explicit css:/xpath: prefixes, raw XPath passthrough,
// text:/text= convenience forms, @attr shorthand, and a bare CSS
// fallback for everything else (ids, classes, tags, combinators).
func ParseSelector(sel string) (Locator, error) {
	if sel == "" {
		return Locator{}, fmt.Errorf("page: empty selector")
	}

	base := sel
	var idx *int
	if m := indexSuffix.FindStringSubmatchIndex(sel); m != nil {
		n, err := strconv.Atoi(sel[m[2]:m[3]])
		if err != nil {
			return Locator{}, fmt.Errorf("page: invalid index suffix in %q: %w", sel, err)
		}
		idx = &n
		base = sel[:m[0]]
		if base == "" {
			return Locator{}, fmt.Errorf("page: selector %q has no base expression before @i=", sel)
		}
	}

	loc, err := parseBase(base)
	if err != nil {
		return Locator{}, err
	}
	loc.Index = idx
	return loc, nil
}

func parseBase(s string) (Locator, error) {
	switch {
	case strings.HasPrefix(s, "css:"):
		return Locator{Mode: ModeCSS, Expr: s[len("css:"):]}, nil
	case strings.HasPrefix(s, "c:"):
		return Locator{Mode: ModeCSS, Expr: s[len("c:"):]}, nil
	case strings.HasPrefix(s, "xpath:"):
		return Locator{Mode: ModeXPath, Expr: s[len("xpath:"):]}, nil
	case strings.HasPrefix(s, "x:"):
		return Locator{Mode: ModeXPath, Expr: s[len("x:"):]}, nil

	case strings.HasPrefix(s, "//"), strings.HasPrefix(s, "/"), strings.HasPrefix(s, "("):
		return Locator{Mode: ModeXPath, Expr: s}, nil

	case strings.HasPrefix(s, "text:"):
		return Locator{Mode: ModeXPath, Expr: xpathContainsText(s[len("text:"):])}, nil
	case strings.HasPrefix(s, "tx:"):
		return Locator{Mode: ModeXPath, Expr: xpathContainsText(s[len("tx:"):])}, nil
	case strings.HasPrefix(s, "text="):
		return Locator{Mode: ModeXPath, Expr: xpathEqualsText(s[len("text="):])}, nil

	case strings.HasPrefix(s, "@"):
		return Locator{Mode: ModeCSS, Expr: attributeSelector(s[1:])}, nil

	default:
		// "#x", ".x", a bare tag name, or any other combinator chain are
		// all valid CSS as-is.
		return Locator{Mode: ModeCSS, Expr: s}, nil
	}
}

func attributeSelector(attr string) string {
	if eq := strings.Index(attr, "="); eq >= 0 {
		name, value := attr[:eq], attr[eq+1:]
		return fmt.Sprintf("[%s=%s]", name, strconv.Quote(value))
	}
	return fmt.Sprintf("[%s]", attr)
}

// xpathLiteral escapes s for use inside an XPath string literal, handling
// the case where s itself contains a double quote (XPath has no escape
// character, so a literal with both quote kinds needs concat()).
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return strconv.Quote(s)
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, strconv.Quote(p))
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func xpathContainsText(text string) string {
	return fmt.Sprintf("//*[contains(text(), %s)]", xpathLiteral(text))
}

func xpathEqualsText(text string) string {
	return fmt.Sprintf("//*[text()=%s]", xpathLiteral(text))
}
