package dispatcher

import (
	"fmt"
	"regexp"
)

// Regex wraps a caller-supplied regular expression pattern together with
// the names that should be attached, positionally, to its capture
// groups. Keys may be left nil if the route does not need named
// parameters.
type Regex struct {
	Expr *regexp.Regexp
	Keys []string
}

// paramToken matches an optional leading slash, a :name token, and an
// optional modifier (?, +, *).
var paramToken = regexp.MustCompile(`(/?):([A-Za-z_][A-Za-z0-9_]*)([?+*]?)`)

// matcher is the compiled form of a path pattern: a regular expression
// anchored at the start (and, for terminal routes, at the end) plus the
// ordered list of parameter names its capture groups correspond to.
type matcher struct {
	re   *regexp.Regexp
	keys []string
}

// match runs the matcher against path. On a hit it returns the captured
// named parameters (absent entries for unmatched optional keys, never
// empty string), the substring consumed by the overall match (used to
// strip a nested dispatcher's prefix), and true.
func (m *matcher) match(path string) (params map[string]string, consumed string, ok bool) {
	groups := m.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, "", false
	}
	if len(m.keys) == 0 {
		return nil, groups[0], true
	}
	params = make(map[string]string, len(m.keys))
	for i, key := range m.keys {
		// groups[0] is the whole match; capture i is groups[i+1].
		if i+1 >= len(groups) {
			continue
		}
		if v := groups[i+1]; v != "" {
			params[key] = v
		}
		// An empty capture (unmatched optional key) is simply omitted,
		// never stored as "" (spec.md §4.1).
	}
	return params, groups[0], true
}

// compilePattern compiles pattern into a matcher. pattern must be a
// string (literal or parameterized) or a Regex; anything else is a
// registration-time programmer error (spec.md §4.1). terminal controls
// whether the compiled regex is end-anchored: terminal routes must
// match the whole path, non-terminal (nested dispatcher) routes match
// only a prefix.
func compilePattern(pattern any, terminal bool) (*matcher, error) {
	switch p := pattern.(type) {
	case string:
		return compileStringPattern(p, terminal)
	case Regex:
		return compileRegex(p, terminal)
	case *regexp.Regexp:
		return compileRegex(Regex{Expr: p}, terminal)
	default:
		return nil, fmt.Errorf("dispatcher: pattern must be a string or regular expression, got %T", pattern)
	}
}

func compileRegex(r Regex, terminal bool) (*matcher, error) {
	if r.Expr == nil {
		return nil, fmt.Errorf("dispatcher: regex pattern has a nil expression")
	}
	src := r.Expr.String()
	anchored, err := anchorRegexSource(src, terminal)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: invalid regex pattern %q: %w", src, err)
	}
	return &matcher{re: re, keys: r.Keys}, nil
}

// anchorRegexSource ensures src is start-anchored, and end-anchored iff
// terminal, without double-anchoring if the caller already did so.
func anchorRegexSource(src string, terminal bool) (string, error) {
	out := src
	if len(out) == 0 || out[0] != '^' {
		out = "^" + out
	}
	if terminal {
		if len(out) == 0 || out[len(out)-1] != '$' {
			out = out + "$"
		}
	}
	return out, nil
}

// compileStringPattern turns a literal or parameterized path string
// into a matcher (spec.md §4.1). Literal segments are quoted verbatim;
// ":name" tokens become capture groups; ":name?" is an optional
// segment (including its leading slash); ":name+" captures one or more
// trailing segments; ":name*" captures zero or more.
func compileStringPattern(pattern string, terminal bool) (*matcher, error) {
	var out []byte
	out = append(out, '^')
	var keys []string

	matches := paramToken.FindAllStringSubmatchIndex(pattern, -1)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		out = append(out, regexp.QuoteMeta(pattern[last:start])...)

		slash := pattern[m[2]:m[3]]
		name := pattern[m[4]:m[5]]
		modifier := pattern[m[6]:m[7]]
		keys = append(keys, name)

		quotedSlash := regexp.QuoteMeta(slash)
		switch modifier {
		case "":
			out = append(out, quotedSlash...)
			out = append(out, "([^/]+)"...)
		case "?":
			out = append(out, "(?:"...)
			out = append(out, quotedSlash...)
			out = append(out, "([^/]+))?"...)
		case "+":
			out = append(out, "((?:"...)
			out = append(out, quotedSlash...)
			out = append(out, "[^/]+)+)"...)
		case "*":
			out = append(out, "((?:"...)
			out = append(out, quotedSlash...)
			out = append(out, "[^/]+)*)"...)
		default:
			return nil, fmt.Errorf("dispatcher: unknown parameter modifier %q in pattern %q", modifier, pattern)
		}
		last = end
	}
	out = append(out, regexp.QuoteMeta(pattern[last:])...)
	if terminal {
		out = append(out, '$')
	}

	re, err := regexp.Compile(string(out))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: invalid pattern %q: %w", pattern, err)
	}
	return &matcher{re: re, keys: keys}, nil
}
