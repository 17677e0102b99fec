package dispatcher

import (
	"regexp"
	"testing"
)

func TestCompileStringPattern_Literal(t *testing.T) {
	m, err := compilePattern("/status", true)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	params, _, ok := m.match("/status")
	if !ok {
		t.Fatal("expected /status to match")
	}
	if len(params) != 0 {
		t.Fatalf("params = %v, want none", params)
	}
	if _, _, ok := m.match("/status/extra"); ok {
		t.Fatal("terminal route must not match a longer path")
	}
}

func TestCompileStringPattern_Param(t *testing.T) {
	m, err := compilePattern("/echo/:v", true)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	params, _, ok := m.match("/echo/hello")
	if !ok {
		t.Fatal("expected match")
	}
	if params["v"] != "hello" {
		t.Fatalf("params[v] = %q, want hello", params["v"])
	}
}

func TestCompileStringPattern_TwoParams(t *testing.T) {
	m, err := compilePattern("/:a/:b", true)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	params, _, ok := m.match("/x/y")
	if !ok {
		t.Fatal("expected match")
	}
	if params["a"] != "x" || params["b"] != "y" {
		t.Fatalf("params = %v, want a=x b=y", params)
	}
}

func TestCompileStringPattern_OptionalParam(t *testing.T) {
	m, err := compilePattern("/list/:id?", true)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	if params, _, ok := m.match("/list"); !ok {
		t.Fatal("expected /list to match with absent optional param")
	} else if _, present := params["id"]; present {
		t.Fatalf("params = %v, want id absent", params)
	}
	if params, _, ok := m.match("/list/42"); !ok {
		t.Fatal("expected /list/42 to match")
	} else if params["id"] != "42" {
		t.Fatalf("params[id] = %q, want 42", params["id"])
	}
}

func TestCompilePattern_NonTerminalMatchesPrefixOnly(t *testing.T) {
	m, err := compilePattern("/svc", false)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	_, consumed, ok := m.match("/svc/time")
	if !ok {
		t.Fatal("expected non-terminal route to match a longer path")
	}
	if consumed != "/svc" {
		t.Fatalf("consumed = %q, want /svc", consumed)
	}
}

func TestCompilePattern_Regex(t *testing.T) {
	re := regexp.MustCompile(`/widgets/(\d+)`)
	m, err := compilePattern(Regex{Expr: re, Keys: []string{"id"}}, true)
	if err != nil {
		t.Fatalf("compilePattern: %v", err)
	}
	params, _, ok := m.match("/widgets/42")
	if !ok {
		t.Fatal("expected match")
	}
	if params["id"] != "42" {
		t.Fatalf("params[id] = %q, want 42", params["id"])
	}
}

func TestCompilePattern_InvalidType(t *testing.T) {
	if _, err := compilePattern(42, true); err == nil {
		t.Fatal("expected an error for a non-string, non-regex pattern")
	}
}
