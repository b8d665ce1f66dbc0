package main

import (
	"strings"
	"testing"
)

func TestRenderEmbedsCompactSpec(t *testing.T) {
	html, err := render([]byte("{\n  \"swagger\": \"2.0\",\n  \"info\": {\"title\": \"roomd API\"}\n}"), "roomd <API>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	page := string(html)
	if !strings.Contains(page, `spec: {"swagger":"2.0","info":{"title":"roomd API"}}`) {
		t.Fatalf("compact spec missing from page:\n%s", page)
	}
	if !strings.Contains(page, "<title>roomd &lt;API&gt;</title>") {
		t.Fatalf("title not escaped:\n%s", page)
	}
}

func TestRenderRejectsInvalidJSON(t *testing.T) {
	if _, err := render([]byte("{"), "x"); err == nil {
		t.Fatal("expected compact error")
	}
}
