package nl2sql

import (
	"strings"
	"testing"
)

func TestExtractJSONDirect(t *testing.T) {
	var parsed struct {
		Name string `json:"name"`
	}
	if err := extractJSON(`{"name": "alpha"}`, &parsed); err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if parsed.Name != "alpha" {
		t.Fatalf("expected alpha, got %q", parsed.Name)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	response := "```json\n{\"name\": \"beta\"}\n```"
	var parsed struct {
		Name string `json:"name"`
	}
	if err := extractJSON(response, &parsed); err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if parsed.Name != "beta" {
		t.Fatalf("expected beta, got %q", parsed.Name)
	}
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	response := "Sure, here is the result:\n{\"name\": \"gamma\"}\nLet me know if you need more."
	var parsed struct {
		Name string `json:"name"`
	}
	if err := extractJSON(response, &parsed); err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if parsed.Name != "gamma" {
		t.Fatalf("expected gamma, got %q", parsed.Name)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	var parsed map[string]any
	err := extractJSON("no structured content here", &parsed)
	if err == nil {
		t.Fatal("expected error for response without JSON")
	}
	if !strings.Contains(err.Error(), "no JSON object") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExtractJSONMalformedObject(t *testing.T) {
	var parsed map[string]any
	if err := extractJSON(`prefix {"name": } suffix`, &parsed); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
