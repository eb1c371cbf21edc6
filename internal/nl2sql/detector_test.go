package nl2sql

import (
	"context"
	"errors"
	"testing"

	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
)

// fakeLLM satisfies llm.Client with canned responses, shared across the
// package tests.
type fakeLLM struct {
	response string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, req llm.Request, emit func(string) error) error {
	text, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	return emit(text)
}

func TestDetectDataKeywordsOnly(t *testing.T) {
	detector := NewDetector(nil, false, nil)

	detection := detector.Detect(context.Background(), "show the total cost per equipment")

	if !detection.IsData {
		t.Fatal("expected data query detection")
	}
	if detection.Confidence < 0.5 || detection.Confidence > 0.85 {
		t.Fatalf("confidence %v outside [0.5, 0.85]", detection.Confidence)
	}
}

func TestDetectChatKeywordsOnly(t *testing.T) {
	detector := NewDetector(nil, false, nil)

	detection := detector.Detect(context.Background(), "hello, thanks for the help")

	if detection.IsData {
		t.Fatal("expected conversational detection")
	}
}

func TestDetectNoKeywords(t *testing.T) {
	detector := NewDetector(nil, false, nil)

	detection := detector.Detect(context.Background(), "zzz qqq xyzzy")

	if detection.IsData {
		t.Fatal("expected conversational detection")
	}
	if detection.Confidence != 0.3 {
		t.Fatalf("expected confidence 0.3, got %v", detection.Confidence)
	}
}

func TestDetectEscalatesToLLM(t *testing.T) {
	client := &fakeLLM{response: `{"requires_data": true, "confidence": 0.92, "reasoning": "asks for a count"}`}
	detector := NewDetector(client, true, nil)

	detection := detector.Detect(context.Background(), "hello, how many tickets are there")

	if len(client.requests) != 1 {
		t.Fatalf("expected one llm call, got %d", len(client.requests))
	}
	if !detection.IsData || detection.Confidence != 0.92 {
		t.Fatalf("expected llm detection, got %+v", detection)
	}
}

func TestDetectFallsBackOnLLMError(t *testing.T) {
	client := &fakeLLM{err: errors.New("upstream unavailable")}
	detector := NewDetector(client, true, nil)

	detection := detector.Detect(context.Background(), "show the total cost per equipment")

	if !detection.IsData {
		t.Fatal("expected heuristic fallback to flag data query")
	}
	if detection.Confidence > 0.85 {
		t.Fatalf("heuristic confidence capped at 0.85, got %v", detection.Confidence)
	}
}

func TestDetectFallsBackOnBadLLMJSON(t *testing.T) {
	client := &fakeLLM{response: "I cannot classify this message."}
	detector := NewDetector(client, true, nil)

	detection := detector.Detect(context.Background(), "hello, how many tickets are there")

	if !detection.IsData {
		t.Fatal("expected heuristic fallback, data keywords dominate")
	}
}
