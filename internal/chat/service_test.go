package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
	"github.com/patriciodunstan/chat-analytics-api/internal/nl2sql"
)

type fakeDetector struct {
	detection nl2sql.Detection
}

func (f *fakeDetector) Detect(context.Context, string) nl2sql.Detection {
	return f.detection
}

type fakeDiscovery struct {
	schema *nl2sql.Schema
	err    error
	calls  int
}

func (f *fakeDiscovery) Discover(context.Context) (*nl2sql.Schema, error) {
	f.calls++
	return f.schema, f.err
}

type fakeParser struct {
	intent *nl2sql.ParsedIntent
	err    error
}

func (f *fakeParser) Parse(context.Context, string, *nl2sql.Schema) (*nl2sql.ParsedIntent, error) {
	return f.intent, f.err
}

type fakeGenerator struct {
	query nl2sql.Query
	err   error
}

func (f *fakeGenerator) Generate(*nl2sql.ParsedIntent, *nl2sql.Schema) (nl2sql.Query, error) {
	return f.query, f.err
}

type fakeExecutor struct {
	result nl2sql.Result
}

func (f *fakeExecutor) Execute(context.Context, nl2sql.Query) nl2sql.Result {
	return f.result
}

type fakeClient struct {
	response string
	err      error
	requests []llm.Request
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, req llm.Request, emit func(string) error) error {
	text, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	return emit(text)
}

type memoryStore struct {
	conversations map[string]Conversation
	messages      map[string][]Message
	nextID        int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

func (m *memoryStore) CreateConversation(_ context.Context, userID, firstMessage string) (Conversation, error) {
	conv := Conversation{
		ConversationID: fmt.Sprintf("conv-%d", len(m.conversations)+1),
		UserID:         userID,
		Title:          deriveTitle(firstMessage),
	}
	m.conversations[conv.ConversationID] = conv
	return conv, nil
}

func (m *memoryStore) GetConversation(_ context.Context, conversationID, userID string) (Conversation, error) {
	conv, ok := m.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (m *memoryStore) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *memoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	return m.messages[conversationID], nil
}

func (m *memoryStore) RecentHistory(_ context.Context, conversationID string, limit int) ([]Message, error) {
	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *memoryStore) AddMessage(_ context.Context, conversationID, role, content string) (Message, error) {
	m.nextID++
	msg := Message{MessageID: m.nextID, ConversationID: conversationID, Role: role, Content: content}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return msg, nil
}

func newTestService(detector *fakeDetector, discovery *fakeDiscovery, parser *fakeParser, generator *fakeGenerator, executor *fakeExecutor, client *fakeClient, store conversationStore) *Service {
	return NewService(detector, discovery, parser, generator, executor, client, store, ServiceConfig{}, nil)
}

func dataDetection(confidence float64) *fakeDetector {
	return &fakeDetector{detection: nl2sql.Detection{IsData: true, Confidence: confidence}}
}

func TestAnswerConversational(t *testing.T) {
	client := &fakeClient{response: "Hello! Ask me about your data."}
	discovery := &fakeDiscovery{}
	svc := newTestService(
		&fakeDetector{detection: nl2sql.Detection{IsData: false, Confidence: 0.3}},
		discovery, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{}, client, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.IsDataQuery {
		t.Fatal("expected conversational reply")
	}
	if reply.Text != "Hello! Ask me about your data." {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if discovery.calls != 0 {
		t.Fatal("pipeline must not run for conversational messages")
	}
	if client.requests[0].SystemPrompt == "" {
		t.Fatal("conversational system prompt missing")
	}
}

func TestAnswerLowConfidenceStaysConversational(t *testing.T) {
	discovery := &fakeDiscovery{}
	svc := newTestService(
		dataDetection(0.5),
		discovery, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{}, &fakeClient{response: "maybe"}, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "something about totals", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if discovery.calls != 0 {
		t.Fatal("pipeline must not run below the confidence threshold")
	}
	if !reply.IsDataQuery {
		t.Fatal("detection outcome should still be reported")
	}
}

func TestAnswerDataPath(t *testing.T) {
	result := nl2sql.Result{
		Success:     true,
		RowCount:    1,
		ColumnNames: []string{"total"},
		Data:        []map[string]any{{"total": int64(42)}},
	}
	client := &fakeClient{response: "There were 42 failures."}
	svc := newTestService(
		dataDetection(0.9),
		&fakeDiscovery{schema: &nl2sql.Schema{}},
		&fakeParser{intent: &nl2sql.ParsedIntent{Tables: []string{"failure_events"}}},
		&fakeGenerator{query: nl2sql.Query{SQL: "SELECT 1", Description: "Counting failures"}},
		&fakeExecutor{result: result},
		client, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "how many failures", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != "There were 42 failures." {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if reply.Result == nil || reply.Result.RowCount != 1 {
		t.Fatalf("result not attached: %+v", reply.Result)
	}
	if reply.QueryDescription != "Counting failures" {
		t.Fatalf("description lost: %q", reply.QueryDescription)
	}
	prompt := client.requests[0].UserMessage
	if !strings.Contains(prompt, "how many failures") || !strings.Contains(prompt, "42") {
		t.Fatalf("render prompt missing question or data:\n%s", prompt)
	}
}

func TestAnswerExecutionFailure(t *testing.T) {
	client := &fakeClient{response: "should not be used"}
	svc := newTestService(
		dataDetection(0.9),
		&fakeDiscovery{schema: &nl2sql.Schema{}},
		&fakeParser{intent: &nl2sql.ParsedIntent{Tables: []string{"failure_events"}}},
		&fakeGenerator{query: nl2sql.Query{SQL: "SELECT 1"}},
		&fakeExecutor{result: nl2sql.Result{Success: false, ErrorMessage: "syntax error"}},
		client, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "how many failures", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != executionFailedReply {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if len(client.requests) != 0 {
		t.Fatal("no llm call expected after execution failure")
	}
}

func TestAnswerEmptyResult(t *testing.T) {
	svc := newTestService(
		dataDetection(0.9),
		&fakeDiscovery{schema: &nl2sql.Schema{}},
		&fakeParser{intent: &nl2sql.ParsedIntent{Tables: []string{"failure_events"}}},
		&fakeGenerator{query: nl2sql.Query{SQL: "SELECT 1"}},
		&fakeExecutor{result: nl2sql.Result{Success: true, RowCount: 0}},
		&fakeClient{}, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "how many failures", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != emptyResultReply {
		t.Fatalf("unexpected text %q", reply.Text)
	}
}

func TestAnswerPipelineErrorFallsBack(t *testing.T) {
	client := &fakeClient{response: "I could not find matching tables, try naming one."}
	svc := newTestService(
		dataDetection(0.9),
		&fakeDiscovery{schema: &nl2sql.Schema{}},
		&fakeParser{err: &nl2sql.PipelineError{Stage: nl2sql.StageIntentParsing, Err: errors.New("no valid tables")}},
		&fakeGenerator{}, &fakeExecutor{}, client, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "show me the frobnicators", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("expected conversational fallback text")
	}
	if !strings.Contains(client.requests[0].UserMessage, "could not build a valid query") {
		t.Fatal("fallback note missing from prompt")
	}
}

func TestAnswerRenderFailureUsesMarkdown(t *testing.T) {
	result := nl2sql.Result{
		Success:     true,
		RowCount:    1,
		ColumnNames: []string{"total"},
		Data:        []map[string]any{{"total": int64(42)}},
	}
	svc := newTestService(
		dataDetection(0.9),
		&fakeDiscovery{schema: &nl2sql.Schema{}},
		&fakeParser{intent: &nl2sql.ParsedIntent{Tables: []string{"failure_events"}}},
		&fakeGenerator{query: nl2sql.Query{SQL: "SELECT 1"}},
		&fakeExecutor{result: result},
		&fakeClient{err: errors.New("model unavailable")}, newMemoryStore(),
	)

	reply, err := svc.Answer(context.Background(), "how many failures", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.HasPrefix(reply.Text, "| total |") {
		t.Fatalf("expected markdown fallback, got %q", reply.Text)
	}
}

func TestProcessMessagePersistsExchange(t *testing.T) {
	store := newMemoryStore()
	client := &fakeClient{response: "Hi!"}
	svc := newTestService(
		&fakeDetector{detection: nl2sql.Detection{IsData: false, Confidence: 0.3}},
		&fakeDiscovery{}, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{}, client, store,
	)

	resp, err := svc.ProcessMessage(context.Background(), "user-1", "", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if resp.ConversationID == "" {
		t.Fatal("expected conversation id")
	}
	msgs := store.messages[resp.ConversationID]
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("roles wrong: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if len(client.requests[0].History) != 0 {
		t.Fatal("first message must not carry itself as history")
	}
}

func TestProcessMessageIncludesHistory(t *testing.T) {
	store := newMemoryStore()
	client := &fakeClient{response: "Sure."}
	svc := newTestService(
		&fakeDetector{detection: nl2sql.Detection{IsData: false, Confidence: 0.3}},
		&fakeDiscovery{}, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{}, client, store,
	)

	conv, _ := store.CreateConversation(context.Background(), "user-1", "first")
	_, _ = store.AddMessage(context.Background(), conv.ConversationID, RoleUser, "first")
	_, _ = store.AddMessage(context.Background(), conv.ConversationID, RoleAssistant, "reply one")

	_, err := svc.ProcessMessage(context.Background(), "user-1", conv.ConversationID, "and then?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	history := client.requests[0].History
	if len(history) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(history))
	}
	if history[1].Content != "reply one" {
		t.Fatalf("history order wrong: %+v", history)
	}
}

func TestProcessMessageUnknownConversation(t *testing.T) {
	svc := newTestService(
		&fakeDetector{}, &fakeDiscovery{}, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{},
		&fakeClient{}, newMemoryStore(),
	)

	_, err := svc.ProcessMessage(context.Background(), "user-1", "missing", "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTranscriptScopedToOwner(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(
		&fakeDetector{}, &fakeDiscovery{}, &fakeParser{}, &fakeGenerator{}, &fakeExecutor{},
		&fakeClient{}, store,
	)

	conv, _ := store.CreateConversation(context.Background(), "user-1", "first")
	_, _ = store.AddMessage(context.Background(), conv.ConversationID, RoleUser, "first")

	if _, err := svc.Transcript(context.Background(), "user-2", conv.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user, got %v", err)
	}
	msgs, err := svc.Transcript(context.Background(), "user-1", conv.ConversationID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}
