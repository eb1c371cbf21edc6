package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
	"github.com/patriciodunstan/chat-analytics-api/internal/nl2sql"
	"github.com/patriciodunstan/chat-analytics-api/internal/observability"
)

const (
	executionFailedReply = "I could not execute the query. Please try rephrasing your question."
	emptyResultReply     = "No results found for the given criteria."

	conversationSystemPrompt = `You are a helpful assistant for a data analytics platform.
Users can ask you questions about their operational data in natural language
and you translate them into database queries. When the user is just chatting,
answer briefly and professionally. If they seem to want data, suggest how to
phrase the question. Do not invent data.`
)

const dataResponsePrompt = `You are a data analysis assistant.

A query was executed based on the user's question.

ORIGINAL QUESTION:
%s

EXECUTED QUERY:
%s

DATA OBTAINED:
%s

METADATA:
- Rows returned: %d
- Columns: %s

Produce a clear, professional answer that:
1. Directly answers the user's question
2. Presents the data legibly (use a markdown table for multiple rows)
3. Includes relevant insights when the data allows
4. Is concise but complete
5. Does NOT use emojis unless the user does

Do NOT invent data. Only use the data provided.`

type queryDetector interface {
	Detect(ctx context.Context, message string) nl2sql.Detection
}

type schemaDiscoverer interface {
	Discover(ctx context.Context) (*nl2sql.Schema, error)
}

type intentParser interface {
	Parse(ctx context.Context, message string, schema *nl2sql.Schema) (*nl2sql.ParsedIntent, error)
}

type sqlGenerator interface {
	Generate(intent *nl2sql.ParsedIntent, schema *nl2sql.Schema) (nl2sql.Query, error)
}

type queryExecutor interface {
	Execute(ctx context.Context, query nl2sql.Query) nl2sql.Result
}

type conversationStore interface {
	CreateConversation(ctx context.Context, userID, firstMessage string) (Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]Message, error)
	AddMessage(ctx context.Context, conversationID, role, content string) (Message, error)
}

// Reply is the outcome of answering one message.
type Reply struct {
	Text             string
	IsDataQuery      bool
	Confidence       float64
	QueryDescription string
	Result           *nl2sql.Result
}

// ChatResponse is a Reply bound to its persisted conversation.
type ChatResponse struct {
	ConversationID string
	Reply          Reply
}

type ServiceConfig struct {
	ConfidenceThreshold float64
	HistoryLimit        int
}

// Service runs the full pipeline for each message: detection, schema
// discovery, intent parsing, SQL generation, execution and response
// rendering. Pipeline failures degrade to a conversational answer, never
// to an error reaching the user.
type Service struct {
	detector  queryDetector
	discovery schemaDiscoverer
	parser    intentParser
	generator sqlGenerator
	executor  queryExecutor
	client    llm.Client
	store     conversationStore
	cfg       ServiceConfig
	logger    *slog.Logger
}

func NewService(
	detector queryDetector,
	discovery schemaDiscoverer,
	parser intentParser,
	generator sqlGenerator,
	executor queryExecutor,
	client llm.Client,
	store conversationStore,
	cfg ServiceConfig,
	logger *slog.Logger,
) *Service {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		detector:  detector,
		discovery: discovery,
		parser:    parser,
		generator: generator,
		executor:  executor,
		client:    client,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Answer handles one message against the given history. The returned
// error is reserved for total failures such as the language model being
// unreachable for a plain conversational reply.
func (s *Service) Answer(ctx context.Context, message string, history []llm.Message) (Reply, error) {
	observability.IncrementChatMessages()
	detection := s.detector.Detect(ctx, message)
	return s.answerDetected(ctx, message, history, detection)
}

func (s *Service) answerDetected(ctx context.Context, message string, history []llm.Message, detection nl2sql.Detection) (Reply, error) {
	reply := Reply{IsDataQuery: detection.IsData, Confidence: detection.Confidence}

	if !detection.IsData || detection.Confidence < s.cfg.ConfidenceThreshold {
		text, err := s.conversationalReply(ctx, message, history, "")
		if err != nil {
			return Reply{}, err
		}
		reply.Text = text
		return reply, nil
	}

	result, description, err := s.runPipeline(ctx, message)
	if err != nil {
		stage := nl2sql.StageOf(err)
		s.logger.WarnContext(ctx, "pipeline failed, falling back to conversation",
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
		observability.IncrementPipelineFallback(string(stage))
		text, convErr := s.conversationalReply(ctx, message, history,
			"I tried to query the database for this question but could not build a valid query.")
		if convErr != nil {
			return Reply{}, convErr
		}
		reply.Text = text
		return reply, nil
	}

	reply.Result = &result
	reply.QueryDescription = description

	if !result.Success {
		reply.Text = executionFailedReply
		return reply, nil
	}
	if result.RowCount == 0 {
		reply.Text = emptyResultReply
		return reply, nil
	}

	prompt := fmt.Sprintf(dataResponsePrompt,
		message,
		description,
		nl2sql.FormatResultsForLLM(result),
		result.RowCount,
		strings.Join(result.ColumnNames, ", "),
	)
	text, err := s.client.Complete(ctx, llm.Request{UserMessage: prompt})
	if err != nil {
		s.logger.WarnContext(ctx, "response rendering failed, using raw table", slog.Any("error", err))
		reply.Text = nl2sql.FormatResultsAsMarkdown(result)
		return reply, nil
	}
	reply.Text = text
	return reply, nil
}

func (s *Service) runPipeline(ctx context.Context, message string) (nl2sql.Result, string, error) {
	schema, err := s.discovery.Discover(ctx)
	if err != nil {
		return nl2sql.Result{}, "", err
	}
	intent, err := s.parser.Parse(ctx, message, schema)
	if err != nil {
		return nl2sql.Result{}, "", err
	}
	query, err := s.generator.Generate(intent, schema)
	if err != nil {
		return nl2sql.Result{}, "", err
	}
	return s.executor.Execute(ctx, query), query.Description, nil
}

func (s *Service) conversationalReply(ctx context.Context, message string, history []llm.Message, note string) (string, error) {
	userMessage := message
	if note != "" {
		userMessage = message + "\n\n(" + note + ")"
	}
	text, err := s.client.Complete(ctx, llm.Request{
		SystemPrompt: conversationSystemPrompt,
		UserMessage:  userMessage,
		History:      history,
	})
	if err != nil {
		return "", fmt.Errorf("conversational reply: %w", err)
	}
	return text, nil
}

// ProcessMessage is the persistence-aware entry point: it resolves or
// creates the conversation, answers with recent history as context and
// records both sides of the exchange.
func (s *Service) ProcessMessage(ctx context.Context, userID, conversationID, message string) (ChatResponse, error) {
	var conv Conversation
	var err error
	if conversationID == "" {
		conv, err = s.store.CreateConversation(ctx, userID, message)
	} else {
		conv, err = s.store.GetConversation(ctx, conversationID, userID)
	}
	if err != nil {
		return ChatResponse{}, err
	}

	history, err := s.history(ctx, conv.ConversationID)
	if err != nil {
		return ChatResponse{}, err
	}

	if _, err := s.store.AddMessage(ctx, conv.ConversationID, RoleUser, message); err != nil {
		return ChatResponse{}, err
	}

	reply, err := s.Answer(ctx, message, history)
	if err != nil {
		return ChatResponse{}, err
	}

	if _, err := s.store.AddMessage(ctx, conv.ConversationID, RoleAssistant, reply.Text); err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{ConversationID: conv.ConversationID, Reply: reply}, nil
}

// StreamMessage behaves like ProcessMessage but emits the reply
// incrementally. Conversational replies stream token by token; data
// replies arrive as a single chunk once the pipeline finishes.
func (s *Service) StreamMessage(ctx context.Context, userID, conversationID, message string, emit func(string) error) (ChatResponse, error) {
	var conv Conversation
	var err error
	if conversationID == "" {
		conv, err = s.store.CreateConversation(ctx, userID, message)
	} else {
		conv, err = s.store.GetConversation(ctx, conversationID, userID)
	}
	if err != nil {
		return ChatResponse{}, err
	}

	history, err := s.history(ctx, conv.ConversationID)
	if err != nil {
		return ChatResponse{}, err
	}
	if _, err := s.store.AddMessage(ctx, conv.ConversationID, RoleUser, message); err != nil {
		return ChatResponse{}, err
	}

	observability.IncrementChatMessages()
	detection := s.detector.Detect(ctx, message)
	reply := Reply{IsDataQuery: detection.IsData, Confidence: detection.Confidence}

	if detection.IsData && detection.Confidence >= s.cfg.ConfidenceThreshold {
		dataReply, err := s.answerDetected(ctx, message, history, detection)
		if err != nil {
			return ChatResponse{}, err
		}
		reply = dataReply
		if err := emit(reply.Text); err != nil {
			return ChatResponse{}, err
		}
	} else {
		var full strings.Builder
		err := s.client.CompleteStream(ctx, llm.Request{
			SystemPrompt: conversationSystemPrompt,
			UserMessage:  message,
			History:      history,
		}, func(chunk string) error {
			full.WriteString(chunk)
			return emit(chunk)
		})
		if err != nil {
			return ChatResponse{}, fmt.Errorf("stream conversational reply: %w", err)
		}
		reply.Text = full.String()
	}

	if _, err := s.store.AddMessage(ctx, conv.ConversationID, RoleAssistant, reply.Text); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{ConversationID: conv.ConversationID, Reply: reply}, nil
}

func (s *Service) history(ctx context.Context, conversationID string) ([]llm.Message, error) {
	records, err := s.store.RecentHistory(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(records))
	for _, record := range records {
		history = append(history, llm.Message{Role: record.Role, Content: record.Content})
	}
	return history, nil
}

// Conversations exposes the store to the API layer with user scoping
// already applied.
func (s *Service) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

func (s *Service) StartConversation(ctx context.Context, userID, title string) (Conversation, error) {
	return s.store.CreateConversation(ctx, userID, title)
}

func (s *Service) Transcript(ctx context.Context, userID, conversationID string) ([]Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}
