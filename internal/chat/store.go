package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const defaultTitle = "New conversation"

// Store persists conversations and messages in Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// CreateConversation starts a conversation for the user. The title is
// derived from the opening message when one is given.
func (s *Store) CreateConversation(ctx context.Context, userID, firstMessage string) (Conversation, error) {
	title := deriveTitle(firstMessage)

	query := `
INSERT INTO conversation (conversation_id, user_id, title)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`

	conv := Conversation{
		ConversationID: uuid.NewString(),
		UserID:         userID,
		Title:          title,
	}
	if err := s.db.QueryRowContext(ctx, query, conv.ConversationID, userID, title).Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation is scoped to the owning user; other users get ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (Conversation, error) {
	query := `
SELECT conversation_id, user_id, title, created_at, updated_at
FROM conversation
WHERE conversation_id = $1 AND user_id = $2`

	var conv Conversation
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(
		&conv.ConversationID,
		&conv.UserID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT conversation_id, user_id, title, created_at, updated_at
FROM conversation
WHERE user_id = $1
ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ConversationID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// AddMessage appends a message and bumps the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	msg := Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}

	query := `
INSERT INTO message (conversation_id, role, content)
VALUES ($1, $2, $3)
RETURNING message_id, created_at`
	if err := s.db.QueryRowContext(ctx, query, conversationID, role, content).Scan(&msg.MessageID, &msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE conversation SET updated_at = NOW()
WHERE conversation_id = $1`, conversationID); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

// ListMessages returns the full transcript in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT message_id, conversation_id, role, content, created_at
FROM message
WHERE conversation_id = $1
ORDER BY created_at ASC, message_id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

// RecentHistory returns the last limit messages in chronological order.
func (s *Store) RecentHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT message_id, conversation_id, role, content, created_at
FROM message
WHERE conversation_id = $1
ORDER BY created_at DESC, message_id DESC
LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if title == "" {
		return defaultTitle
	}
	const maxTitleLen = 60
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = strings.TrimSpace(string(runes[:maxTitleLen])) + "..."
	}
	return title
}
