package llm

import "context"

// Message is one prior turn of a conversation, role "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	SystemPrompt string
	UserMessage  string
	History      []Message
}

// Client is the language-model collaborator. Implementations must return
// the raw completion text; retries and backoff are the caller's concern.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStream(ctx context.Context, req Request, emit func(chunk string) error) error
}
