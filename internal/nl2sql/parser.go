package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
)

// IntentParser turns a natural-language question into a ParsedIntent via
// the language model, then validates every table reference against the
// discovered schema.
type IntentParser struct {
	client llm.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewIntentParser(client llm.Client, logger *slog.Logger) *IntentParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentParser{client: client, logger: logger, now: time.Now}
}

func (p *IntentParser) Parse(ctx context.Context, message string, schema *Schema) (*ParsedIntent, error) {
	prompt := fmt.Sprintf(intentParsingPrompt,
		SchemaPrompt(schema),
		p.now().UTC().Format("2006-01-02"),
		message,
	)

	response, err := p.client.Complete(ctx, llm.Request{UserMessage: prompt})
	if err != nil {
		return nil, stageError(StageIntentParsing, "llm call: %w", err)
	}

	intent := &ParsedIntent{}
	if err := extractJSON(response, intent); err != nil {
		return nil, stageError(StageIntentParsing, "invalid llm response format: %w", err)
	}

	intent.OriginalMessage = message
	if intent.Confidence == 0 {
		intent.Confidence = 0.5
	}
	if intent.DateRange != nil && intent.DateRange.StartDate == "" && intent.DateRange.EndDate == "" {
		intent.DateRange = nil
	}

	if err := p.validateAgainstSchema(ctx, intent, schema); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "intent parsed",
		slog.Any("tables", intent.Tables),
		slog.Float64("confidence", intent.Confidence),
	)
	return intent, nil
}

// validateAgainstSchema strips table references that do not exist in the
// schema. Matching is case-insensitive but the canonical schema name is
// kept. Losing every table is an error; losing some is only a warning.
func (p *IntentParser) validateAgainstSchema(ctx context.Context, intent *ParsedIntent, schema *Schema) error {
	canonical := make(map[string]string, len(schema.Tables))
	for _, table := range schema.Tables {
		canonical[strings.ToLower(table.Name)] = table.Name
	}

	var valid, dropped []string
	for _, name := range intent.Tables {
		if match, ok := canonical[strings.ToLower(name)]; ok {
			valid = append(valid, match)
		} else {
			dropped = append(dropped, name)
		}
	}

	if len(dropped) > 0 {
		p.logger.WarnContext(ctx, "intent references unknown tables",
			slog.Any("dropped", dropped),
		)
	}
	if len(valid) == 0 {
		return stageError(StageIntentParsing,
			"no valid tables in intent; available tables: %s",
			strings.Join(schema.TableNames(), ", "))
	}

	intent.Tables = valid
	return nil
}
