package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
	"github.com/patriciodunstan/chat-analytics-api/internal/observability"
)

// dataKeywords mark quantities, comparisons, rankings, temporal terms and
// domain nouns; chatKeywords mark greetings and help requests. Matching is
// substring-based over the lowercased message.
var dataKeywords = []string{
	"how many", "how much", "count",
	"total", "sum", "average", "mean",
	"cost", "expense", "revenue", "sales",
	"compare", "comparison", "vs", "versus",
	"highest", "lowest", "maximum", "minimum",
	"top", "ranking", "order by", "sorted",
	"category", "service", "product", "equipment",
	"month", "year", "quarter", "period", "date",
	"trend", "evolution", "history",
	"show", "display", "give me", "list",
	"ticket", "failure", "maintenance", "event",
	"open", "closed", "pending", "resolved",
	"customer", "user", "technician",
}

var chatKeywords = []string{
	"hello", "hi there", "thanks", "thank you", "goodbye", "bye",
	"help", "what can you", "how do you work", "how does this work",
	"explain", "what is", "what are",
	"why", "who",
}

type Detection struct {
	IsData     bool
	Confidence float64
	Reasoning  string
}

// Detector decides whether a message needs a database query. The keyword
// heuristic always runs first; the language model is only consulted when
// the heuristic is not confident enough.
type Detector struct {
	client llm.Client
	useLLM bool
	logger *slog.Logger
}

func NewDetector(client llm.Client, useLLM bool, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{client: client, useLLM: useLLM, logger: logger}
}

// Detect never fails: language-model errors degrade to the heuristic result.
func (d *Detector) Detect(ctx context.Context, message string) Detection {
	heuristic := d.heuristicCheck(message)

	if heuristic.Confidence > 0.85 {
		d.logger.InfoContext(ctx, "heuristic detection",
			slog.Bool("is_data", heuristic.IsData),
			slog.Float64("confidence", heuristic.Confidence),
		)
		observability.ObserveQueryDetection("heuristic", heuristic.IsData)
		return heuristic
	}

	if d.useLLM && d.client != nil {
		detection, err := d.llmDetect(ctx, message)
		if err != nil {
			d.logger.WarnContext(ctx, "llm detection failed, using heuristic", slog.Any("error", err))
			observability.ObserveQueryDetection("heuristic", heuristic.IsData)
			return heuristic
		}
		d.logger.InfoContext(ctx, "llm detection",
			slog.Bool("is_data", detection.IsData),
			slog.Float64("confidence", detection.Confidence),
		)
		observability.ObserveQueryDetection("llm", detection.IsData)
		return detection
	}

	observability.ObserveQueryDetection("heuristic", heuristic.IsData)
	return heuristic
}

func (d *Detector) heuristicCheck(message string) Detection {
	lowered := strings.ToLower(message)

	dataScore := 0
	for _, keyword := range dataKeywords {
		if strings.Contains(lowered, keyword) {
			dataScore++
		}
	}
	chatScore := 0
	for _, keyword := range chatKeywords {
		if strings.Contains(lowered, keyword) {
			chatScore++
		}
	}

	if dataScore == 0 && chatScore == 0 {
		return Detection{IsData: false, Confidence: 0.3, Reasoning: "No relevant keywords found."}
	}

	dataRatio := float64(dataScore) / float64(dataScore+chatScore)
	confidence := 0.5 + dataRatio*0.4
	if confidence > 0.85 {
		confidence = 0.85
	}

	return Detection{
		IsData:     dataRatio > 0.5,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("Heuristic: %d data keywords vs %d chat keywords.", dataScore, chatScore),
	}
}

func (d *Detector) llmDetect(ctx context.Context, message string) (Detection, error) {
	response, err := d.client.Complete(ctx, llm.Request{
		UserMessage: fmt.Sprintf(detectionPrompt, message),
	})
	if err != nil {
		return Detection{}, stageError(StageQueryDetection, "llm call: %w", err)
	}

	var parsed struct {
		RequiresData bool    `json:"requires_data"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	}
	if err := extractJSON(response, &parsed); err != nil {
		return Detection{}, stageError(StageQueryDetection, "invalid llm response format: %w", err)
	}

	reasoning := parsed.Reasoning
	if reasoning == "" {
		reasoning = "LLM detection"
	}
	return Detection{IsData: parsed.RequiresData, Confidence: parsed.Confidence, Reasoning: reasoning}, nil
}
