package groq

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Analyzer turns raw document text into a structured plain-language
// analysis through an OpenAI-compatible chat completion endpoint.
type Analyzer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	executor    *resilience.Executor
	logger      *slog.Logger
}

func NewAnalyzer(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Analyzer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		executor:    executor,
		logger:      logger,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, rawText, language string) (domain.Analysis, error) {
	request := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(rawText, language)},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	call := func(ctx context.Context) error {
		resp, err := a.client.CreateChatCompletion(ctx, request)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return domain.WrapError(domain.ErrAnalysisFailed, "completion", errEmptyCompletion)
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}

	if err := a.executor.Do(ctx, "groq_analyze", call, classifyGroqError); err != nil {
		return domain.Analysis{}, wrapGroqError("completion", err)
	}

	analysis, err := parseAnalysis(content)
	if err != nil {
		a.logger.Warn("model_output_rejected", "error", err, "content_len", len(content))
		return domain.Analysis{}, err
	}
	return analysis, nil
}

func parseAnalysis(content string) (domain.Analysis, error) {
	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &analysis); err != nil {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysisFailed, "parse", err)
	}
	if strings.TrimSpace(analysis.DocType) == "" {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysisFailed, "validate", errMissingDocType)
	}
	if strings.TrimSpace(analysis.SimplifiedExplanation) == "" {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysisFailed, "validate", errMissingExplanation)
	}
	if analysis.ConfidenceScore < 0 || analysis.ConfidenceScore > 1 {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysisFailed, "validate", errConfidenceRange)
	}
	if analysis.ConfidenceScore == 0 {
		analysis.ConfidenceScore = 1.0
	}
	if analysis.IdentifiedRisks == nil {
		analysis.IdentifiedRisks = []string{}
	}
	if analysis.ActionItems == nil {
		analysis.ActionItems = []string{}
	}
	return analysis, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
