package backend

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// LocalQueue talks to a self-hosted completion server that accepts
// {"prompt","max_tokens","temperature"} and answers {"text": ...}.
type LocalQueue struct {
	httpClient
}

type localQueueRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// NewLocalQueue creates a LocalQueue adapter. Use New for validation.
func NewLocalQueue(cfg Config, logger *zap.Logger) *LocalQueue {
	return &LocalQueue{httpClient: newHTTPClient(KindLocalQueue, cfg, logger)}
}

// Kind implements Generator.
func (l *LocalQueue) Kind() Kind { return KindLocalQueue }

// Generate implements Generator.
func (l *LocalQueue) Generate(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	rr, err := l.post(ctx, localQueueRequest{
		Prompt:      prompt,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	}, "")
	if err != nil {
		return Result{}, err
	}
	status := rr.StatusCode()

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body(), &body); err != nil {
		return Result{}, l.malformed(status, "body is not a JSON object", err)
	}
	raw, ok := body["text"]
	if !ok {
		return Result{}, l.malformed(status, `missing "text" field`, nil)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		// Older vLLM servers answer with a list of candidates.
		var candidates []string
		if err := json.Unmarshal(raw, &candidates); err != nil || len(candidates) == 0 {
			return Result{}, l.malformed(status, `"text" is neither a string nor a non-empty list of strings`, err)
		}
		text = candidates[0]
	}

	out, ok := completion(prompt, text)
	if !ok {
		return Result{}, l.malformed(status, "empty completion", nil)
	}
	return Result{Text: out, Status: status, Latency: time.Since(start)}, nil
}
