package backend

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// RemoteHosted talks to a hosted inference API that accepts {"inputs": ...}
// with a bearer credential and answers [{"generated_text": ...}].
type RemoteHosted struct {
	httpClient
}

type remoteHostedRequest struct {
	Inputs string `json:"inputs"`
}

type remoteHostedCandidate struct {
	GeneratedText *string `json:"generated_text"`
}

// NewRemoteHosted creates a RemoteHosted adapter. Use New for validation.
func NewRemoteHosted(cfg Config, logger *zap.Logger) *RemoteHosted {
	return &RemoteHosted{httpClient: newHTTPClient(KindRemoteHosted, cfg, logger)}
}

// Kind implements Generator.
func (r *RemoteHosted) Kind() Kind { return KindRemoteHosted }

// Generate implements Generator.
func (r *RemoteHosted) Generate(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	rr, err := r.post(ctx, remoteHostedRequest{Inputs: prompt}, r.cfg.Credential)
	if err != nil {
		return Result{}, err
	}
	status := rr.StatusCode()

	var candidates []remoteHostedCandidate
	if err := json.Unmarshal(rr.Body(), &candidates); err != nil {
		return Result{}, r.malformed(status, "body is not a JSON array of objects", err)
	}
	if len(candidates) == 0 {
		return Result{}, r.malformed(status, "empty candidate list", nil)
	}
	if candidates[0].GeneratedText == nil {
		return Result{}, r.malformed(status, `missing "generated_text" field`, nil)
	}

	// Text generation endpoints echo the prompt unless told otherwise.
	out, ok := completion(prompt, *candidates[0].GeneratedText)
	if !ok {
		return Result{}, r.malformed(status, "empty completion", nil)
	}
	return Result{Text: out, Status: status, Latency: time.Since(start)}, nil
}
