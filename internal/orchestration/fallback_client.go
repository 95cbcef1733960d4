package orchestration

import (
	"context"

	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

// FallbackLLMClient wraps a primary LLM client with a fallback provider.
// If the primary fails, it automatically retries once with the fallback.
// Retrying stops there: further recovery belongs to the controller, which
// substitutes a safe canned message rather than failing the caller.
type FallbackLLMClient struct {
	primary       LLMClient
	fallback      LLMClient
	fallbackModel string
	logger        *logging.Logger
}

// FallbackOption configures the fallback client.
type FallbackOption func(*FallbackLLMClient)

// WithFallbackModel rewrites the model id on the retry. Required when the
// fallback is a different provider that cannot serve the primary's model.
func WithFallbackModel(model string) FallbackOption {
	return func(c *FallbackLLMClient) {
		c.fallbackModel = model
	}
}

// NewFallbackLLMClient creates a fallback-enabled LLM client. If fallback is
// nil, the client only uses the primary provider.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger, opts ...FallbackOption) *FallbackLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	c := &FallbackLLMClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a completion request to the primary LLM, retrying with the
// fallback when the primary fails.
func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)

	if c.fallback == nil {
		return LLMResponse{}, err
	}

	if c.fallbackModel != "" {
		req.Model = c.fallbackModel
	}
	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}
