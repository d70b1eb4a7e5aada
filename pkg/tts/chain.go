package tts

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain implements Provider by trying providers in order. The first one
// that succeeds wins.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger creates a chain that logs fallbacks to logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return try(ctx, c, text, Provider.Synthesize)
}

// Stream tries each provider until one opens a stream. Once a stream is
// open, later failures are not retried on another provider.
func (c *Chain) Stream(ctx context.Context, text string) (AudioStream, error) {
	return try(ctx, c, text, Provider.Stream)
}

func try[T any](ctx context.Context, c *Chain, text string, call func(Provider, context.Context, string) (T, error)) (T, error) {
	var (
		errs []error
		zero T
	)
	for i, p := range c.providers {
		out, err := call(p, ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "chars", len(text))
			}
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
	}
	return zero, &ChainError{Errors: errs}
}

// Health succeeds if any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
}

// Close closes all providers and returns the last error.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

var _ Provider = (*Chain)(nil)
