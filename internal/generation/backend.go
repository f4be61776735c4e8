package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/models"
)

// Result is what a backend produced for one invocation.
type Result struct {
	// Content is the text, JSON document or image URL shown to the caller.
	Content     string
	ContentType string
	// Data holds image bytes when the backend returned them inline.
	Data     []byte
	Metadata models.Metadata
}

// Backend produces content for a validated tool input. Implementations
// must honor ctx cancellation.
type Backend interface {
	Generate(ctx context.Context, in *Input) (*Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, in *Input) (*Result, error)

func (f BackendFunc) Generate(ctx context.Context, in *Input) (*Result, error) {
	return f(ctx, in)
}

// NewBackend builds the backend named in cfg.
func NewBackend(cfg config.GenerationConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "template":
		logger.Info("Using template generation backend")
		return NewTemplateBackend(), nil
	case "http":
		logger.Info("Using HTTP generation backend", zap.String("endpoint", cfg.Endpoint))
		return NewHTTPBackend(cfg.Endpoint, cfg.APIKey, nil), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}
