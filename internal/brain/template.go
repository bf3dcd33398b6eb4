package brain

import (
	"context"
	"strings"
)

// TemplateAdapter passes drafted replies through unchanged. Used when no
// model API key is configured, which keeps local runs and tests working.
type TemplateAdapter struct{}

func NewTemplateAdapter() *TemplateAdapter { return &TemplateAdapter{} }

func (a *TemplateAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: strings.TrimSpace(req.Draft)}, nil
}
