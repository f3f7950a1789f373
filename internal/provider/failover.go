package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"ragagent/internal/domain"
)

// FailoverProvider is the agent's provider when a failover chain is
// configured: the agent provider first, then the chain in order.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !slices.Contains(all, m) {
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) SupportsToolCalling() bool {
	return slices.ContainsFunc(fp.providers, domain.Provider.SupportsToolCalling)
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Chat tries each provider in order and returns the first answer. Requests
// that offer tools skip providers without tool calling, since the agent
// cannot use a plain-text reply to a tool turn.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range fp.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(req.Tools) > 0 && !p.SupportsToolCalling() {
			fp.logger.Debug("failover: provider cannot call tools, skipping", "provider", p.Name())
			continue
		}
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "error", err)
	}
	if len(errs) == 0 {
		return nil, errors.New("failover chain has no provider for this request")
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", errors.Join(errs...))
}
