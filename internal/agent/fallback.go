package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/almond/internal/observability"
)

// NamedFactory labels a Factory for logging.
type NamedFactory struct {
	Name string
	New  Factory
}

// Fallback returns a Factory that tries each factory in order and keeps the
// first conversation that constructs successfully.
func Fallback(logger *slog.Logger, chain ...NamedFactory) Factory {
	logger = observability.OrDefault(logger)
	return func(ctx context.Context, d Delegate) (Conversation, error) {
		if len(chain) == 0 {
			return nil, fmt.Errorf("%w: no agent configured", ErrUnavailable)
		}
		var errs []error
		for _, candidate := range chain {
			conv, err := candidate.New(ctx, d)
			if err == nil {
				logger.Debug("agent ready", "mode", candidate.Name)
				return conv, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.Warn("agent construction failed", "mode", candidate.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", candidate.Name, err))
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
}
