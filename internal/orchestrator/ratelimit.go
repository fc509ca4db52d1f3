package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a node so calls wait for a token from limiter. Use it for
// nodes backed by rate-limited model providers.
func RateLimited(node Node, limiter *rate.Limiter) Node {
	if limiter == nil {
		return node
	}
	return NodeFunc(func(ctx context.Context, state *State) (Update, error) {
		if err := limiter.Wait(ctx); err != nil {
			return Update{}, fmt.Errorf("waiting for rate limit: %w", err)
		}
		return node.Run(ctx, state)
	})
}
