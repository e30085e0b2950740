// Package dispatch orchestrates one logical send against a provider,
// rotating through the credential pool on rate-limit failures.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptd/promptd/internal/domain"
	"github.com/promptd/promptd/internal/keypool"
	"github.com/promptd/promptd/internal/provider"
)

// defaultTransientRetries is the bounded same-credential retry count for
// transient failures before escalating to the next credential.
const defaultTransientRetries = 2

// ExhaustedError reports that every credential in the pool was attempted
// once since the dispatch's starting credential without success.
type ExhaustedError struct {
	Attempts int
	PoolSize int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d credentials exhausted after %d attempts", e.PoolSize, e.Attempts)
}

// Result is a successful dispatch.
type Result struct {
	Reply    domain.Turn
	Attempts int
	PoolSize int
	// Credential is the key that succeeded, empty for unauthenticated
	// providers. Callers persist its fingerprint as the conversation's
	// preferred-credential hint.
	Credential keypool.Credential
}

// Dispatcher owns the retry/rotation decision. It never suppresses a
// terminal failure, only intermediate rate-limit ones, and it never prints:
// progress is exposed through the retry callback and the attempt counts on
// Result and ExhaustedError.
type Dispatcher struct {
	pool             *keypool.Pool
	transientRetries int
	logger           *slog.Logger
	onRetry          func(attempts, poolSize int)
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithTransientRetries overrides the same-credential retry bound.
func WithTransientRetries(n int) Option {
	return func(d *Dispatcher) { d.transientRetries = n }
}

// WithLogger sets the dispatch logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRetryObserver registers a callback invoked after each rate-limited
// attempt, so a caller can render progress like "(2/3)".
func WithRetryObserver(f func(attempts, poolSize int)) Option {
	return func(d *Dispatcher) { d.onRetry = f }
}

// New creates a dispatcher over the given pool. The pool may be empty; the
// error surfaces only when a credentialed provider is dispatched.
func New(pool *keypool.Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:             pool,
		transientRetries: defaultTransientRetries,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send performs one logical send. preferredFingerprint, when non-empty,
// biases the starting credential toward the conversation's last successful
// key; otherwise the start is chosen at random. Exactly one outbound call is
// in flight at a time.
func (d *Dispatcher) Send(ctx context.Context, client provider.Client, history []domain.Turn, content string, preferredFingerprint string) (*Result, error) {
	if !client.RequiresCredential() {
		attempts := 0
		turn, err := d.attempt(ctx, client, history, content, "", &attempts)
		if err != nil {
			return nil, err
		}
		return &Result{Reply: turn, Attempts: attempts}, nil
	}

	if d.pool == nil || d.pool.Size() == 0 {
		return nil, fmt.Errorf("provider %s requires a credential: %w", client.Name(), keypool.ErrNoCredentials)
	}
	size := d.pool.Size()

	start, cred, ok := d.pool.StartAt(preferredFingerprint)
	if !ok {
		start, cred = d.pool.PickStart()
	}

	idx := start
	attempts := 0
	for {
		turn, err := d.attempt(ctx, client, history, content, cred, &attempts)
		if err == nil {
			return &Result{Reply: turn, Attempts: attempts, PoolSize: size, Credential: cred}, nil
		}

		switch {
		case provider.IsRateLimited(err):
			if d.onRetry != nil {
				d.onRetry(attempts, size)
			}
			d.logger.Warn("credential rate limited, rotating",
				"provider", client.Name(),
				"credential", cred.Redacted(),
				"attempts", attempts,
				"pool_size", size,
			)
		case provider.IsTransient(err):
			d.logger.Warn("transient failures persisted, escalating to next credential",
				"provider", client.Name(),
				"credential", cred.Redacted(),
				"attempts", attempts,
				"error", err,
			)
		default:
			// AuthFailure, Fatal, or a non-provider error: assumed
			// systemic, not key-specific. Abort without rotation and
			// surface the error unchanged.
			return nil, err
		}

		idx = d.pool.Next(idx)
		if idx == start {
			return nil, &ExhaustedError{Attempts: attempts, PoolSize: size}
		}
		cred = d.pool.At(idx)
	}
}

// attempt calls the provider once, retrying transient failures on the same
// credential up to the configured bound.
func (d *Dispatcher) attempt(ctx context.Context, client provider.Client, history []domain.Turn, content string, cred keypool.Credential, attempts *int) (domain.Turn, error) {
	var lastErr error
	for try := 0; try <= d.transientRetries; try++ {
		if err := ctx.Err(); err != nil {
			return domain.Turn{}, err
		}
		*attempts++
		turn, err := client.SendTurn(ctx, history, content, string(cred))
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if !provider.IsTransient(err) {
			return domain.Turn{}, err
		}
		if try < d.transientRetries {
			d.logger.Debug("transient failure, retrying same credential",
				"provider", client.Name(),
				"try", try+1,
				"error", err,
			)
		}
	}
	return domain.Turn{}, lastErr
}
