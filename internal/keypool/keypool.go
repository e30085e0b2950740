// Package keypool manages the pool of provider API credentials and the
// circular rotation used when a credential is rate limited.
package keypool

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
)

// Delimiter separates credentials in the raw configuration value.
const Delimiter = "|"

// ErrNoCredentials is returned when a provider requires a credential but the
// pool is empty. The pool itself loads fine without credentials; the error
// surfaces at first use.
var ErrNoCredentials = errors.New("no API credentials configured")

// Credential is an opaque provider secret. Never logged in full.
type Credential string

// Fingerprint returns a short stable identifier for the credential, safe to
// persist and log.
func (c Credential) Fingerprint() string {
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:])[:12]
}

// Redacted returns a loggable form of the credential.
func (c Credential) Redacted() string {
	s := string(c)
	if len(s) <= 6 {
		return "..."
	}
	return "..." + s[len(s)-4:]
}

// Pool is an ordered, immutable set of credentials. The rotation cursor is
// owned by the dispatcher, not the pool; the pool only computes indices.
type Pool struct {
	keys      []Credential
	randIndex func(n int) int
	validate  func(Credential) bool
	logger    *slog.Logger
}

// Option configures pool construction.
type Option func(*Pool)

// WithRandIndex injects the random-start source. Tests use this to make
// PickStart deterministic.
func WithRandIndex(f func(n int) int) Option {
	return func(p *Pool) { p.randIndex = f }
}

// WithValidator sets a shape check for credentials. Keys that fail the check
// are still accepted, with a warning.
func WithValidator(f func(Credential) bool) Option {
	return func(p *Pool) { p.validate = f }
}

// WithLogger sets the logger used for load-time warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// Load parses a delimiter-separated credential list, trimming whitespace and
// deduplicating while preserving order. An empty result is not an error here;
// callers that require credentials check Size at first use.
func Load(raw string, opts ...Option) *Pool {
	p := &Pool{
		randIndex: rand.IntN,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[Credential]struct{})
	for _, part := range strings.Split(raw, Delimiter) {
		key := Credential(strings.TrimSpace(part))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if p.validate != nil && !p.validate(key) {
			p.logger.Warn("credential does not match the expected shape for this provider",
				"credential", key.Redacted())
		}
		p.keys = append(p.keys, key)
	}
	return p
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}

// At returns the credential at index i.
func (p *Pool) At(i int) Credential {
	return p.keys[i]
}

// PickStart returns a uniformly random starting index and its credential.
// The pool is rebuilt on every process run, so random starts spread load
// across credentials over many invocations.
func (p *Pool) PickStart() (int, Credential) {
	i := p.randIndex(len(p.keys))
	return i, p.keys[i]
}

// StartAt returns the index of the credential matching the given fingerprint,
// if present. Used to bias the starting credential toward the last one that
// succeeded for a conversation.
func (p *Pool) StartAt(fingerprint string) (int, Credential, bool) {
	if fingerprint == "" {
		return 0, "", false
	}
	for i, key := range p.keys {
		if key.Fingerprint() == fingerprint {
			return i, key, true
		}
	}
	return 0, "", false
}

// Next advances the rotation cursor circularly.
func (p *Pool) Next(i int) int {
	return (i + 1) % len(p.keys)
}
