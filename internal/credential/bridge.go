// Package credential bridges per-tenant provider keys from the vault into a
// spawning session. Keys live only in locked memory for the duration of spawn
// setup and are never logged or persisted.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
)

// Vault is the external credential store
type Vault interface {
	// GetActiveKeyForProvider returns the plaintext active key, or found=false
	// when the workspace has no active key for the provider.
	GetActiveKeyForProvider(ctx context.Context, workspaceID string, provider Provider) (key string, found bool, err error)
}

// Options configures a Bridge
type Options struct {
	FetchTimeout   time.Duration
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration
	BaseURLs       map[Provider]string
	Providers      map[Provider]ProviderSpec
}

// DefaultOptions returns bridge options using the default timings and providers
func DefaultOptions() Options {
	return Options{
		FetchTimeout:   config.DefaultCredentialFetchTimeout,
		VerifyTimeout:  config.DefaultVerifyTimeout,
		VerifyInterval: config.DefaultVerifyInterval,
		Providers:      DefaultProviders(),
	}
}

// Bridge fetches and verifies provider keys
type Bridge struct {
	vault     Vault
	providers map[Provider]ProviderSpec
	baseURLs  map[Provider]string
	fetchTO   time.Duration
	verifyTO  time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewBridge creates a bridge over vault
func NewBridge(vault Vault, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaults.VerifyTimeout
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = defaults.VerifyInterval
	}
	if opts.Providers == nil {
		opts.Providers = defaults.Providers
	}
	return &Bridge{
		vault:     vault,
		providers: opts.Providers,
		baseURLs:  opts.BaseURLs,
		fetchTO:   opts.FetchTimeout,
		verifyTO:  opts.VerifyTimeout,
		limiter:   rate.NewLimiter(rate.Every(opts.VerifyInterval), 1),
		logger:    logger,
	}
}

// EnvVar returns the environment variable the provider's key is injected under
func (b *Bridge) EnvVar(p Provider) (string, error) {
	spec, ok := b.providers[p]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", p)
	}
	return spec.EnvVar, nil
}

type fetchResult struct {
	key   string
	found bool
	err   error
}

// FetchKey loads the active key for the workspace into a locked buffer. The
// caller owns the buffer and must Close it once the key has been handed to
// the child process. The vault call is bounded by the fetch timeout even if
// the vault ignores its context.
func (b *Bridge) FetchKey(ctx context.Context, workspaceID string, p Provider) (*secret.Buffer, error) {
	if _, ok := b.providers[p]; !ok {
		return nil, orcherr.CredentialsMissing(workspaceID, string(p), fmt.Errorf("unsupported provider"))
	}

	ctx, cancel := context.WithTimeout(ctx, b.fetchTO)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("vault panicked: %v", r)}
			}
		}()
		key, found, err := b.vault.GetActiveKeyForProvider(ctx, workspaceID, p)
		done <- fetchResult{key: key, found: found, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = fetchResult{err: fmt.Errorf("vault lookup: %w", ctx.Err())}
	}

	if res.err != nil {
		b.logger.Warn("credential fetch failed",
			"workspace_id", workspaceID,
			"provider", string(p),
			"error", res.err,
		)
		return nil, orcherr.CredentialsMissing(workspaceID, string(p), res.err)
	}
	if !res.found || res.key == "" {
		b.logger.Info("no active credential",
			"workspace_id", workspaceID,
			"provider", string(p),
		)
		return nil, orcherr.CredentialsMissing(workspaceID, string(p), nil)
	}

	buf, err := secret.NewFromString(res.key)
	if err != nil {
		return nil, orcherr.CredentialsMissing(workspaceID, string(p), err)
	}
	b.logger.Debug("credential fetched",
		"workspace_id", workspaceID,
		"provider", string(p),
		"locked", buf.Locked(),
	)
	return buf, nil
}

// Verify checks a key with one upstream call. Any error, timeout or panic
// counts as invalid; Verify never fails otherwise.
func (b *Bridge) Verify(ctx context.Context, p Provider, key *secret.Buffer) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("credential verification panicked", "provider", string(p), "panic", r)
			ok = false
		}
	}()

	spec, known := b.providers[p]
	if !known || spec.NewVerifier == nil || key == nil || key.Len() == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.verifyTO)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		b.logger.Warn("credential verification throttled", "provider", string(p), "error", err)
		return false
	}

	if err := spec.NewVerifier(key.Reveal(), b.baseURLs[p]).Check(ctx); err != nil {
		b.logger.Info("credential verification failed",
			"provider", string(p),
			"error", redactErr(err),
		)
		return false
	}
	return true
}

// redactErr keeps only the error class. Provider SDK errors can echo request
// headers.
func redactErr(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return fmt.Sprintf("%T", err)
	}
}
