package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// Provider identifies an upstream model provider
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Verifier performs one cheap authenticated call against a provider
type Verifier interface {
	Check(ctx context.Context) error
}

// ProviderSpec describes how a provider's key reaches the agent process and
// how it is checked upstream.
type ProviderSpec struct {
	// EnvVar is the single environment variable the CLI reads the key from
	EnvVar string
	// NewVerifier builds a verifier for a key. baseURL is empty for the
	// provider's public endpoint.
	NewVerifier func(key, baseURL string) Verifier
}

// DefaultProviders returns the closed set of supported providers
func DefaultProviders() map[Provider]ProviderSpec {
	return map[Provider]ProviderSpec{
		ProviderAnthropic: {EnvVar: "ANTHROPIC_API_KEY", NewVerifier: newAnthropicVerifier},
		ProviderOpenAI:    {EnvVar: "OPENAI_API_KEY", NewVerifier: newOpenAIVerifier},
	}
}

// ParseProvider resolves a provider name, case-insensitively
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := DefaultProviders()[p]; !ok {
		return "", fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(ProviderNames(), ", "))
	}
	return p, nil
}

// ProviderNames lists the supported provider names in sorted order
func ProviderNames() []string {
	names := make([]string, 0, len(DefaultProviders()))
	for p := range DefaultProviders() {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// anthropicVerifier lists models, which costs no tokens
type anthropicVerifier struct {
	client anthropic.Client
}

func newAnthropicVerifier(key, baseURL string) Verifier {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(key),
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	return &anthropicVerifier{client: anthropic.NewClient(opts...)}
}

func (v *anthropicVerifier) Check(ctx context.Context) error {
	_, err := v.client.Models.List(ctx, anthropic.ModelListParams{})
	return err
}

type openAIVerifier struct {
	client openai.Client
}

func newOpenAIVerifier(key, baseURL string) Verifier {
	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(key),
		openaiopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &openAIVerifier{client: openai.NewClient(opts...)}
}

func (v *openAIVerifier) Check(ctx context.Context) error {
	_, err := v.client.Models.List(ctx)
	return err
}
