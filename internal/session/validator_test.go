package session

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
)

func testKey(t *testing.T) *secret.Buffer {
	t.Helper()
	key, err := secret.NewFromString("sk-validator")
	if err != nil {
		t.Fatalf("secret.NewFromString failed: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func validConfig(key *secret.Buffer) SessionConfig {
	return SessionConfig{
		APIKey:       key,
		ProjectPath:  "/srv/workspaces/ws-1/p-1",
		Task:         "implement login",
		MaxTokens:    4096,
		Timeout:      5 * time.Second,
		OutputFormat: OutputStream,
		Model:        "claude-sonnet-4-5",
	}
}

func hasFieldError(errs []string, field string) bool {
	for _, e := range errs {
		if strings.HasPrefix(e, field+":") {
			return true
		}
	}
	return false
}

func TestValidate(t *testing.T) {
	key := testKey(t)
	empty, _ := secret.New(1)
	empty.Close()

	tests := []struct {
		name   string
		mutate func(*SessionConfig)
		fields []string
	}{
		{"valid", func(*SessionConfig) {}, nil},
		{"empty output format defaults", func(c *SessionConfig) { c.OutputFormat = "" }, nil},
		{"batch output", func(c *SessionConfig) { c.OutputFormat = OutputBatch }, nil},
		{"missing api key", func(c *SessionConfig) { c.APIKey = nil }, []string{"apiKey"}},
		{"closed api key", func(c *SessionConfig) { c.APIKey = empty }, []string{"apiKey"}},
		{"empty project path", func(c *SessionConfig) { c.ProjectPath = "" }, []string{"projectPath"}},
		{"blank task", func(c *SessionConfig) { c.Task = "   " }, []string{"task"}},
		{"zero max tokens", func(c *SessionConfig) { c.MaxTokens = 0 }, []string{"maxTokens"}},
		{"negative timeout", func(c *SessionConfig) { c.Timeout = -time.Second }, []string{"timeout"}},
		{"unknown output format", func(c *SessionConfig) { c.OutputFormat = "xml" }, []string{"outputFormat"}},
		{
			"everything wrong",
			func(c *SessionConfig) { *c = SessionConfig{OutputFormat: "xml"} },
			[]string{"apiKey", "projectPath", "task", "maxTokens", "timeout", "outputFormat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(key)
			tt.mutate(&cfg)

			res := Validate(cfg)
			if res.Valid != (len(tt.fields) == 0) {
				t.Fatalf("Expected valid=%v, got %+v", len(tt.fields) == 0, res)
			}
			if len(res.Errors) != len(tt.fields) {
				t.Errorf("Expected %d errors, got %v", len(tt.fields), res.Errors)
			}
			for _, f := range tt.fields {
				if !hasFieldError(res.Errors, f) {
					t.Errorf("Expected an error naming %s, got %v", f, res.Errors)
				}
			}
		})
	}
}

func TestValidationResult_Err(t *testing.T) {
	if err := (ValidationResult{Valid: true}).Err("op"); err != nil {
		t.Errorf("Expected nil error for a valid result, got %v", err)
	}
	err := ValidationResult{Errors: []string{"task: must not be empty"}}.Err("op")
	if !orcherr.Is(err, orcherr.KindConfigInvalid) {
		t.Errorf("Expected ConfigInvalid, got %v", err)
	}
}

func TestValidateRequest(t *testing.T) {
	req := SpawnRequest{
		WorkspaceID: "ws-1",
		ProjectID:   "p-1",
		Provider:    credential.ProviderOpenAI,
		Task:        "fix tests",
		MaxTokens:   1000,
		Timeout:     time.Minute,
	}
	if res := ValidateRequest(req, nil); !res.Valid {
		t.Fatalf("Expected valid request, got %v", res.Errors)
	}

	onlyLocal := func(p credential.Provider) bool { return p == "local" }
	req.Provider = "local"
	if res := ValidateRequest(req, onlyLocal); !res.Valid {
		t.Errorf("Expected configured custom provider to pass, got %v", res.Errors)
	}
	req.Provider = credential.ProviderOpenAI
	if res := ValidateRequest(req, onlyLocal); !hasFieldError(res.Errors, "provider") {
		t.Errorf("Expected unconfigured provider to fail, got %v", res.Errors)
	}

	res := ValidateRequest(SpawnRequest{Provider: "mistral", OutputFormat: "yaml"}, nil)
	for _, f := range []string{"workspaceId", "projectId", "provider", "task", "maxTokens", "timeout", "outputFormat"} {
		if !hasFieldError(res.Errors, f) {
			t.Errorf("Expected an error naming %s, got %v", f, res.Errors)
		}
	}
}

// invalidation describes one way to break a field
type invalidation struct {
	field string
	apply func(*SessionConfig)
}

var invalidations = []invalidation{
	{"apiKey", func(c *SessionConfig) { c.APIKey = nil }},
	{"projectPath", func(c *SessionConfig) { c.ProjectPath = "" }},
	{"task", func(c *SessionConfig) { c.Task = "" }},
	{"maxTokens", func(c *SessionConfig) { c.MaxTokens = -c.MaxTokens }},
	{"timeout", func(c *SessionConfig) { c.Timeout = 0 }},
	{"outputFormat", func(c *SessionConfig) { c.OutputFormat = "csv" }},
}

func TestValidate_Properties(t *testing.T) {
	key := testKey(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genConfig := gopter.CombineGens(
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.IntRange(1, 200000),
		gen.Int64Range(1, 3600000),
		gen.OneConstOf(OutputStream, OutputBatch, OutputFormat("")),
	).Map(func(v []interface{}) SessionConfig {
		return SessionConfig{
			APIKey:       key,
			ProjectPath:  "/work/" + v[0].(string),
			Task:         v[1].(string),
			MaxTokens:    v[2].(int),
			Timeout:      time.Duration(v[3].(int64)) * time.Millisecond,
			OutputFormat: v[4].(OutputFormat),
		}
	})

	properties.Property("valid configs produce no errors", prop.ForAll(
		func(cfg SessionConfig) bool {
			res := Validate(cfg)
			return res.Valid && len(res.Errors) == 0
		},
		genConfig,
	))

	properties.Property("each broken field is named and violations accumulate", prop.ForAll(
		func(cfg SessionConfig, mask uint8) bool {
			want := 0
			for i, inv := range invalidations {
				if mask&(1<<i) != 0 {
					inv.apply(&cfg)
					want++
				}
			}
			res := Validate(cfg)
			if len(res.Errors) != want || res.Valid != (want == 0) {
				return false
			}
			for i, inv := range invalidations {
				if mask&(1<<i) != 0 && !hasFieldError(res.Errors, inv.field) {
					return false
				}
			}
			return true
		},
		genConfig,
		gen.UInt8Range(0, 63),
	))

	properties.TestingRun(t)
}
