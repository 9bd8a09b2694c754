package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/vault/agefile"
)

const version = "0.1.0"

// options are the flags shared by every subcommand
type options struct {
	configPath string
	debug      bool
	httpMode   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Spawn and supervise agent CLI sessions in isolated workspaces",
		Long: `orchestrator runs agent CLI processes for many tenants at once. Each
session gets its own workspace directory, a provider key bridged from the
vault, and a git identity, and is torn down on exit, timeout or request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and the gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), cfg.Debug))
		},
	}
	serve.Flags().BoolVar(&opts.httpMode, "http", false, "Enable HTTP/SSE transport instead of stdio")

	root.AddCommand(
		serve,
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "codegen-orchestrator v%s\n", version)
			},
		},
		&cobra.Command{
			Use:   "validate-config",
			Short: "Load the configuration and report every problem",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				fmt.Fprintf(cmd.OutOrStdout(), "workspace.base_path: %s\n", cfg.Workspace.BasePath)
				return nil
			},
		},
		newVaultSealCmd(),
	)
	return root
}

// loadConfig reads the file, applies flags, and rejects an invalid result
func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.debug {
		cfg.Debug = true
	}
	if opts.httpMode {
		cfg.Server.HTTPMode = true
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return cfg, fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return cfg, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// newVaultSealCmd encrypts a plaintext key document for the agefile vault
func newVaultSealCmd() *cobra.Command {
	var (
		in         string
		out        string
		recipients []string
		armored    bool
	)
	cmd := &cobra.Command{
		Use:   "vault-seal",
		Short: "Encrypt a YAML key document into an age vault file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" || out == "" {
				return errors.New("--in and --out are required")
			}
			data, err := os.ReadFile(in) //nolint:gosec // G304: operator-supplied path
			if err != nil {
				return fmt.Errorf("reading %s: %w", in, err)
			}
			var keys agefile.Keys
			err = yaml.Unmarshal(data, &keys)
			clear(data)
			if err != nil {
				return fmt.Errorf("%s is not a valid key document", in)
			}
			sealed, err := agefile.Seal(&keys, recipients, armored)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, sealed, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %d workspace(s) to %s\n", len(keys.Workspaces), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Plaintext YAML key document")
	cmd.Flags().StringVar(&out, "out", "", "Encrypted output file")
	cmd.Flags().StringSliceVar(&recipients, "recipient", nil, "age recipient (repeatable)")
	cmd.Flags().BoolVar(&armored, "armor", false, "Write ASCII-armored output")
	return cmd
}
