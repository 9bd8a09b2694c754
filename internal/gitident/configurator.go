// Package gitident prepares the repository inside a session workspace and
// stamps a repository-local commit identity so agent commits are
// distinguishable from human ones.
package gitident

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/orcherr"
	"github.com/AltairaLabs/codegen-orchestrator/internal/secret"
)

const agentIDPlaceholder = "{{agentId}}"

// Identity is a commit author
type Identity struct {
	Name  string
	Email string
}

// Options configures a Configurator
type Options struct {
	AuthorName  string
	AuthorEmail string
	Timeout     time.Duration
}

// Configurator clones or initializes repositories and sets author identity
type Configurator struct {
	runner  CommandRunner
	name    string
	email   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a configurator. Empty options fall back to the defaults in config.
func New(runner CommandRunner, opts Options, logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := config.Default().Git
	if opts.AuthorName == "" {
		opts.AuthorName = defaults.AuthorName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = defaults.AuthorEmail
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	return &Configurator{
		runner:  runner,
		name:    opts.AuthorName,
		email:   opts.AuthorEmail,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// IdentityFor renders the configured identity for an agent
func (c *Configurator) IdentityFor(agentID string) Identity {
	name := strings.TrimSpace(strings.ReplaceAll(c.name, agentIDPlaceholder, agentID))
	email := strings.ReplaceAll(c.email, agentIDPlaceholder, emailSafe(agentID))
	email = strings.ReplaceAll(email, "+@", "@")
	return Identity{Name: name, Email: email}
}

// Setup clones repoURL into root, or initializes an empty repository when
// repoURL is empty, then sets user.name and user.email in the repository's
// local config. token may be nil; when set it is sent as an HTTP header via
// the git child's environment and never reaches argv, the remote URL or
// .git/config.
func (c *Configurator) Setup(ctx context.Context, root, repoURL string, token *secret.Buffer, agentID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if repoURL != "" {
		if err := checkRepoURL(repoURL); err != nil {
			return orcherr.GitSetupFailed("invalid repository URL", err)
		}
		var env []string
		if token != nil && token.Len() > 0 {
			env = authEnv(token)
		}
		if _, err := c.runner.Run(ctx, root, env, "clone", "--quiet", "--", repoURL, "."); err != nil {
			return orcherr.GitSetupFailed("clone failed", err)
		}
		c.logger.Debug("repository cloned", "root", root, "authenticated", env != nil)
	} else if !hasGitDir(root) {
		if _, err := c.runner.Run(ctx, root, nil, "init", "--quiet"); err != nil {
			return orcherr.GitSetupFailed("init failed", err)
		}
		c.logger.Debug("repository initialized", "root", root)
	}

	id := c.IdentityFor(agentID)
	if _, err := c.runner.Run(ctx, root, nil, "config", "--local", "user.name", id.Name); err != nil {
		return orcherr.GitSetupFailed("setting user.name failed", err)
	}
	if _, err := c.runner.Run(ctx, root, nil, "config", "--local", "user.email", id.Email); err != nil {
		return orcherr.GitSetupFailed("setting user.email failed", err)
	}

	c.logger.Info("git identity configured",
		"root", root,
		"author_name", id.Name,
		"author_email", id.Email,
	)
	return nil
}

// authEnv passes the token as an extra HTTP header through git's
// environment-based config (git >= 2.31).
func authEnv(token *secret.Buffer) []string {
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token.Reveal()))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + basic,
	}
}

func checkRepoURL(raw string) error {
	if strings.HasPrefix(raw, "-") {
		return errors.New("repository URL must not start with '-'")
	}
	u, err := url.Parse(raw)
	if err != nil {
		// scp-style remotes (git@host:org/repo.git) do not parse as URLs
		if strings.Contains(raw, "@") && strings.Contains(raw, ":") {
			return nil
		}
		return fmt.Errorf("unparseable repository URL")
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return errors.New("repository URL must not embed credentials")
	}
	return nil
}

func hasGitDir(root string) bool {
	_, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil
}

func emailSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
