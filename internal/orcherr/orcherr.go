// Package orcherr provides the typed error taxonomy for the session orchestrator.
// Every synchronous failure returned by a spawn attempt carries a Kind so that
// callers at the API boundary can map it to a status without string matching.
package orcherr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Op describes an operation, usually as "package.Function".
type Op string

// Kind categorizes the failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigInvalid
	KindWorkspacePreparationFailed
	KindWorkspaceInUse
	KindCredentialsMissing
	KindCredentialsInvalid
	KindGitSetupFailed
	KindProcessSpawnFailed
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindWorkspacePreparationFailed:
		return "WorkspacePreparationFailed"
	case KindWorkspaceInUse:
		return "WorkspaceInUse"
	case KindCredentialsMissing:
		return "CredentialsMissing"
	case KindCredentialsInvalid:
		return "CredentialsInvalid"
	case KindGitSetupFailed:
		return "GitSetupFailed"
	case KindProcessSpawnFailed:
		return "ProcessSpawnFailed"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the structured error type returned by orchestrator components.
type Error struct {
	Op      Op       // Operation that failed
	Kind    Kind     // Category of error
	Err     error    // Underlying error
	Context string   // Additional context
	Details []string // Accumulated problems (validation)
}

// Error returns the error message.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Context != "" {
		b.WriteString(": ")
		b.WriteString(e.Context)
	}
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - []string: accumulated details
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case []string:
			e.Details = append(e.Details, a...)
		case error:
			e.Err = a
		}
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of an error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// DetailsOf returns the accumulated details of an error, if any.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// HTTPStatus maps a Kind to the status an HTTP-style boundary should report.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfigInvalid:
		return http.StatusBadRequest
	case KindWorkspaceInUse:
		return http.StatusConflict
	case KindCredentialsMissing, KindCredentialsInvalid:
		return http.StatusForbidden
	case KindGitSetupFailed:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ConfigInvalid reports every accumulated validation problem at once.
func ConfigInvalid(op Op, problems []string) error {
	return E(op, KindConfigInvalid, problems)
}

// WorkspacePreparationFailed wraps a filesystem or path-safety failure.
func WorkspacePreparationFailed(op Op, context string, err error) error {
	return E(op, KindWorkspacePreparationFailed, context, err)
}

// WorkspaceInUse reports that a (workspace, project) pair already has a live session.
func WorkspaceInUse(workspaceID, projectID string) error {
	return E(Op("workspace.Prepare"), KindWorkspaceInUse,
		fmt.Sprintf("workspace %s/%s is held by another session", workspaceID, projectID))
}

// CredentialsMissing reports that no active key exists for the provider.
func CredentialsMissing(workspaceID, provider string, err error) error {
	return E(Op("credential.FetchKey"), KindCredentialsMissing,
		fmt.Sprintf("no active %s key for workspace %s", provider, workspaceID), err)
}

// CredentialsInvalid reports that the upstream provider rejected the key.
func CredentialsInvalid(workspaceID, provider string) error {
	return E(Op("credential.Verify"), KindCredentialsInvalid,
		fmt.Sprintf("%s key for workspace %s failed verification", provider, workspaceID))
}

// GitSetupFailed wraps a clone/init/config failure.
func GitSetupFailed(context string, err error) error {
	return E(Op("gitident.Setup"), KindGitSetupFailed, context, err)
}

// ProcessSpawnFailed wraps a failure to start the agent CLI.
func ProcessSpawnFailed(command string, err error) error {
	return E(Op("session.Spawn"), KindProcessSpawnFailed, fmt.Sprintf("failed to start %s", command), err)
}

// NotFound reports an unknown session.
func NotFound(sessionID string) error {
	return E(Op("session.Get"), KindNotFound, fmt.Sprintf("session %s not found", sessionID))
}
