// Package agefile is a credential vault backed by an age-encrypted YAML file.
//
// The file is decrypted in memory on every lookup so rotated keys are picked
// up without a restart. Plaintext never touches disk.
//
//	workspaces:
//	  ws-1:
//	    anthropic:
//	      - key: sk-ant-...
//	        active: true
package agefile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
)

// Entry is one stored key. Only one entry per provider should be active.
type Entry struct {
	Key    string `yaml:"key"`
	Active bool   `yaml:"active"`
	Label  string `yaml:"label,omitempty"`
}

// Keys is the plaintext document layout
type Keys struct {
	Workspaces map[string]map[credential.Provider][]Entry `yaml:"workspaces"`
}

// Vault reads keys from an encrypted file
type Vault struct {
	path       string
	identities []age.Identity
}

// Open loads the age identities from identityPath and returns a vault over
// the encrypted key file at path. The key file itself is read lazily.
func Open(path, identityPath string) (*Vault, error) {
	f, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", identityPath, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	return &Vault{path: path, identities: identities}, nil
}

// GetActiveKeyForProvider implements credential.Vault
func (v *Vault) GetActiveKeyForProvider(ctx context.Context, workspaceID string, provider credential.Provider) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	keys, err := v.load()
	if err != nil {
		return "", false, err
	}
	for _, e := range keys.Workspaces[workspaceID][provider] {
		if e.Active && e.Key != "" {
			return e.Key, true, nil
		}
	}
	return "", false, nil
}

func (v *Vault) load() (*Keys, error) {
	f, err := os.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("opening key file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var src io.Reader = br
	if head, _ := br.Peek(len(armor.Header)); string(head) == armor.Header {
		src = armor.NewReader(br)
	}

	r, err := age.Decrypt(src, v.identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting key file: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	defer zero(plaintext)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var keys Keys
	if err := yaml.Unmarshal(plaintext, &keys); err != nil {
		// yaml errors can quote document content
		return nil, fmt.Errorf("key file is not valid YAML")
	}
	return &keys, nil
}

// Seal encrypts keys to the given age recipients (age1... strings). With
// armored set the output is PEM-style text.
func Seal(keys *Keys, recipients []string, armored bool) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, s := range recipients {
		r, err := age.ParseX25519Recipient(s)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", s, err)
		}
		parsed = append(parsed, r)
	}

	plaintext, err := yaml.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("encoding keys: %w", err)
	}
	defer zero(plaintext)

	var out bytes.Buffer
	var dst io.Writer = &out
	var aw io.WriteCloser
	if armored {
		aw = armor.NewWriter(&out)
		dst = aw
	}
	w, err := age.Encrypt(dst, parsed...)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting keys: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if aw != nil {
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("finalizing armor: %w", err)
		}
	}
	return out.Bytes(), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
