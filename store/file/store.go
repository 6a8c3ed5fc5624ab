package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	credentialFileExtension = ".credential.json"
	credentialFileMode      = 0o600
	credentialDirMode       = 0o700
)

// Store persists one file per (service, user) credential under Dir. Payloads
// go through the codec and, when a SecretProvider is configured, are encrypted
// before hitting disk. Writes are atomic via tmp-file rename.
type Store struct {
	dir     string
	codec   core.CredentialCodec
	secrets core.SecretProvider
}

type Option func(*Store)

func WithCodec(codec core.CredentialCodec) Option {
	return func(s *Store) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithSecretProvider(secrets core.SecretProvider) Option {
	return func(s *Store) {
		s.secrets = secrets
	}
}

func New(dir string, options ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("filestore: directory is required")
	}
	store := &Store{
		dir:   dir,
		codec: core.JSONCredentialCodec{},
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	if err := os.MkdirAll(dir, credentialDirMode); err != nil {
		return nil, fmt.Errorf("filestore: creating directory %q: %w", dir, err)
	}
	return store, nil
}

type fileEnvelope struct {
	Format    string `json:"format"`
	Version   int    `json:"version"`
	Encrypted bool   `json:"encrypted"`
	Payload   []byte `json:"payload"`
}

func (s *Store) Get(ctx context.Context, service, user string) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	path, err := s.credentialPath(service, user)
	if err != nil {
		return core.Credential{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, fmt.Errorf("filestore: reading %q: %w", path, err)
	}

	envelope := fileEnvelope{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return core.Credential{}, fmt.Errorf("filestore: decoding envelope %q: %w", path, err)
	}
	if envelope.Format != s.codec.Format() || envelope.Version != s.codec.Version() {
		return core.Credential{}, fmt.Errorf(
			"filestore: unsupported payload format %s v%d in %q",
			envelope.Format, envelope.Version, path,
		)
	}

	payload := envelope.Payload
	if envelope.Encrypted {
		if s.secrets == nil {
			return core.Credential{}, fmt.Errorf("filestore: %q is encrypted but no secret provider is configured", path)
		}
		payload, err = s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return core.Credential{}, fmt.Errorf("filestore: decrypting %q: %w", path, err)
		}
	}
	return s.codec.Decode(payload)
}

func (s *Store) Put(ctx context.Context, credential core.Credential) error {
	if s == nil {
		return fmt.Errorf("filestore: store is not configured")
	}
	if err := credential.Validate(); err != nil {
		return err
	}
	path, err := s.credentialPath(credential.Service, credential.UserID)
	if err != nil {
		return err
	}

	payload, err := s.codec.Encode(credential)
	if err != nil {
		return err
	}
	encrypted := false
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return fmt.Errorf("filestore: encrypting credential payload: %w", err)
		}
		encrypted = true
	}

	raw, err := json.Marshal(fileEnvelope{
		Format:    s.codec.Format(),
		Version:   s.codec.Version(),
		Encrypted: encrypted,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("filestore: encoding envelope: %w", err)
	}
	return writeFileAtomic(path, raw)
}

func (s *Store) Delete(_ context.Context, service, user string) error {
	if s == nil {
		return fmt.Errorf("filestore: store is not configured")
	}
	path, err := s.credentialPath(service, user)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.ErrCredentialNotFound
		}
		return fmt.Errorf("filestore: removing %q: %w", path, err)
	}
	return nil
}

func (s *Store) credentialPath(service, user string) (string, error) {
	service = strings.TrimSpace(strings.ToLower(service))
	user = strings.TrimSpace(user)
	if service == "" {
		return "", fmt.Errorf("filestore: service is required")
	}
	if user == "" {
		return "", fmt.Errorf("filestore: user is required")
	}
	name := url.PathEscape(service) + "__" + url.PathEscape(user) + credentialFileExtension
	return filepath.Join(s.dir, name), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credential-*")
	if err != nil {
		return fmt.Errorf("filestore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: writing temp file: %w", err)
	}
	if err := tmp.Chmod(credentialFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: setting file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filestore: replacing %q: %w", path, err)
	}
	return nil
}

var _ core.CredentialStore = (*Store)(nil)
