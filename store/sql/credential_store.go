package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-connectors/core"
)

// CredentialStore persists credentials as versioned rows; every Put revokes
// the prior active version and inserts the next one inside one transaction,
// so the version history doubles as a rotation audit trail. Reads resolve to
// the single active row per (service, user).
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	codec   core.CredentialCodec
	secrets core.SecretProvider
}

func (s *CredentialStore) Get(ctx context.Context, service, user string) (core.Credential, error) {
	if s == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	service = strings.TrimSpace(strings.ToLower(service))
	user = strings.TrimSpace(user)
	if service == "" || user == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: service and user are required")
	}

	record := &credentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.service = ?", service).
		Where("?TableAlias.user_id = ?", user).
		Where("?TableAlias.status = ?", credentialStatusActive).
		OrderExpr("?TableAlias.version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, err
	}
	return s.decodeRecord(ctx, record)
}

func (s *CredentialStore) Put(ctx context.Context, credential core.Credential) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	if err := credential.Validate(); err != nil {
		return err
	}

	payload, keyID, err := s.encodeCredential(ctx, credential)
	if err != nil {
		return err
	}
	service := strings.TrimSpace(strings.ToLower(credential.Service))
	user := strings.TrimSpace(credential.UserID)
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		nextVersion, versionErr := s.nextVersion(ctx, tx, service, user)
		if versionErr != nil {
			return versionErr
		}

		if _, updateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("status = ?", credentialStatusRevoked).
			Set("revocation_reason = ?", "rotated").
			Set("updated_at = ?", now).
			Where("service = ?", service).
			Where("user_id = ?", user).
			Where("status = ?", credentialStatusActive).
			Exec(ctx); updateErr != nil {
			return updateErr
		}

		record := &credentialRecord{
			ID:              uuid.NewString(),
			Service:         service,
			UserID:          user,
			Version:         nextVersion,
			Kind:            string(credential.Kind),
			Payload:         payload,
			PayloadFormat:   s.codec.Format(),
			PayloadVersion:  s.codec.Version(),
			Scopes:          core.NormalizeScopes(credential.Scopes),
			ExpiresAt:       copyTimePointer(credential.ExpiresAt),
			Status:          credentialStatusActive,
			EncryptionKeyID: keyID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
			return createErr
		}
		return nil
	})
}

func (s *CredentialStore) Delete(ctx context.Context, service, user string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	service = strings.TrimSpace(strings.ToLower(service))
	user = strings.TrimSpace(user)
	if service == "" || user == "" {
		return fmt.Errorf("sqlstore: service and user are required")
	}

	res, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("status = ?", credentialStatusRevoked).
		Set("revocation_reason = ?", "revoked").
		Set("updated_at = ?", time.Now().UTC()).
		Where("service = ?", service).
		Where("user_id = ?", user).
		Where("status = ?", credentialStatusActive).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

// VersionHistory returns all stored versions for a (service, user) pair,
// newest first, without decoding payloads.
func (s *CredentialStore) VersionHistory(ctx context.Context, service, user string) ([]CredentialVersion, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("service", "=", strings.TrimSpace(strings.ToLower(service))),
		repository.SelectBy("user_id", "=", strings.TrimSpace(user)),
		repository.OrderBy("version DESC"),
	)
	if err != nil {
		return nil, err
	}
	versions := make([]CredentialVersion, 0, len(records))
	for _, record := range records {
		versions = append(versions, CredentialVersion{
			ID:               record.ID,
			Version:          record.Version,
			Status:           record.Status,
			RevocationReason: record.RevocationReason,
			CreatedAt:        record.CreatedAt,
			UpdatedAt:        record.UpdatedAt,
		})
	}
	return versions, nil
}

type CredentialVersion struct {
	ID               string
	Version          int
	Status           string
	RevocationReason string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (s *CredentialStore) encodeCredential(ctx context.Context, credential core.Credential) ([]byte, string, error) {
	payload, err := s.codec.Encode(credential)
	if err != nil {
		return nil, "", err
	}
	if s.secrets == nil {
		return payload, "", nil
	}
	encrypted, err := s.secrets.Encrypt(ctx, payload)
	if err != nil {
		return nil, "", fmt.Errorf("sqlstore: encrypting credential payload: %w", err)
	}
	return encrypted, secretProviderKeyID(s.secrets), nil
}

func (s *CredentialStore) decodeRecord(ctx context.Context, record *credentialRecord) (core.Credential, error) {
	if record == nil {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	if record.PayloadFormat != s.codec.Format() || record.PayloadVersion != s.codec.Version() {
		return core.Credential{}, fmt.Errorf(
			"sqlstore: unsupported payload format %s v%d for credential %s",
			record.PayloadFormat, record.PayloadVersion, record.ID,
		)
	}
	payload := record.Payload
	if strings.TrimSpace(record.EncryptionKeyID) != "" {
		if s.secrets == nil {
			return core.Credential{}, fmt.Errorf("sqlstore: credential %s is encrypted but no secret provider is configured", record.ID)
		}
		decrypted, err := s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return core.Credential{}, fmt.Errorf("sqlstore: decrypting credential %s: %w", record.ID, err)
		}
		payload = decrypted
	}
	return s.codec.Decode(payload)
}

func (s *CredentialStore) nextVersion(ctx context.Context, tx bun.Tx, service, user string) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*credentialRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.service = ?", service).
		Where("?TableAlias.user_id = ?", user).
		Scan(ctx, &maxVersion); err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func secretProviderKeyID(secrets core.SecretProvider) string {
	if metadataProvider, ok := secrets.(interface{ Metadata() (string, int) }); ok {
		keyID, _ := metadataProvider.Metadata()
		if trimmed := strings.TrimSpace(keyID); trimmed != "" {
			return trimmed
		}
	}
	return "secret-provider"
}
