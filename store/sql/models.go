package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	credentialStatusActive  = "active"
	credentialStatusRevoked = "revoked"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:connector_credentials,alias:cc"`

	ID               string     `bun:"id,pk"`
	Service          string     `bun:"service,notnull"`
	UserID           string     `bun:"user_id,notnull"`
	Version          int        `bun:"version,notnull"`
	Kind             string     `bun:"kind,notnull"`
	Payload          []byte     `bun:"payload,notnull"`
	PayloadFormat    string     `bun:"payload_format,notnull"`
	PayloadVersion   int        `bun:"payload_version,notnull"`
	Scopes           []string   `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt        *time.Time `bun:"expires_at,nullzero"`
	Status           string     `bun:"status,notnull"`
	RevocationReason string     `bun:"revocation_reason,notnull"`
	EncryptionKeyID  string     `bun:"encryption_key_id,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:connector_rate_limit_state,alias:crl"`

	ID         string         `bun:"id,pk"`
	Service    string         `bun:"service,notnull"`
	UserID     string         `bun:"user_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func durationToSecondsPointer(input *time.Duration) *int {
	if input == nil || *input <= 0 {
		return nil
	}
	seconds := int(input.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return &seconds
}
