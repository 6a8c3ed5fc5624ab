package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ConnectionConfig satisfies the go-persistence-bun config contract for the
// two dialects the migration tree ships.
type ConnectionConfig struct {
	Driver         string
	Server         string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ConnectionConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectionConfig) GetDriver() string {
	return c.Driver
}

func (c ConnectionConfig) GetServer() string {
	return c.Server
}

func (c ConnectionConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ConnectionConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-connectors"
	}
	return c.OtelIdentifier
}

// OpenClient opens a persistence client for the configured driver. Callers
// still register and run migrations themselves; see the migrations package.
func OpenClient(cfg ConnectionConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	server := strings.TrimSpace(cfg.Server)
	if server == "" {
		return nil, fmt.Errorf("sqlstore: connection server is required")
	}

	switch driver {
	case DriverPostgres:
		sqlDB, err := sql.Open("postgres", server)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		client, err := persistence.New(cfg, sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	case DriverSQLite, "sqlite":
		sqlDB, err := sql.Open("sqlite3", server)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
}
