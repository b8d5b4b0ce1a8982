package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
)

// Connection is the subset of *sql.Conn the pipeline stages depend on.
type Connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SessionConfig configures the compute session.
type SessionConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string
	// S3 enables the httpfs and aws extensions and creates an S3 secret. Nil means local-only.
	S3 *S3Config
	// Threads caps engine parallelism. Zero leaves the engine default.
	Threads int
	// MemoryLimit is passed through to the engine setting (e.g. "4GB"). Empty leaves the default.
	MemoryLimit string
}

// Session is a single DuckDB engine handle with one pinned connection. Temporary relations and
// registered scalar functions live on that connection, so every stage of a run must share it.
type Session struct {
	log  *slog.Logger
	db   *sql.DB
	conn *sql.Conn
}

// NewSession opens the engine and configures storage access. Any failure is fatal for the run;
// there is no retry.
func NewSession(ctx context.Context, log *slog.Logger, cfg SessionConfig) (*Session, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	s := &Session{
		log:  log,
		db:   db,
		conn: conn,
	}

	if err := s.configure(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) configure(ctx context.Context, cfg SessionConfig) error {
	if cfg.Threads > 0 {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET threads = %d", cfg.Threads)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	if cfg.MemoryLimit != "" {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET memory_limit = '%s'", escapeLiteral(cfg.MemoryLimit))); err != nil {
			return fmt.Errorf("failed to set memory limit: %w", err)
		}
	}

	if cfg.S3 == nil {
		return nil
	}

	for _, ext := range []string{"httpfs", "aws"} {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("INSTALL '%s'", ext)); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("LOAD '%s'", ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	if _, err := s.conn.ExecContext(ctx, s3SecretSQL(cfg.S3)); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}
	s.log.Info("configured S3 storage", "endpoint", cfg.S3.Endpoint, "region", cfg.S3.Region)

	return nil
}

// s3SecretSQL builds the CREATE SECRET statement for the engine's S3 access. Without explicit
// credentials the default AWS credential chain is used.
func s3SecretSQL(cfg *S3Config) string {
	secretSQL := "CREATE SECRET IF NOT EXISTS s3_secret (TYPE s3"
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		secretSQL += fmt.Sprintf(", KEY_ID '%s'", escapeLiteral(cfg.AccessKeyID))
		secretSQL += fmt.Sprintf(", SECRET '%s'", escapeLiteral(cfg.SecretAccessKey))
	} else {
		secretSQL += ", PROVIDER credential_chain"
	}
	if cfg.Endpoint != "" {
		// The secret wants host:port, not a URL.
		endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secretSQL += fmt.Sprintf(", ENDPOINT '%s'", escapeLiteral(endpoint))
	}
	if cfg.Region != "" {
		secretSQL += fmt.Sprintf(", REGION '%s'", escapeLiteral(cfg.Region))
	}

	urlStyle := cfg.URLStyle
	if urlStyle == "" {
		urlStyle = "path"
	}
	useSSL := cfg.UseSSL
	if cfg.IsMinIO() {
		useSSL = false
	} else if cfg.Endpoint == "" {
		useSSL = true
	}

	secretSQL += fmt.Sprintf(", URL_STYLE '%s'", escapeLiteral(urlStyle))
	secretSQL += fmt.Sprintf(", USE_SSL %t", useSSL)
	secretSQL += ")"
	return secretSQL
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// RegisterScalarFunc registers fn under name on the session connection.
func (s *Session) RegisterScalarFunc(name string, fn duckdb.ScalarFunc) error {
	if err := duckdb.RegisterScalarUDF(s.conn, name, fn); err != nil {
		return fmt.Errorf("failed to register scalar function %s: %w", name, err)
	}
	return nil
}

// Close releases the session. It is called once, after all processing completes.
func (s *Session) Close() error {
	var firstErr error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close connection: %w", err)
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}
	return firstErr
}

// escapeLiteral escapes a value for use inside a single-quoted SQL string.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteLiteral returns s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + escapeLiteral(s) + "'"
}
