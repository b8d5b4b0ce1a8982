// Package lake persists star-schema tables as hive-partitioned Parquet and reads them back.
package lake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/schema"
)

// Resetter clears a destination so a write fully replaces it.
type Resetter interface {
	Reset(ctx context.Context, uri string) error
}

type Config struct {
	Logger  *slog.Logger
	Conn    duck.Connection
	Storage Resetter
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Conn == nil {
		return fmt.Errorf("connection is required")
	}
	if cfg.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	return nil
}

type Writer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

type WriteResult struct {
	Table      string
	Location   string
	Rows       int64
	Partitions int64
}

// Location returns the destination of table under outputURI.
func Location(outputURI string, table schema.TableInfo) string {
	return duck.JoinURI(outputURI, table.Name+".parquet")
}

// Write materializes query into table's declared columns and types, then replaces everything at
// location with the result. Partitioned tables are laid out one directory per partition value,
// outermost column first.
func (w *Writer) Write(ctx context.Context, table schema.TableInfo, query string, location string) (*WriteResult, error) {
	writeStart := time.Now()

	path, err := duck.ResolvePath(location)
	if err != nil {
		return nil, err
	}

	stageTableName := fmt.Sprintf("%s_write_stage", table.Name)
	selectList := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		selectList = append(selectList, fmt.Sprintf("CAST(q.%s AS %s) AS %s", col.Name, col.Type, col.Name))
	}
	stageSQL := fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS SELECT %s FROM (%s) q",
		stageTableName, strings.Join(selectList, ", "), query)
	if _, err := w.cfg.Conn.ExecContext(ctx, stageSQL); err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", table.Name, err)
	}
	defer func() {
		if _, err := w.cfg.Conn.ExecContext(context.WithoutCancel(ctx), fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTableName)); err != nil {
			w.log.Error("failed to drop stage table", "table", table.Name, "error", err)
		}
	}()

	result := &WriteResult{
		Table:    table.Name,
		Location: location,
	}
	if err := w.cfg.Conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", stageTableName)).Scan(&result.Rows); err != nil {
		return nil, fmt.Errorf("failed to count %s rows: %w", table.Name, err)
	}
	if table.Partitioned() {
		partitionSQL := fmt.Sprintf("SELECT COUNT(*) FROM (SELECT DISTINCT %s FROM %s)", strings.Join(table.PartitionBy, ", "), stageTableName)
		if err := w.cfg.Conn.QueryRowContext(ctx, partitionSQL).Scan(&result.Partitions); err != nil {
			return nil, fmt.Errorf("failed to count %s partitions: %w", table.Name, err)
		}
	}

	if err := w.cfg.Storage.Reset(ctx, location); err != nil {
		return nil, fmt.Errorf("failed to reset %s destination: %w", table.Name, err)
	}

	var copySQL string
	if table.Partitioned() {
		copySQL = fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET, PARTITION_BY (%s), OVERWRITE_OR_IGNORE true)",
			stageTableName, duck.QuoteLiteral(path), strings.Join(table.PartitionBy, ", "))
	} else {
		copySQL = fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)",
			stageTableName, duck.QuoteLiteral(path+"/data_0.parquet"))
	}
	if _, err := w.cfg.Conn.ExecContext(ctx, copySQL); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", table.Name, err)
	}

	w.log.Debug("table written",
		"table", table.Name,
		"location", duck.RedactedStorageURI(location),
		"rows", result.Rows,
		"partitions", result.Partitions,
		"duration", time.Since(writeStart).String())

	return result, nil
}

// ReadSQL returns a relation expression that reads table back from location with its partition
// columns reconstituted from the directory layout.
func ReadSQL(table schema.TableInfo, location string) (string, error) {
	path, err := duck.ResolvePath(location)
	if err != nil {
		return "", err
	}
	if !table.Partitioned() {
		return fmt.Sprintf("read_parquet(%s, hive_partitioning = false)", duck.QuoteLiteral(path+"/*.parquet")), nil
	}
	hiveTypes, err := table.HiveTypes()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("read_parquet(%s, hive_partitioning = true, hive_types = %s)",
		duck.QuoteLiteral(path+"/**/*.parquet"), hiveTypes), nil
}

// Count returns the number of rows in relation.
func (w *Writer) Count(ctx context.Context, relation string) (int64, error) {
	var n int64
	if err := w.cfg.Conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", relation)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}
