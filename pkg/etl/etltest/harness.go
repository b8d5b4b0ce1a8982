package etltest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/lake"
	"github.com/malbeclabs/playlake/pkg/schema"
	"github.com/malbeclabs/playlake/pkg/storage"
)

// Harness is an in-memory session with local input and output roots.
type Harness struct {
	Session *duck.Session
	Store   *storage.Store
	Writer  *lake.Writer

	InputDir  string
	InputURI  string
	OutputURI string
}

func NewHarness(t testing.TB) *Harness {
	t.Helper()

	log := Logger()

	session, err := duck.NewSession(context.Background(), log, duck.SessionConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	store, err := storage.New(storage.Config{Logger: log})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	writer, err := lake.New(lake.Config{Logger: log, Conn: session, Storage: store})
	require.NoError(t, err)

	inputDir := t.TempDir()
	return &Harness{
		Session:   session,
		Store:     store,
		Writer:    writer,
		InputDir:  inputDir,
		InputURI:  "file://" + inputDir,
		OutputURI: "file://" + t.TempDir(),
	}
}

// Rows returns every row of query with its columns joined by "|", sorted, for order-independent
// comparison. NULL renders as "NULL" and timestamps as RFC 3339 in UTC.
func (h *Harness) Rows(t testing.TB, query string) []string {
	t.Helper()

	rows, err := h.Session.QueryContext(context.Background(), query)
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		require.NoError(t, rows.Scan(ptrs...))

		fields := make([]string, len(values))
		for i, v := range values {
			switch v := v.(type) {
			case nil:
				fields[i] = "NULL"
			case time.Time:
				fields[i] = v.UTC().Format(time.RFC3339)
			default:
				fields[i] = fmt.Sprint(v)
			}
		}
		out = append(out, strings.Join(fields, "|"))
	}
	require.NoError(t, rows.Err())
	sort.Strings(out)
	return out
}

// Count returns the row count of relation.
func (h *Harness) Count(t testing.TB, relation string) int64 {
	t.Helper()

	n, err := h.Writer.Count(context.Background(), relation)
	require.NoError(t, err)
	return n
}

// Read returns the relation expression for a persisted table.
func (h *Harness) Read(t testing.TB, table schema.TableInfo) string {
	t.Helper()

	relation, err := lake.ReadSQL(table, lake.Location(h.OutputURI, table))
	require.NoError(t, err)
	return relation
}
