package schema

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/playlake/pkg/duck"
)

func TestSchema_Star_Tables(t *testing.T) {
	t.Parallel()

	want := map[string][]string{
		"songs":     {"year", "artist_id"},
		"artists":   nil,
		"users":     nil,
		"time":      {"year", "month"},
		"songplays": {"year", "month"},
	}
	require.Len(t, Star.Tables, len(want))
	for name, partitions := range want {
		table, ok := Star.Table(name)
		require.True(t, ok, name)
		require.Equal(t, partitions, table.PartitionBy, name)
		require.NotEmpty(t, table.Keys, name)
		for _, col := range table.Columns {
			require.NotEmpty(t, col.Description, "%s.%s", name, col.Name)
		}
	}

	_, ok := Star.Table("missing")
	require.False(t, ok)
}

func TestSchema_HiveTypes(t *testing.T) {
	t.Parallel()

	types, err := Songs.HiveTypes()
	require.NoError(t, err)
	require.Equal(t, "{'year': INTEGER, 'artist_id': VARCHAR}", types)

	types, err = Artists.HiveTypes()
	require.NoError(t, err)
	require.Equal(t, "{}", types)

	broken := TableInfo{Name: "broken", PartitionBy: []string{"nope"}}
	_, err = broken.HiveTypes()
	require.Error(t, err)
}

func TestSchema_ColumnList(t *testing.T) {
	t.Parallel()

	require.Equal(t, "song_id, title, artist_id, year, duration", Songs.ColumnList())
	require.True(t, Songs.Partitioned())
	require.False(t, Users.Partitioned())
}

func TestSchema_Validate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := duck.NewSession(ctx, log, duck.SessionConfig{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ExecContext(ctx, `CREATE TEMP TABLE good_users (
		user_id VARCHAR, first_name VARCHAR, last_name VARCHAR, gender VARCHAR, level VARCHAR
	)`)
	require.NoError(t, err)
	require.NoError(t, Validate(ctx, s, Users, "good_users"))

	_, err = s.ExecContext(ctx, `CREATE TEMP TABLE bad_users (
		user_id BIGINT, first_name VARCHAR, gender VARCHAR, level VARCHAR, extra VARCHAR
	)`)
	require.NoError(t, err)
	err = Validate(ctx, s, Users, "bad_users")
	require.Error(t, err)
	require.Contains(t, err.Error(), "column user_id: type BIGINT, want VARCHAR")
	require.Contains(t, err.Error(), "column last_name: declared but not present")
	require.Contains(t, err.Error(), "column extra: present but not declared")
}
