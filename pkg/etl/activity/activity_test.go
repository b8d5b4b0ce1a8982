package activity

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/playlake/pkg/etl/etltest"
	"github.com/malbeclabs/playlake/pkg/schema"
)

func newHarness(t *testing.T) (*etltest.Harness, Config) {
	t.Helper()
	h := etltest.NewHarness(t)
	require.NoError(t, RegisterFunctions(h.Session))
	return h, Config{
		Logger: etltest.Logger(),
		Conn:   h.Session,
		Writer: h.Writer,
	}
}

var newYear = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestActivity_Process_FiltersToPlays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)

	etltest.WriteEvents(t, h.InputDir, 2024, 1, "2024-01-01-events.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
		etltest.Navigate("2", "Home", newYear.Add(time.Hour)),
		etltest.Navigate("3", "Logout", newYear.Add(2*time.Hour)),
	)

	res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	defer res.Release(ctx)

	require.Equal(t, int64(3), res.Events)
	require.Equal(t, int64(1), res.Plays)
	require.Equal(t, int64(1), res.Users.Rows)
	require.Equal(t, int64(1), res.Time.Rows)

	require.Equal(t, []string{"1|Jo|Doe|F|free"},
		h.Rows(t, "SELECT user_id, first_name, last_name, gender, level FROM "+h.Read(t, schema.Users)))
	require.Equal(t, int64(0), h.Count(t, "(SELECT * FROM "+res.StagingEvents+" WHERE page <> 'NextSong')"))
	require.Equal(t, int64(0), h.Count(t, "(SELECT * FROM "+res.TimeDim+" WHERE hour <> 0)"))
}

func TestActivity_Process_DerivesTimeFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)

	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)
	etltest.WriteEvents(t, h.InputDir, 2021, 1, "b.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, time.Date(2021, 1, 3, 17, 30, 5, 0, time.UTC)),
	)
	etltest.WriteEvents(t, h.InputDir, 2018, 11, "c.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, time.Date(2018, 11, 15, 23, 59, 59, 0, time.UTC)),
	)

	res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	defer res.Release(ctx)

	require.Equal(t, int64(3), res.Time.Partitions)

	timeRel := h.Read(t, schema.Time)
	require.NoError(t, schema.Validate(ctx, h.Session, schema.Time, timeRel))

	want := []string{
		"2018-11-15T23:59:59Z|23|15|46|11|2018|Thursday",
		"2021-01-03T17:30:05Z|17|3|53|1|2021|Sunday",
		"2024-01-01T00:00:00Z|0|1|1|1|2024|Monday",
	}
	got := h.Rows(t, "SELECT start_time, hour, day, week, month, year, weekday FROM "+timeRel)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("time rows (-want +got):\n%s", diff)
	}
}

func TestActivity_Process_StartTimeDropsMilliseconds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)

	noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, noon.Add(100*time.Millisecond)),
		etltest.Play("1", "free", "Song A", "Band X", 200.0, noon.Add(900*time.Millisecond)),
	)

	res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	defer res.Release(ctx)

	require.Equal(t, int64(2), res.Plays)
	require.Equal(t, int64(1), res.Time.Rows)
	require.Equal(t, []string{"2024-01-01T12:00:00Z", "2024-01-01T12:00:00Z"},
		h.Rows(t, "SELECT start_time FROM "+res.StagingEvents))
}

func TestActivity_Process_KeepsEveryLevelPerUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)

	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear.Add(time.Minute)),
		etltest.Play("1", "paid", "Song A", "Band X", 200.0, newYear.Add(time.Hour)),
	)

	res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	defer res.Release(ctx)

	require.Equal(t, []string{"1|free", "1|paid"},
		h.Rows(t, "SELECT user_id, level FROM "+h.Read(t, schema.Users)))
}

func TestActivity_Process_DeduplicationIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	play := etltest.Play("7", "paid", "Song A", "Band X", 200.0, newYear)

	run := func(copies int) *Result {
		h, cfg := newHarness(t)
		events := make([]etltest.Event, copies)
		for i := range events {
			events[i] = play
		}
		etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json", events...)
		res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
		require.NoError(t, err)
		require.NoError(t, res.Release(ctx))
		return res
	}

	once, many := run(1), run(5)
	require.Equal(t, int64(5), many.Plays)
	require.Equal(t, once.Users.Rows, many.Users.Rows)
	require.Equal(t, once.Time.Rows, many.Time.Rows)
}

func TestActivity_Process_Deterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)

	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
		etltest.Play("2", "paid", "Song B", "Band Y", 180.5, newYear.Add(36*time.Hour)),
		etltest.Navigate("3", "Home", newYear),
	)

	snapshot := func() ([]string, []string) {
		res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
		require.NoError(t, err)
		require.NoError(t, res.Release(ctx))
		return h.Rows(t, "SELECT * FROM "+h.Read(t, schema.Users)),
			h.Rows(t, "SELECT * FROM "+h.Read(t, schema.Time))
	}

	users1, time1 := snapshot()
	users2, time2 := snapshot()
	require.Len(t, users1, 2)
	require.Len(t, time1, 2)
	require.Empty(t, cmp.Diff(users1, users2))
	require.Empty(t, cmp.Diff(time1, time2))
}

func TestActivity_Process_WithoutWeekdayFunctionFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)

	_, err := Process(ctx, Config{Logger: etltest.Logger(), Conn: h.Session, Writer: h.Writer}, h.InputURI, h.OutputURI)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to derive time dimension")

	// staging is released on failure
	require.Error(t, h.Session.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+StagingEventsTable).Err())
}

func TestActivity_Result_Release(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, cfg := newHarness(t)
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)

	res, err := Process(ctx, cfg, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Count(t, res.TimeDim))

	require.NoError(t, res.Release(ctx))
	require.NoError(t, res.Release(ctx))
	var n int64
	require.Error(t, h.Session.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+res.TimeDim).Scan(&n))
}

func TestActivity_Process_NoInputFails(t *testing.T) {
	t.Parallel()

	h, cfg := newHarness(t)
	_, err := Process(context.Background(), cfg, h.InputURI, h.OutputURI)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read activity logs")
}
