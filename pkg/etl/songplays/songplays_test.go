package songplays

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/playlake/pkg/etl/activity"
	"github.com/malbeclabs/playlake/pkg/etl/etltest"
	"github.com/malbeclabs/playlake/pkg/etl/songs"
	"github.com/malbeclabs/playlake/pkg/schema"
)

var newYear = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// stage runs the dimension stages over whatever the harness input holds.
func stage(t *testing.T, h *etltest.Harness) (*activity.Result, Config) {
	t.Helper()
	ctx := context.Background()
	log := etltest.Logger()

	require.NoError(t, activity.RegisterFunctions(h.Session))
	_, err := songs.Process(ctx, songs.Config{Logger: log, Conn: h.Session, Writer: h.Writer}, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	plays, err := activity.Process(ctx, activity.Config{Logger: log, Conn: h.Session, Writer: h.Writer}, h.InputURI, h.OutputURI)
	require.NoError(t, err)
	t.Cleanup(func() { _ = plays.Release(context.Background()) })

	return plays, Config{Logger: log, Conn: h.Session, Writer: h.Writer}
}

func TestSongplays_Process_EndToEndRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)
	etltest.WriteTracks(t, h.InputDir, etltest.BandXTrack())
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)
	plays, cfg := stage(t, h)

	res, err := Process(ctx, cfg, plays, h.OutputURI)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Plays)
	require.Equal(t, int64(1), res.Matched)
	require.Equal(t, int64(0), res.Unmatched)
	require.Equal(t, int64(0), res.Ambiguous)
	require.Equal(t, int64(1), res.Songplays.Rows)
	require.Equal(t, int64(1), res.Songplays.Partitions)

	rel := h.Read(t, schema.Songplays)
	require.NoError(t, schema.Validate(ctx, h.Session, schema.Songplays, rel))
	require.Equal(t, []string{"2024-01-01T00:00:00Z|1|free|S1|AR1|10|NY|UA|2024|1"},
		h.Rows(t, "SELECT start_time, user_id, level, song_id, artist_id, session_id, location, user_agent, year, month FROM "+rel))
}

func TestSongplays_Process_DropsMismatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)
	etltest.WriteTracks(t, h.InputDir, etltest.BandXTrack())
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
		etltest.Play("2", "free", "Song A", "Band X", 200.0001, newYear.Add(time.Minute)),
		etltest.Play("3", "free", "Song a", "Band X", 200.0, newYear.Add(2*time.Minute)),
		etltest.Play("4", "free", "Song A", "Band Y", 200.0, newYear.Add(3*time.Minute)),
		etltest.Navigate("5", "Home", newYear.Add(4*time.Minute)),
	)
	plays, cfg := stage(t, h)

	res, err := Process(ctx, cfg, plays, h.OutputURI)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Plays)
	require.Equal(t, int64(1), res.Matched)
	require.Equal(t, int64(3), res.Unmatched)
	require.LessOrEqual(t, res.Songplays.Rows, res.Plays)

	require.Equal(t, []string{"1"}, h.Rows(t, "SELECT user_id FROM "+h.Read(t, schema.Songplays)))
}

func TestSongplays_Process_AllMatchedWhenEveryPlayResolves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)

	other := etltest.BandXTrack()
	other.SongID = "S2"
	other.Title = "Song B"
	other.Duration = 181.5
	etltest.WriteTracks(t, h.InputDir, etltest.BandXTrack(), other)
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
		etltest.Play("1", "free", "Song B", "Band X", 181.5, newYear.Add(time.Hour)),
	)
	etltest.WriteEvents(t, h.InputDir, 2024, 2, "b.json",
		etltest.Play("2", "paid", "Song A", "Band X", 200.0, newYear.AddDate(0, 1, 3)),
	)
	plays, cfg := stage(t, h)

	res, err := Process(ctx, cfg, plays, h.OutputURI)
	require.NoError(t, err)
	require.Equal(t, res.Plays, res.Songplays.Rows)
	require.Equal(t, int64(0), res.Unmatched)
	require.Equal(t, int64(2), res.Songplays.Partitions)

	ids := h.Rows(t, "SELECT DISTINCT songplay_id FROM "+h.Read(t, schema.Songplays))
	require.Len(t, ids, 3)
}

func TestSongplays_Process_KeepsArtistFanOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)

	moved := etltest.BandXTrack()
	moved.ArtistLocation = "Brooklyn"
	etltest.WriteTracks(t, h.InputDir, etltest.BandXTrack(), moved)
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)
	plays, cfg := stage(t, h)

	res, err := Process(ctx, cfg, plays, h.OutputURI)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Matched)
	require.Equal(t, int64(1), res.Ambiguous)
	require.Equal(t, int64(2), res.Songplays.Rows)

	rows := h.Rows(t, "SELECT songplay_id, location FROM "+h.Read(t, schema.Songplays))
	require.Len(t, rows, 2)
	id := strings.SplitN(rows[0], "|", 2)[0]
	require.Equal(t, []string{id + "|Brooklyn", id + "|NY"}, rows)
}

func TestSongplays_Process_ReadsPersistedDimensions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := etltest.NewHarness(t)
	etltest.WriteTracks(t, h.InputDir, etltest.BandXTrack())
	etltest.WriteEvents(t, h.InputDir, 2024, 1, "a.json",
		etltest.Play("1", "free", "Song A", "Band X", 200.0, newYear),
	)
	plays, cfg := stage(t, h)

	outDir := strings.TrimPrefix(h.OutputURI, "file://")
	require.NoError(t, os.RemoveAll(filepath.Join(outDir, "artists.parquet")))

	_, err := Process(ctx, cfg, plays, h.OutputURI)
	require.Error(t, err)
	require.Contains(t, err.Error(), "persisted artists table")
}

func TestSongplays_Process_RequiresActivity(t *testing.T) {
	t.Parallel()

	h := etltest.NewHarness(t)
	_, err := Process(context.Background(), Config{Logger: etltest.Logger(), Conn: h.Session, Writer: h.Writer}, nil, h.OutputURI)
	require.Error(t, err)
}

func TestSongplays_MatchQuery(t *testing.T) {
	t.Parallel()

	q := MatchQuery("p", "s_rel", "a_rel", "t_rel")
	require.Contains(t, q, "row_number() OVER () AS songplay_id FROM p")
	require.Contains(t, q, "JOIN s_rel s ON s.title = e.song AND e.length = s.duration")
	require.Contains(t, q, "JOIN a_rel a ON e.artist = a.name AND s.artist_id = a.artist_id")
	require.Contains(t, q, "JOIN t_rel t ON t.start_time = e.start_time")
}
