// Package songplays reconstructs play facts by matching staged play events against the persisted
// songs and artists dimensions.
package songplays

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/etl/activity"
	"github.com/malbeclabs/playlake/pkg/lake"
	"github.com/malbeclabs/playlake/pkg/schema"
)

const matchedTableName = "songplays_matched"

type Config struct {
	Logger *slog.Logger
	Conn   duck.Connection
	Writer *lake.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Conn == nil {
		return errors.New("connection is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	return nil
}

// Result reports how the play events reconciled.
//
// Matched counts play events that produced at least one fact row, Unmatched those that produced
// none. A play event that matches more than one artist row yields one fact row per match; the
// extra rows are counted in Ambiguous.
type Result struct {
	Plays     int64
	Matched   int64
	Unmatched int64
	Ambiguous int64
	Songplays *lake.WriteResult
}

// Process joins the staged play events in plays against the songs and artists dimensions persisted
// under outputURI and the staged time dimension, then persists the songplays fact under outputURI.
// Play events without a match are dropped.
func Process(ctx context.Context, cfg Config, plays *activity.Result, outputURI string) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if plays == nil {
		return nil, errors.New("activity result is required")
	}
	log := cfg.Logger

	songs, err := readDimension(ctx, cfg.Conn, schema.Songs, outputURI)
	if err != nil {
		return nil, err
	}
	artists, err := readDimension(ctx, cfg.Conn, schema.Artists, outputURI)
	if err != nil {
		return nil, err
	}

	matchSQL := fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS %s",
		matchedTableName, MatchQuery(plays.StagingEvents, songs, artists, plays.TimeDim))
	if _, err := cfg.Conn.ExecContext(ctx, matchSQL); err != nil {
		return nil, fmt.Errorf("failed to match play events: %w", err)
	}
	defer func() {
		if _, err := cfg.Conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+matchedTableName); err != nil {
			log.Error("failed to drop staging table", "table", matchedTableName, "error", err)
		}
	}()

	res := &Result{}
	if res.Plays, err = cfg.Writer.Count(ctx, plays.StagingEvents); err != nil {
		return nil, err
	}
	var rows int64
	statsSQL := fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT songplay_id) FROM %s", matchedTableName)
	if err := cfg.Conn.QueryRowContext(ctx, statsSQL).Scan(&rows, &res.Matched); err != nil {
		return nil, fmt.Errorf("failed to count matched play events: %w", err)
	}
	res.Unmatched = res.Plays - res.Matched
	res.Ambiguous = rows - res.Matched

	if res.Unmatched > 0 {
		log.Info("songplays: play events without a matching song", "unmatched", res.Unmatched, "plays", res.Plays)
	}
	if res.Ambiguous > 0 {
		log.Warn("songplays: play events matched more than one artist row", "extra_rows", res.Ambiguous)
	}

	res.Songplays, err = cfg.Writer.Write(ctx, schema.Songplays, "SELECT * FROM "+matchedTableName, lake.Location(outputURI, schema.Songplays))
	if err != nil {
		return nil, err
	}

	log.Info("songplays: facts written",
		"plays", res.Plays,
		"matched", res.Matched,
		"rows", res.Songplays.Rows)

	return res, nil
}

// readDimension returns a relation over the persisted table after checking it against the catalog.
func readDimension(ctx context.Context, conn duck.Connection, table schema.TableInfo, outputURI string) (string, error) {
	relation, err := lake.ReadSQL(table, lake.Location(outputURI, table))
	if err != nil {
		return "", err
	}
	if err := schema.Validate(ctx, conn, table, relation); err != nil {
		return "", fmt.Errorf("persisted %s table: %w", table.Name, err)
	}
	return relation, nil
}

// MatchQuery returns the fact rows for the play events in plays. The surrogate songplay_id is
// assigned before joining, so an event that matches several artist rows repeats its id.
//
// A play matches a song when the reported title and length equal the song's title and duration
// exactly, and an artist when the reported name equals the artist's name for the song's artist_id.
func MatchQuery(plays, songs, artists, timeDim string) string {
	return fmt.Sprintf(`SELECT
		e.songplay_id,
		e.start_time,
		e.userId AS user_id,
		e.level,
		s.song_id,
		s.artist_id,
		e.sessionId AS session_id,
		a.location,
		e.userAgent AS user_agent,
		t.year,
		t.month
	FROM (SELECT *, row_number() OVER () AS songplay_id FROM %s) e
	JOIN %s s ON s.title = e.song AND e.length = s.duration
	JOIN %s a ON e.artist = a.name AND s.artist_id = a.artist_id
	JOIN %s t ON t.start_time = e.start_time`, plays, songs, artists, timeDim)
}
