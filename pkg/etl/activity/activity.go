// Package activity derives the users and time dimensions from the activity log and stages the
// play events the fact reconciler joins against.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/lake"
	"github.com/malbeclabs/playlake/pkg/schema"
)

// InputPattern locates activity log files under the input root. Logs are grouped by year and month.
const InputPattern = "log_data/*/*/*.json"

// NextSongPage is the page value that marks an event as a play.
const NextSongPage = "NextSong"

const (
	rawEventsTableName = "raw_events"

	// StagingEventsTable holds the play events with start_time attached.
	StagingEventsTable = "staging_events"
	// TimeDimTable holds the time dimension rows for the play events.
	TimeDimTable = "time_dim"
)

// eventColumns are the activity log fields read from each record. Other fields are ignored.
const eventColumns = `{
	artist: 'VARCHAR',
	firstName: 'VARCHAR',
	gender: 'VARCHAR',
	lastName: 'VARCHAR',
	length: 'DOUBLE',
	level: 'VARCHAR',
	page: 'VARCHAR',
	sessionId: 'BIGINT',
	song: 'VARCHAR',
	ts: 'BIGINT',
	userAgent: 'VARCHAR',
	userId: 'VARCHAR'
}`

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

// Result reports what Process read and wrote. The staging relations stay in the session until
// Release is called.
type Result struct {
	Events int64
	Plays  int64
	Users  *lake.WriteResult
	Time   *lake.WriteResult

	StagingEvents string
	TimeDim       string

	conn duck.Connection
}

// Release drops the staging relations.
func (r *Result) Release(ctx context.Context) error {
	if r == nil || r.conn == nil {
		return nil
	}
	var errs []error
	for _, name := range []string{r.StagingEvents, r.TimeDim} {
		if _, err := r.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop %s: %w", name, err))
		}
	}
	r.conn = nil
	return errors.Join(errs...)
}

// Process reads every activity log under inputURI, keeps the play events, and persists the users
// and time dimensions under outputURI, replacing earlier output. The weekday function must already
// be registered on the session (see RegisterFunctions).
func Process(ctx context.Context, cfg Config, inputURI, outputURI string) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	path, err := duck.ResolvePath(duck.JoinURI(inputURI, InputPattern))
	if err != nil {
		return nil, err
	}

	rawSQL := fmt.Sprintf(`CREATE OR REPLACE TEMP TABLE %s AS
		SELECT * FROM read_json(%s, format = 'newline_delimited', columns = %s)`,
		rawEventsTableName, duck.QuoteLiteral(path), eventColumns)
	if _, err := cfg.Conn.ExecContext(ctx, rawSQL); err != nil {
		return nil, fmt.Errorf("failed to read activity logs: %w", err)
	}
	defer func() {
		if _, err := cfg.Conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+rawEventsTableName); err != nil {
			log.Error("failed to drop staging table", "table", rawEventsTableName, "error", err)
		}
	}()

	res := &Result{
		StagingEvents: StagingEventsTable,
		TimeDim:       TimeDimTable,
		conn:          cfg.Conn,
	}
	ok := false
	defer func() {
		if !ok {
			if err := res.Release(context.WithoutCancel(ctx)); err != nil {
				log.Error("failed to release activity staging", "error", err)
			}
		}
	}()

	if res.Events, err = cfg.Writer.Count(ctx, rawEventsTableName); err != nil {
		return nil, err
	}

	if _, err := cfg.Conn.ExecContext(ctx, PlaysSQL(rawEventsTableName, StagingEventsTable)); err != nil {
		return nil, fmt.Errorf("failed to filter play events: %w", err)
	}
	if res.Plays, err = cfg.Writer.Count(ctx, StagingEventsTable); err != nil {
		return nil, err
	}
	log.Debug("activity: read activity logs", "events", res.Events, "plays", res.Plays)

	res.Users, err = cfg.Writer.Write(ctx, schema.Users, UsersQuery(StagingEventsTable), lake.Location(outputURI, schema.Users))
	if err != nil {
		return nil, err
	}

	if _, err := cfg.Conn.ExecContext(ctx, TimeDimSQL(StagingEventsTable, TimeDimTable)); err != nil {
		return nil, fmt.Errorf("failed to derive time dimension: %w", err)
	}
	res.Time, err = cfg.Writer.Write(ctx, schema.Time, "SELECT * FROM "+TimeDimTable, lake.Location(outputURI, schema.Time))
	if err != nil {
		return nil, err
	}

	log.Info("activity: dimensions written",
		"events", res.Events,
		"plays", res.Plays,
		"users", res.Users.Rows,
		"time", res.Time.Rows)

	ok = true
	return res, nil
}

// PlaysSQL materializes the play events of events into dest with start_time attached. start_time
// keeps whole seconds: ts is epoch milliseconds and the sub-second part is dropped.
func PlaysSQL(events, dest string) string {
	return fmt.Sprintf(`CREATE OR REPLACE TEMP TABLE %s AS
		SELECT *, epoch_ms((ts // 1000) * 1000) AS start_time
		FROM %s
		WHERE page = %s`, dest, events, duck.QuoteLiteral(NextSongPage))
}

// UsersQuery projects the users dimension out of the play events, removing exact duplicates. A
// user whose level changed contributes one row per level.
func UsersQuery(plays string) string {
	return fmt.Sprintf(`SELECT DISTINCT
		userId AS user_id,
		firstName AS first_name,
		lastName AS last_name,
		gender,
		level
	FROM %s`, plays)
}

// TimeDimSQL materializes one time dimension row per distinct play instant into dest. The weekday
// function runs once per instant.
func TimeDimSQL(plays, dest string) string {
	return fmt.Sprintf(`CREATE OR REPLACE TEMP TABLE %s AS
		SELECT
			start_time,
			CAST(hour(start_time) AS INTEGER) AS hour,
			CAST(day(start_time) AS INTEGER) AS day,
			CAST(weekofyear(start_time) AS INTEGER) AS week,
			CAST(month(start_time) AS INTEGER) AS month,
			CAST(year(start_time) AS INTEGER) AS year,
			%s(start_time) AS weekday
		FROM (SELECT DISTINCT start_time FROM %s WHERE start_time IS NOT NULL)`,
		dest, WeekdayFunc, plays)
}
