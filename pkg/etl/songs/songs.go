// Package songs derives the songs and artists dimensions from track metadata.
package songs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/lake"
	"github.com/malbeclabs/playlake/pkg/schema"
)

// InputPattern locates track metadata files under the input root.
const InputPattern = "song_data/*/*/*/*.json"

const stagingTableName = "staging_songs"

// trackColumns are the track metadata fields read from each file. Other fields are ignored.
const trackColumns = `{
	song_id: 'VARCHAR',
	title: 'VARCHAR',
	artist_id: 'VARCHAR',
	artist_name: 'VARCHAR',
	artist_location: 'VARCHAR',
	artist_latitude: 'DOUBLE',
	artist_longitude: 'DOUBLE',
	year: 'INTEGER',
	duration: 'DOUBLE'
}`

type Config struct {
	Logger *slog.Logger
	Conn   duck.Connection
	Writer *lake.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Conn == nil {
		return fmt.Errorf("connection is required")
	}
	if cfg.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	return nil
}

type Result struct {
	Tracks  int64
	Songs   *lake.WriteResult
	Artists *lake.WriteResult
}

// Process reads every track file under inputURI and persists the songs and artists dimensions
// under outputURI, replacing earlier output.
func Process(ctx context.Context, cfg Config, inputURI, outputURI string) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	path, err := duck.ResolvePath(duck.JoinURI(inputURI, InputPattern))
	if err != nil {
		return nil, err
	}

	stageSQL := fmt.Sprintf(`CREATE OR REPLACE TEMP TABLE %s AS
		SELECT * FROM read_json(%s, format = 'auto', columns = %s)`,
		stagingTableName, duck.QuoteLiteral(path), trackColumns)
	if _, err := cfg.Conn.ExecContext(ctx, stageSQL); err != nil {
		return nil, fmt.Errorf("failed to read track metadata: %w", err)
	}
	defer func() {
		if _, err := cfg.Conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+stagingTableName); err != nil {
			log.Error("failed to drop staging table", "table", stagingTableName, "error", err)
		}
	}()

	res := &Result{}
	if res.Tracks, err = cfg.Writer.Count(ctx, stagingTableName); err != nil {
		return nil, err
	}
	log.Debug("songs: read track metadata", "tracks", res.Tracks)

	res.Songs, err = cfg.Writer.Write(ctx, schema.Songs, SongsQuery(stagingTableName), lake.Location(outputURI, schema.Songs))
	if err != nil {
		return nil, err
	}

	res.Artists, err = cfg.Writer.Write(ctx, schema.Artists, ArtistsQuery(stagingTableName), lake.Location(outputURI, schema.Artists))
	if err != nil {
		return nil, err
	}

	log.Info("songs: dimensions written",
		"tracks", res.Tracks,
		"songs", res.Songs.Rows,
		"artists", res.Artists.Rows)

	return res, nil
}

// SongsQuery projects the songs dimension out of the track relation, removing exact duplicates.
func SongsQuery(tracks string) string {
	return fmt.Sprintf(`SELECT DISTINCT song_id, title, artist_id, year, duration FROM %s`, tracks)
}

// ArtistsQuery projects and renames the artist fields, removing exact duplicates. Rows that share
// an artist_id but disagree elsewhere are all kept.
func ArtistsQuery(tracks string) string {
	return fmt.Sprintf(`SELECT DISTINCT
		artist_id,
		artist_name AS name,
		artist_location AS location,
		artist_latitude AS latitude,
		artist_longitude AS longitude
	FROM %s`, tracks)
}
