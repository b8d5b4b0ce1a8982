// Package etltest writes track metadata and activity log fixtures in the upstream directory layout.
package etltest

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// Track is one track metadata record as published upstream.
type Track struct {
	NumSongs        int      `json:"num_songs"`
	ArtistID        string   `json:"artist_id"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistName      string   `json:"artist_name"`
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	Duration        float64  `json:"duration"`
	Year            int      `json:"year"`
}

// Event is one activity log record as emitted by the client.
type Event struct {
	Artist        *string  `json:"artist"`
	Auth          string   `json:"auth"`
	FirstName     string   `json:"firstName"`
	Gender        string   `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      string   `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         string   `json:"level"`
	Location      string   `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page"`
	Registration  float64  `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          *string  `json:"song"`
	Status        int      `json:"status"`
	TS            int64    `json:"ts"`
	UserAgent     string   `json:"userAgent"`
	UserID        string   `json:"userId"`
}

func Ptr[T any](v T) *T {
	return &v
}

// Millis returns t as epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// WriteTracks writes one file per track under root/song_data/<a>/<b>/<c>/, the four-level layout
// the upstream bucket uses (the three nested directories come from the song id characters).
func WriteTracks(t testing.TB, root string, tracks ...Track) {
	t.Helper()

	for i, track := range tracks {
		id := track.SongID
		for len(id) < 6 {
			id += "X"
		}
		dir := filepath.Join(root, "song_data", id[2:3], id[3:4], id[4:5])
		require.NoError(t, os.MkdirAll(dir, 0o755))

		data, err := json.Marshal(track)
		require.NoError(t, err)

		name := filepath.Join(dir, track.SongID+"_"+strconv.Itoa(i)+".json")
		require.NoError(t, os.WriteFile(name, data, 0o644))
	}
}

// WriteEvents writes events as newline-delimited JSON to root/log_data/<year>/<month>/<name>.
func WriteEvents(t testing.TB, root string, year, month int, name string, events ...Event) {
	t.Helper()

	dir := filepath.Join(root, "log_data", strconv.Itoa(year), strconv.Itoa(month))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		require.NoError(t, enc.Encode(e))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

// Play returns a NextSong event for the given user, song, artist and length at ts.
func Play(userID, level, song, artist string, length float64, ts time.Time) Event {
	return Event{
		Artist:    Ptr(artist),
		Auth:      "Logged In",
		FirstName: "Jo",
		Gender:    "F",
		LastName:  "Doe",
		Length:    Ptr(length),
		Level:     level,
		Method:    "PUT",
		Page:      "NextSong",
		SessionID: 10,
		Song:      Ptr(song),
		Status:    200,
		TS:        Millis(ts),
		UserAgent: "UA",
		UserID:    userID,
	}
}

// Navigate returns a non-play event for the given user.
func Navigate(userID, page string, ts time.Time) Event {
	return Event{
		Auth:      "Logged In",
		FirstName: "Nav",
		Gender:    "M",
		LastName:  "Igator",
		Level:     "free",
		Method:    "GET",
		Page:      page,
		SessionID: 20,
		Status:    200,
		TS:        Millis(ts),
		UserAgent: "UA",
		UserID:    userID,
	}
}

// BandXTrack is the single track used by end-to-end scenarios.
func BandXTrack() Track {
	return Track{
		NumSongs:        1,
		ArtistID:        "AR1",
		ArtistLatitude:  Ptr(40.7),
		ArtistLongitude: Ptr(-74.0),
		ArtistLocation:  "NY",
		ArtistName:      "Band X",
		SongID:          "S1",
		Title:           "Song A",
		Duration:        200.0,
		Year:            2000,
	}
}

