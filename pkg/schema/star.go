package schema

var Songs = TableInfo{
	Name:        "songs",
	Description: "Songs in the track metadata, one row per distinct song attribute combination.",
	PartitionBy: []string{"year", "artist_id"},
	Keys:        []string{"song_id"},
	Columns: []ColumnInfo{
		{Name: "song_id", Type: "VARCHAR", Description: "Track identifier from the metadata source."},
		{Name: "title", Type: "VARCHAR", Description: "Song title."},
		{Name: "artist_id", Type: "VARCHAR", Description: "Performing artist identifier."},
		{Name: "year", Type: "INTEGER", Description: "Release year, 0 when unknown."},
		{Name: "duration", Type: "DOUBLE", Description: "Track length in seconds."},
	},
}

var Artists = TableInfo{
	Name:        "artists",
	Description: "Artists in the track metadata. Conflicting upstream attributes for one artist_id are all kept.",
	Keys:        []string{"artist_id"},
	Columns: []ColumnInfo{
		{Name: "artist_id", Type: "VARCHAR", Description: "Artist identifier."},
		{Name: "name", Type: "VARCHAR", Description: "Artist name."},
		{Name: "location", Type: "VARCHAR", Description: "Free-form artist location."},
		{Name: "latitude", Type: "DOUBLE", Description: "Artist latitude."},
		{Name: "longitude", Type: "DOUBLE", Description: "Artist longitude."},
	},
}

var Users = TableInfo{
	Name:        "users",
	Description: "Users seen in play events. One row per distinct level a user held, not a slowly changing dimension.",
	Keys:        []string{"user_id"},
	Columns: []ColumnInfo{
		{Name: "user_id", Type: "VARCHAR", Description: "User identifier."},
		{Name: "first_name", Type: "VARCHAR", Description: "First name."},
		{Name: "last_name", Type: "VARCHAR", Description: "Last name."},
		{Name: "gender", Type: "VARCHAR", Description: "Gender as reported."},
		{Name: "level", Type: "VARCHAR", Description: "Subscription tier (free or paid)."},
	},
}

var Time = TableInfo{
	Name:        "time",
	Description: "Distinct play start timestamps broken into calendar units.",
	PartitionBy: []string{"year", "month"},
	Keys:        []string{"start_time"},
	Columns: []ColumnInfo{
		{Name: "start_time", Type: "TIMESTAMP", Description: "Play start, second precision, UTC."},
		{Name: "hour", Type: "INTEGER", Description: "Hour of day."},
		{Name: "day", Type: "INTEGER", Description: "Day of month."},
		{Name: "week", Type: "INTEGER", Description: "ISO week of year."},
		{Name: "month", Type: "INTEGER", Description: "Month of year."},
		{Name: "year", Type: "INTEGER", Description: "Calendar year."},
		{Name: "weekday", Type: "VARCHAR", Description: "Full English weekday name."},
	},
}

var Songplays = TableInfo{
	Name:        "songplays",
	Description: "Play events matched to exactly one song, artist and time row. Unmatched plays are dropped.",
	PartitionBy: []string{"year", "month"},
	Keys:        []string{"songplay_id"},
	Columns: []ColumnInfo{
		{Name: "songplay_id", Type: "BIGINT", Description: "Opaque surrogate, unique within a run but not stable across runs."},
		{Name: "start_time", Type: "TIMESTAMP", Description: "Play start."},
		{Name: "user_id", Type: "VARCHAR", Description: "User identifier."},
		{Name: "level", Type: "VARCHAR", Description: "Subscription tier at play time."},
		{Name: "song_id", Type: "VARCHAR", Description: "Matched song."},
		{Name: "artist_id", Type: "VARCHAR", Description: "Matched artist."},
		{Name: "session_id", Type: "BIGINT", Description: "Client session identifier."},
		{Name: "location", Type: "VARCHAR", Description: "Artist location, used as a proxy for play location."},
		{Name: "user_agent", Type: "VARCHAR", Description: "Client user agent."},
		{Name: "year", Type: "INTEGER", Description: "Play year, copied from the time dimension."},
		{Name: "month", Type: "INTEGER", Description: "Play month, copied from the time dimension."},
	},
}

// Star is the analytical dataset the pipeline produces.
var Star = Schema{
	Name:        "playlake",
	Description: "Star schema of song plays with song, artist, user and time dimensions.",
	Tables:      []TableInfo{Songs, Artists, Users, Time, Songplays},
}
