package etl

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/etl/activity"
	"github.com/malbeclabs/playlake/pkg/etl/songplays"
	"github.com/malbeclabs/playlake/pkg/etl/songs"
	"github.com/malbeclabs/playlake/pkg/lake"
)

// RunStats collects what each stage of a run read and wrote. Stage results are nil for stages
// that did not complete.
type RunStats struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Stages    []StageStats

	Songs     *songs.Result
	Activity  *activity.Result
	Songplays *songplays.Result
}

// Tables returns the tables written so far, in write order.
func (s *RunStats) Tables() []*lake.WriteResult {
	var out []*lake.WriteResult
	if s.Songs != nil {
		out = append(out, s.Songs.Songs, s.Songs.Artists)
	}
	if s.Activity != nil {
		out = append(out, s.Activity.Users, s.Activity.Time)
	}
	if s.Songplays != nil {
		out = append(out, s.Songplays.Songplays)
	}
	return out
}

// Render writes a table summary of the run to w.
func (s *RunStats) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"table", "partitions", "rows", "location"})
	for _, t := range s.Tables() {
		partitions := "-"
		if t.Partitions > 0 {
			partitions = strconv.FormatInt(t.Partitions, 10)
		}
		table.Append([]string{
			t.Table,
			partitions,
			strconv.FormatInt(t.Rows, 10),
			duck.RedactedStorageURI(t.Location),
		})
	}
	table.Render()

	if s.Activity != nil {
		fmt.Fprintf(w, "activity: %d events, %d plays\n", s.Activity.Events, s.Activity.Plays)
	}
	if sp := s.Songplays; sp != nil {
		fmt.Fprintf(w, "songplays: %d matched, %d unmatched, %d ambiguous\n", sp.Matched, sp.Unmatched, sp.Ambiguous)
	}
	fmt.Fprintf(w, "run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
}
