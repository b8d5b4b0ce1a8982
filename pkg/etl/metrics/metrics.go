package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metrics names.
	MetricNameBuildInfo          = "playlake_build_info"
	MetricNameRowsWritten        = "playlake_rows_written_total"
	MetricNameSongplaysMatched   = "playlake_songplays_matched_total"
	MetricNameSongplaysUnmatched = "playlake_songplays_unmatched_total"
	MetricNameSongplaysAmbiguous = "playlake_songplays_ambiguous_total"
	MetricNameStageDuration      = "playlake_stage_duration_seconds"
	MetricNameRuns               = "playlake_runs_total"

	// Labels.
	LabelVersion = "version"
	LabelCommit  = "commit"
	LabelDate    = "date"
	LabelTable   = "table"
	LabelStage   = "stage"
	LabelStatus  = "status"

	// Run statuses.
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBuildInfo,
			Help: "Build information of the playlake job",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRowsWritten,
			Help: "Number of rows written per table",
		},
		[]string{LabelTable},
	)

	SongplaysMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameSongplaysMatched,
			Help: "Number of play events that matched a song, artist and time row",
		},
	)

	SongplaysUnmatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameSongplaysUnmatched,
			Help: "Number of play events dropped for lack of a match",
		},
	)

	SongplaysAmbiguous = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameSongplaysAmbiguous,
			Help: "Number of extra fact rows produced by play events matching more than one artist row",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameStageDuration,
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{LabelStage},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRuns,
			Help: "Number of pipeline runs by outcome",
		},
		[]string{LabelStatus},
	)
)
