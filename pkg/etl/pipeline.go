// Package etl runs the stages that turn raw track metadata and activity logs into the star schema.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/etl/activity"
	"github.com/malbeclabs/playlake/pkg/etl/metrics"
	"github.com/malbeclabs/playlake/pkg/etl/songplays"
	"github.com/malbeclabs/playlake/pkg/etl/songs"
	"github.com/malbeclabs/playlake/pkg/lake"
)

const (
	StageSongs     = "songs"
	StageActivity  = "activity"
	StageSongplays = "songplays"
)

// Session is the compute session every stage runs on.
type Session interface {
	duck.Connection
	activity.Registrar
}

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Session Session
	Storage lake.Resetter

	InputURI  string
	OutputURI string

	// RunID tags the run's log lines. Generated when empty.
	RunID string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Storage == nil {
		return errors.New("storage is required")
	}
	if err := duck.ValidateStorageURI(cfg.InputURI); err != nil {
		return fmt.Errorf("invalid input URI: %w", err)
	}
	if err := duck.ValidateStorageURI(cfg.OutputURI); err != nil {
		return fmt.Errorf("invalid output URI: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return nil
}

type Pipeline struct {
	log    *slog.Logger
	cfg    Config
	writer *lake.Writer
}

// New validates cfg and registers the scalar functions the stages need on the session.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With("run_id", cfg.RunID)

	writer, err := lake.New(lake.Config{
		Logger:  log,
		Conn:    cfg.Session,
		Storage: cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create writer: %w", err)
	}

	if err := activity.RegisterFunctions(cfg.Session); err != nil {
		return nil, err
	}

	return &Pipeline{
		log:    log,
		cfg:    cfg,
		writer: writer,
	}, nil
}

// Run executes the stages in order. Songs and artists are persisted before the fact stage reads
// them back. The first failing stage ends the run.
func (p *Pipeline) Run(ctx context.Context) (stats *RunStats, err error) {
	stats = &RunStats{
		RunID:     p.cfg.RunID,
		StartedAt: p.cfg.Clock.Now(),
	}
	defer func() {
		stats.Duration = p.cfg.Clock.Since(stats.StartedAt)
		if err != nil {
			metrics.Runs.WithLabelValues(metrics.StatusError).Inc()
			return
		}
		metrics.Runs.WithLabelValues(metrics.StatusSuccess).Inc()
	}()

	p.log.Info("etl: run started",
		"input", duck.RedactedStorageURI(p.cfg.InputURI),
		"output", duck.RedactedStorageURI(p.cfg.OutputURI))

	err = p.stage(ctx, stats, StageSongs, func() error {
		res, err := songs.Process(ctx, songs.Config{
			Logger: p.log,
			Conn:   p.cfg.Session,
			Writer: p.writer,
		}, p.cfg.InputURI, p.cfg.OutputURI)
		if err != nil {
			return err
		}
		stats.Songs = res
		return nil
	})
	if err != nil {
		return stats, err
	}

	var plays *activity.Result
	err = p.stage(ctx, stats, StageActivity, func() error {
		res, err := activity.Process(ctx, activity.Config{
			Logger: p.log,
			Conn:   p.cfg.Session,
			Writer: p.writer,
		}, p.cfg.InputURI, p.cfg.OutputURI)
		if err != nil {
			return err
		}
		plays = res
		stats.Activity = res
		return nil
	})
	if err != nil {
		return stats, err
	}
	defer func() {
		if releaseErr := plays.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			p.log.Error("etl: failed to release activity staging", "error", releaseErr)
		}
	}()

	err = p.stage(ctx, stats, StageSongplays, func() error {
		res, err := songplays.Process(ctx, songplays.Config{
			Logger: p.log,
			Conn:   p.cfg.Session,
			Writer: p.writer,
		}, plays, p.cfg.OutputURI)
		if err != nil {
			return err
		}
		stats.Songplays = res
		return nil
	})
	if err != nil {
		return stats, err
	}

	p.record(stats)

	p.log.Info("etl: run finished",
		"tables", len(stats.Tables()),
		"duration", p.cfg.Clock.Since(stats.StartedAt).String())

	return stats, nil
}

func (p *Pipeline) stage(ctx context.Context, stats *RunStats, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := p.cfg.Clock.Now()
	p.log.Debug("etl: stage started", "stage", name)

	err := fn()
	duration := p.cfg.Clock.Since(start)
	metrics.StageDuration.WithLabelValues(name).Observe(duration.Seconds())
	stats.Stages = append(stats.Stages, StageStats{Name: name, Duration: duration, Err: err})
	if err != nil {
		p.log.Error("etl: stage failed", "stage", name, "error", err, "duration", duration.String())
		return fmt.Errorf("%s stage: %w", name, err)
	}

	p.log.Debug("etl: stage finished", "stage", name, "duration", duration.String())
	return nil
}

func (p *Pipeline) record(stats *RunStats) {
	for _, t := range stats.Tables() {
		metrics.RowsWritten.WithLabelValues(t.Table).Add(float64(t.Rows))
	}
	if sp := stats.Songplays; sp != nil {
		metrics.SongplaysMatched.Add(float64(sp.Matched))
		metrics.SongplaysUnmatched.Add(float64(sp.Unmatched))
		metrics.SongplaysAmbiguous.Add(float64(sp.Ambiguous))
	}
}

type StageStats struct {
	Name     string
	Duration time.Duration
	Err      error
}
