// Package driver assembles a maximization run from its configuration.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/maximizer/internal/collective"
	"github.com/cwbudde/maximizer/internal/config"
	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/metrics"
	"github.com/cwbudde/maximizer/internal/opt"
	"github.com/cwbudde/maximizer/internal/store"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// Result is what a participant process gets back from a run
type Result struct {
	RunID string
	// Product is the published maximum; nil on non-coordinating participants
	Product *maximize.Product
	// Dir is the run directory holding maximum.json, the table and the trace
	Dir string
}

// Driver runs maximizations described by config.Config
type Driver struct {
	Config *config.Config
	// Metrics receives run statistics; nil creates a fresh collector per run
	Metrics *metrics.Metrics
	// Observer receives progress events in addition to trace and metrics; optional
	Observer maximize.Observer
	// Conn is used by the nats transport; nil dials Config.Parallel.NATSURL
	Conn   *nats.Conn
	Logger *slog.Logger
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.New().String()
}

// Run executes the configured run under runID (empty = Config.Parallel.RunID or a new ID).
// Failures are returned as *maximize.Error after being counted in the metrics.
func (d *Driver) Run(ctx context.Context, runID string) (*Result, error) {
	cfg := d.Config
	if cfg == nil {
		return nil, errors.New("driver has no configuration")
	}
	if runID == "" {
		runID = cfg.Parallel.RunID
	}
	if runID == "" {
		runID = NewRunID()
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}

	fs, err := store.NewFSStore(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	fs = fs.WithPrefix(cfg.Output.Prefix)

	coordinator := cfg.Parallel.Transport != config.TransportNATS || cfg.Parallel.Rank == 0
	if coordinator {
		if err := fs.SaveConfig(runID, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	trace, err := store.NewTraceWriter(fs.BaseDir(), traceRunID(cfg, runID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace: %w", err)
	}
	defer func() {
		if err := trace.Close(); err != nil {
			logger.Warn("Failed to close trace", "path", trace.Path(), "error", err)
		}
	}()

	observers := maximize.Observers{trace, m}
	if d.Observer != nil {
		observers = append(observers, d.Observer)
	}

	run := participantRun{
		cfg:      cfg,
		settings: Settings(cfg, logger.Enabled(ctx, slog.LevelDebug)),
		sink:     store.RunSink{Store: fs, RunID: runID},
		observer: observers,
		logger:   logger,
	}

	var product *maximize.Product
	switch cfg.Parallel.Transport {
	case config.TransportNATS:
		product, err = d.runNATS(ctx, run, runID)
	default:
		product, err = runLocal(ctx, run)
	}

	if err != nil {
		m.RecordAbort(err)
	}
	if cfg.Output.MetricsFile != "" {
		if werr := m.WriteToTextfile(cfg.Output.MetricsFile); werr != nil {
			logger.Warn("Failed to write metrics textfile", "path", cfg.Output.MetricsFile, "error", werr)
		}
	}
	if err != nil {
		return nil, err
	}

	return &Result{RunID: runID, Product: product, Dir: fs.RunDir(runID)}, nil
}

// Settings translates the sampler section into pipeline settings
func Settings(cfg *config.Config, verbose bool) maximize.Settings {
	s := cfg.Sampler
	return maximize.Settings{
		Mode:          maximize.ModeFor(s.IgnorePrior),
		MaxAttempts:   s.MaxTries,
		MaxStrategy:   s.Strategy,
		RemoveBounds:  s.RemoveBounds,
		Force:         s.Force,
		Confidence:    s.Confidence,
		Options:       opt.Options{MaxFev: s.MaxFev, Verbose: verbose},
		Override:      s.Override,
		MaxStartDraws: s.MaxStartDraws,
		Tolerance:     maximize.Tolerance{RTol: s.RTol, ATol: s.ATol},
		Root:          0,
	}
}

// traceRunID keeps processes of a nats run from sharing one trace file
func traceRunID(cfg *config.Config, runID string) string {
	if cfg.Parallel.Transport == config.TransportNATS && cfg.Parallel.Rank != 0 {
		return fmt.Sprintf("%s/rank-%d", runID, cfg.Parallel.Rank)
	}
	return runID
}

// participantRun is the part of a run shared by all participants
type participantRun struct {
	cfg      *config.Config
	settings maximize.Settings
	sink     maximize.Sink
	observer maximize.Observer
	logger   *slog.Logger
}

// pipeline builds the pipeline of one participant. Every participant owns its model
// and minimizer, seeded with Seed+rank.
func (r participantRun) pipeline(comm collective.Communicator) (*maximize.Pipeline, error) {
	seed := r.cfg.Seed + int64(comm.Rank())

	mdl, err := r.cfg.BuildModel(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	minimizer, err := opt.NewMinimizer(r.cfg.Sampler.Method, seed)
	if err != nil {
		return nil, err
	}

	return &maximize.Pipeline{
		Model:     mdl,
		Minimizer: minimizer,
		Comm:      comm,
		Sink:      r.sink,
		Settings:  r.settings,
		Observer:  r.observer,
		Logger:    r.logger,
	}, nil
}

// runLocal runs Participants pipelines in this process and returns the coordinator's product
func runLocal(ctx context.Context, r participantRun) (*maximize.Product, error) {
	n := r.cfg.Parallel.Participants
	if n <= 1 {
		p, err := r.pipeline(collective.Local{})
		if err != nil {
			return nil, err
		}
		return p.Run(ctx)
	}

	group, err := collective.NewGroup(n)
	if err != nil {
		return nil, err
	}

	pipelines := make([]*maximize.Pipeline, n)
	for rank := range pipelines {
		member, err := group.Member(rank)
		if err != nil {
			return nil, err
		}
		if pipelines[rank], err = r.pipeline(member); err != nil {
			return nil, err
		}
	}

	var product *maximize.Product
	g, gctx := errgroup.WithContext(ctx)
	for rank, p := range pipelines {
		g.Go(func() error {
			out, err := p.Run(gctx)
			if rank == r.settings.Root {
				product = out
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return product, nil
}

// runNATS runs this process's single participant of a multi-process run
func (d *Driver) runNATS(ctx context.Context, r participantRun, runID string) (*maximize.Product, error) {
	pc := r.cfg.Parallel
	conn := d.Conn
	if conn == nil {
		var err error
		conn, err = nats.Connect(pc.NATSURL, nats.Name(fmt.Sprintf("maximize-%s-%d", runID, pc.Rank)))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", pc.NATSURL, err)
		}
		defer conn.Close()
	}

	comm, err := collective.NewNATS(conn, runID, pc.Rank, pc.Size)
	if err != nil {
		return nil, err
	}
	comm.RetryInterval = pc.RetryInterval
	comm.Logger = r.logger

	p, err := r.pipeline(comm)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}
