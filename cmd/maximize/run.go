package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/maximizer/internal/config"
	"github.com/cwbudde/maximizer/internal/driver"
	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/store"
	"github.com/spf13/cobra"
)

// runFlags holds the command line overrides of the run command
type runFlags struct {
	configPath   string
	runID        string
	outputDir    string
	prefix       string
	metricsFile  string
	seed         int64
	method       string
	maxTries     int
	strategy     int
	maxFev       int
	ignorePrior  bool
	removeBounds bool
	force        bool
	participants int
	transport    string
	rank         int
	size         int
	natsURL      string
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a maximization",
	Long: `Runs the maximization described by a configuration file and writes the maximum,
its table and the effective configuration to <output>/runs/<run-id>/.

Flags override the corresponding configuration keys. Environment variables with the
MAXIMIZE_ prefix (e.g. MAXIMIZE_SAMPLER_MAX_TRIES) override the file but not the flags.`,
	RunE: runMaximize,
}

func init() {
	runOpts.bind(runCmd)
	runCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(runCmd)
}

// bind registers the flags on cmd
func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Configuration file (YAML)")
	flags.StringVar(&f.runID, "run-id", "", "Run identifier (default: parallel.run_id or a new UUID)")
	flags.StringVar(&f.outputDir, "output", "", "Output directory")
	flags.StringVar(&f.prefix, "prefix", "", "Prefix of the table file")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	flags.Int64Var(&f.seed, "seed", 1, "Random seed")
	flags.StringVar(&f.method, "method", "", "Minimizer: nelder-mead, bfgs, mayfly")
	flags.IntVar(&f.maxTries, "max-tries", 3, "Retries after the first minimizer call")
	flags.IntVar(&f.strategy, "strategy", 2, "Highest strategy level used on retries (0-2)")
	flags.IntVar(&f.maxFev, "maxfev", 0, "Objective evaluations per minimizer call (0 = minimizer default)")
	flags.BoolVar(&f.ignorePrior, "ignore-prior", false, "Maximize the likelihood instead of the posterior")
	flags.BoolVar(&f.removeBounds, "remove-bounds", false, "Search without bounds on retries")
	flags.BoolVar(&f.force, "force", false, "Accept an unconverged search")
	flags.IntVar(&f.participants, "participants", 1, "In-process participants (local transport)")
	flags.StringVar(&f.transport, "transport", "", "Transport: local or nats")
	flags.IntVar(&f.rank, "rank", 0, "Rank of this process (nats transport)")
	flags.IntVar(&f.size, "size", 1, "Number of processes (nats transport)")
	flags.StringVar(&f.natsURL, "nats-url", "", "NATS server URL (nats transport)")
}

// apply copies the flags that were set explicitly into cfg
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("run-id") {
		cfg.Parallel.RunID = f.runID
	}
	if changed("output") {
		cfg.Output.Dir = f.outputDir
	}
	if changed("prefix") {
		cfg.Output.Prefix = f.prefix
	}
	if changed("metrics-file") {
		cfg.Output.MetricsFile = f.metricsFile
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("method") {
		cfg.Sampler.Method = f.method
	}
	if changed("max-tries") {
		cfg.Sampler.MaxTries = f.maxTries
	}
	if changed("strategy") {
		cfg.Sampler.Strategy = f.strategy
	}
	if changed("maxfev") {
		cfg.Sampler.MaxFev = f.maxFev
	}
	if changed("ignore-prior") {
		cfg.Sampler.IgnorePrior = f.ignorePrior
	}
	if changed("remove-bounds") {
		cfg.Sampler.RemoveBounds = f.removeBounds
	}
	if changed("force") {
		cfg.Sampler.Force = f.force
	}
	if changed("participants") {
		cfg.Parallel.Participants = f.participants
	}
	if changed("transport") {
		cfg.Parallel.Transport = f.transport
	}
	if changed("rank") {
		cfg.Parallel.Rank = f.rank
	}
	if changed("size") {
		cfg.Parallel.Size = f.size
	}
	if changed("nats-url") {
		cfg.Parallel.NATSURL = f.natsURL
	}
}

func runMaximize(cmd *cobra.Command, args []string) error {
	// Flags may complete the file, so validation waits until they are applied
	cfg, err := config.Read(runOpts.configPath)
	if err != nil {
		return err
	}
	runOpts.apply(cmd, cfg)

	// --log-level wins over log_level in the file
	if flag := cmd.Flag("log-level"); flag != nil && flag.Changed {
		cfg.LogLevel = logLevel
	} else if cfg.LogLevel != logLevel {
		setupLogger(cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting maximization",
		"config", runOpts.configPath,
		"params", len(cfg.Model.Params),
		"likelihoods", len(cfg.Model.Likelihoods),
		"method", cfg.Sampler.Method,
		"transport", cfg.Parallel.Transport,
	)

	start := time.Now()
	res, err := (&driver.Driver{Config: cfg, Logger: slog.Default()}).Run(ctx, "")
	if err != nil {
		var merr *maximize.Error
		if errors.As(err, &merr) {
			return fmt.Errorf("maximization aborted: %w", err)
		}
		return err
	}

	slog.Info("Maximization complete", "run_id", res.RunID, "elapsed", time.Since(start))
	printResult(cmd.OutOrStdout(), cfg, res)
	return nil
}

// printResult writes a summary of the run. Participants other than the coordinator
// have no product and only report their rank.
func printResult(w io.Writer, cfg *config.Config, res *driver.Result) {
	if res.Product == nil {
		fmt.Fprintf(w, "Participant %d of run %s finished\n", cfg.Parallel.Rank, res.RunID)
		return
	}

	rec := res.Product.Maximum
	fmt.Fprintf(w, "Run: %s\n", res.RunID)
	fmt.Fprintf(w, "log%s maximized at %g", rec.Kind, rec.Value())
	if res.Product.Forced {
		fmt.Fprint(w, " (forced, search did not converge)")
	}
	fmt.Fprintln(w)
	for i, name := range rec.ParamNames {
		fmt.Fprintf(w, "  %s = %g\n", name, rec.X[i])
	}
	fmt.Fprintf(w, "Wrote %s\n\n", res.Dir)
	fmt.Fprint(w, store.FormatTable(rec))
}
