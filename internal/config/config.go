// Package config provides configuration loading for maximize runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cwbudde/maximizer/internal/model"
	"github.com/cwbudde/maximizer/internal/opt"
)

// Transports for parallel runs
const (
	TransportLocal = "local"
	TransportNATS  = "nats"
)

// Config is the complete run configuration
type Config struct {
	// Seed seeds reference draws and stochastic minimizers; participant r uses Seed+r
	Seed     int64  `koanf:"seed" yaml:"seed" json:"seed"`
	LogLevel string `koanf:"log_level" yaml:"log_level" json:"log_level"`

	Sampler  SamplerConfig  `koanf:"sampler" yaml:"sampler" json:"sampler"`
	Model    ModelConfig    `koanf:"model" yaml:"model" json:"model"`
	Parallel ParallelConfig `koanf:"parallel" yaml:"parallel" json:"parallel"`
	Output   OutputConfig   `koanf:"output" yaml:"output" json:"output"`
}

// SamplerConfig holds the maximizer settings
type SamplerConfig struct {
	// IgnorePrior maximizes the likelihood instead of the posterior
	IgnorePrior bool `koanf:"ignore_prior" yaml:"ignore_prior" json:"ignore_prior"`
	// MaxTries is the number of retries after the first minimizer call
	MaxTries int `koanf:"max_tries" yaml:"max_tries" json:"max_tries"`
	// Strategy is the highest strategy level used on retries (0-2)
	Strategy int `koanf:"strategy" yaml:"strategy" json:"strategy"`
	// RemoveBounds searches without bounds on every retry
	RemoveBounds bool `koanf:"remove_bounds" yaml:"remove_bounds" json:"remove_bounds"`
	// Force marks an unconverged search as successful
	Force bool `koanf:"force" yaml:"force" json:"force"`
	// MaxFev caps objective evaluations per minimizer call (0 = minimizer default)
	MaxFev int `koanf:"maxfev" yaml:"maxfev" json:"maxfev"`
	// Confidence closes unbounded prior sides for the search bounds
	Confidence float64 `koanf:"confidence" yaml:"confidence" json:"confidence"`
	// Method selects the minimizer: nelder-mead, bfgs or mayfly
	Method        string  `koanf:"method" yaml:"method" json:"method"`
	MaxStartDraws int     `koanf:"max_start_draws" yaml:"max_start_draws" json:"max_start_draws"`
	RTol          float64 `koanf:"rtol" yaml:"rtol" json:"rtol"`
	ATol          float64 `koanf:"atol" yaml:"atol" json:"atol"`
	// Override is merged into the minimizer options last
	Override map[string]any `koanf:"override" yaml:"override,omitempty" json:"override,omitempty"`
}

// DistConfig describes a one-dimensional distribution
type DistConfig struct {
	// Dist is "uniform" (Min, Max) or "normal" (Loc, Scale)
	Dist  string  `koanf:"dist" yaml:"dist" json:"dist"`
	Min   float64 `koanf:"min" yaml:"min,omitempty" json:"min,omitempty"`
	Max   float64 `koanf:"max" yaml:"max,omitempty" json:"max,omitempty"`
	Loc   float64 `koanf:"loc" yaml:"loc,omitempty" json:"loc,omitempty"`
	Scale float64 `koanf:"scale" yaml:"scale,omitempty" json:"scale,omitempty"`
}

// ParamConfig is one sampled parameter
type ParamConfig struct {
	Name  string     `koanf:"name" yaml:"name" json:"name"`
	Prior DistConfig `koanf:"prior" yaml:"prior" json:"prior"`
	// Ref is the distribution of starting points; defaults to the prior
	Ref *DistConfig `koanf:"ref" yaml:"ref,omitempty" json:"ref,omitempty"`
}

// LikelihoodConfig is a correlated Gaussian over some of the parameters
type LikelihoodConfig struct {
	Name   string      `koanf:"name" yaml:"name" json:"name"`
	Params []string    `koanf:"params" yaml:"params" json:"params"`
	Mean   []float64   `koanf:"mean" yaml:"mean" json:"mean"`
	Cov    [][]float64 `koanf:"cov" yaml:"cov" json:"cov"`
}

// ModelConfig describes the density to maximize
type ModelConfig struct {
	Params      []ParamConfig      `koanf:"params" yaml:"params" json:"params"`
	Likelihoods []LikelihoodConfig `koanf:"likelihoods" yaml:"likelihoods" json:"likelihoods"`
}

// ParallelConfig selects how participants find each other
type ParallelConfig struct {
	// Transport is "local" (in-process participants) or "nats" (one process per participant)
	Transport string `koanf:"transport" yaml:"transport" json:"transport"`
	// Participants is the number of in-process participants (local transport)
	Participants int `koanf:"participants" yaml:"participants" json:"participants"`
	// Rank and Size place this process in a nats run
	Rank    int    `koanf:"rank" yaml:"rank" json:"rank"`
	Size    int    `koanf:"size" yaml:"size" json:"size"`
	NATSURL string `koanf:"nats_url" yaml:"nats_url" json:"nats_url"`
	// RunID names the run; all processes of a nats run must share it
	RunID string `koanf:"run_id" yaml:"run_id,omitempty" json:"run_id,omitempty"`
	// RetryInterval is how often a nats participant resends its result until the coordinator acknowledges it
	RetryInterval time.Duration `koanf:"retry_interval" yaml:"retry_interval" json:"retry_interval"`
}

// OutputConfig controls where results go
type OutputConfig struct {
	Dir string `koanf:"dir" yaml:"dir" json:"dir"`
	// Prefix names the table file <prefix>.maximum.txt
	Prefix string `koanf:"prefix" yaml:"prefix" json:"prefix"`
	// MetricsFile receives the Prometheus textfile after the run; empty disables it
	MetricsFile string `koanf:"metrics_file" yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`
}

// Default returns the configuration used for absent keys
func Default() Config {
	return Config{
		Seed:     1,
		LogLevel: "info",
		Sampler: SamplerConfig{
			MaxTries:      3,
			Strategy:      2,
			Confidence:    0.999,
			Method:        "nelder-mead",
			MaxStartDraws: 10000,
			RTol:          1e-5,
			ATol:          1e-8,
		},
		Parallel: ParallelConfig{
			Transport:     TransportLocal,
			Participants:  1,
			Size:          1,
			NATSURL:       "nats://127.0.0.1:4222",
			RetryInterval: 500 * time.Millisecond,
		},
		Output: OutputConfig{
			Dir:    "./output",
			Prefix: "maximize",
		},
	}
}

// applyDefaults fills fields that an explicit empty value would break
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Sampler.Method == "" {
		cfg.Sampler.Method = def.Sampler.Method
	}
	if cfg.Parallel.Transport == "" {
		cfg.Parallel.Transport = def.Parallel.Transport
	}
	if cfg.Parallel.RetryInterval == 0 {
		cfg.Parallel.RetryInterval = def.Parallel.RetryInterval
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = def.Output.Dir
	}
	if cfg.Output.Prefix == "" {
		cfg.Output.Prefix = def.Output.Prefix
	}
	for i := range cfg.Model.Likelihoods {
		if cfg.Model.Likelihoods[i].Name == "" {
			cfg.Model.Likelihoods[i].Name = fmt.Sprintf("gaussian_%d", i)
		}
	}
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q (must be debug, info, warn or error)", c.LogLevel)
	}

	s := c.Sampler
	if s.MaxTries < 0 {
		return fmt.Errorf("sampler.max_tries must be >= 0, got %d", s.MaxTries)
	}
	if s.Strategy < 0 || s.Strategy > 2 {
		return fmt.Errorf("sampler.strategy must be 0, 1 or 2, got %d", s.Strategy)
	}
	if s.MaxFev < 0 {
		return fmt.Errorf("sampler.maxfev must be >= 0, got %d", s.MaxFev)
	}
	if !(s.Confidence > 0 && s.Confidence < 1) {
		return fmt.Errorf("sampler.confidence must be in (0, 1), got %g", s.Confidence)
	}
	if s.MaxStartDraws < 0 {
		return fmt.Errorf("sampler.max_start_draws must be >= 0, got %d", s.MaxStartDraws)
	}
	if s.RTol < 0 || s.ATol < 0 {
		return errors.New("sampler.rtol and sampler.atol must be >= 0")
	}
	if _, err := opt.NewMinimizer(s.Method, 0); err != nil {
		return fmt.Errorf("sampler.method: %w", err)
	}
	if _, err := (opt.Options{}).Merge(s.Override); err != nil {
		return fmt.Errorf("sampler.override: %w", err)
	}

	if _, err := c.BuildModel(0); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	p := c.Parallel
	switch p.Transport {
	case TransportLocal:
		if p.Participants < 1 {
			return fmt.Errorf("parallel.participants must be >= 1, got %d", p.Participants)
		}
	case TransportNATS:
		if p.Size < 1 {
			return fmt.Errorf("parallel.size must be >= 1, got %d", p.Size)
		}
		if p.Rank < 0 || p.Rank >= p.Size {
			return fmt.Errorf("parallel.rank %d out of range for size %d", p.Rank, p.Size)
		}
		if p.NATSURL == "" {
			return errors.New("parallel.nats_url required for the nats transport")
		}
		if p.RunID == "" {
			return errors.New("parallel.run_id required for the nats transport")
		}
	default:
		return fmt.Errorf("invalid parallel.transport: %q (must be local or nats)", p.Transport)
	}
	if p.RetryInterval <= 0 {
		return errors.New("parallel.retry_interval must be positive")
	}

	if c.Output.Dir == "" {
		return errors.New("output.dir cannot be empty")
	}
	return nil
}

// BuildModel constructs the density described by the model section
func (c *Config) BuildModel(seed int64) (*model.Model, error) {
	index := make(map[string]int, len(c.Model.Params))
	params := make([]model.Param, 0, len(c.Model.Params))
	for i, pc := range c.Model.Params {
		if _, dup := index[pc.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter name: %s", pc.Name)
		}
		prior, err := pc.Prior.build()
		if err != nil {
			return nil, fmt.Errorf("param %s prior: %w", pc.Name, err)
		}
		param := model.Param{Name: pc.Name, Prior: prior}
		if pc.Ref != nil {
			ref, err := pc.Ref.build()
			if err != nil {
				return nil, fmt.Errorf("param %s ref: %w", pc.Name, err)
			}
			param.Ref = &ref
		}
		params = append(params, param)
		index[pc.Name] = i
	}

	likes := make([]model.Likelihood, 0, len(c.Model.Likelihoods))
	for _, lc := range c.Model.Likelihoods {
		indices := make([]int, len(lc.Params))
		for i, name := range lc.Params {
			idx, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("likelihood %s: unknown parameter %s", lc.Name, name)
			}
			indices[i] = idx
		}
		like, err := model.NewGaussianLikelihood(lc.Name, indices, lc.Mean, lc.Cov)
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}

	return model.New(params, likes, seed)
}

func (d DistConfig) build() (model.Prior, error) {
	switch strings.ToLower(d.Dist) {
	case model.KindUniform:
		return model.NewUniform(d.Min, d.Max)
	case model.KindNormal, "norm", "gaussian":
		return model.NewNormal(d.Loc, d.Scale)
	default:
		return model.Prior{}, fmt.Errorf("unknown distribution: %q", d.Dist)
	}
}
