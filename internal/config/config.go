package config

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOrder               = 3
	DefaultATol                = 1e-5
	DefaultRTol                = 1e-5
	DefaultInitialGridSize     = 10
	DefaultInitialSigmaSquared = 1e10
	DefaultMaxIEKS             = 10
	DefaultMaxEM               = 1
	DefaultMaxRounds           = 50
	DefaultMaxMeshSize         = 100000
	DefaultJitter              = 1e-6
	DefaultGuessDamping        = 1e-6
)

var estimators = map[string]bool{"std": true, "residual": true, "probabilistic": true}

type Config struct {
	Problem   string  `yaml:"problem"`
	Order     int     `yaml:"order"`
	Estimator string  `yaml:"estimator"`
	ATol      float64 `yaml:"atol"`
	RTol      float64 `yaml:"rtol"`

	InitialGridSize     int     `yaml:"initial_grid_size"`
	InitialSigmaSquared float64 `yaml:"initial_sigma_squared"`
	MaxIEKS             int     `yaml:"max_ieks"`
	MaxEM               int     `yaml:"max_em"`
	MaxRounds           int     `yaml:"max_rounds"`
	MaxMeshSize         int     `yaml:"max_mesh_size"`
	Jitter              float64 `yaml:"jitter"`
	InitialGuessDamping float64 `yaml:"initial_guess_damping"`

	NormaliseWithIntervalSize bool `yaml:"normalise_with_interval_size"`
	// UseInitialGuess initialises from the reference solution when the
	// problem has one.
	UseInitialGuess     bool `yaml:"use_initial_guess"`
	YieldIEKSIterations bool `yaml:"yield_ieks_iterations"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:             "pendulum",
		Order:               DefaultOrder,
		Estimator:           "residual",
		ATol:                DefaultATol,
		RTol:                DefaultRTol,
		InitialGridSize:     DefaultInitialGridSize,
		InitialSigmaSquared: DefaultInitialSigmaSquared,
		MaxIEKS:             DefaultMaxIEKS,
		MaxEM:               DefaultMaxEM,
		MaxRounds:           DefaultMaxRounds,
		MaxMeshSize:         DefaultMaxMeshSize,
		Jitter:              DefaultJitter,
		InitialGuessDamping: DefaultGuessDamping,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Problem == "" {
		err = multierr.Append(err, errors.New("problem is empty"))
	}
	if c.Order < 1 {
		err = multierr.Append(err, errors.Errorf("order must be at least 1, got %d", c.Order))
	}
	if !estimators[c.Estimator] {
		err = multierr.Append(err, errors.Errorf("unknown estimator %q", c.Estimator))
	}
	if c.ATol < 0 || c.RTol < 0 || c.ATol+c.RTol == 0 {
		err = multierr.Append(err, errors.Errorf("tolerances must be non-negative and not both zero, got atol=%g rtol=%g", c.ATol, c.RTol))
	}
	if c.InitialGridSize < 3 {
		err = multierr.Append(err, errors.Errorf("initial grid needs at least 3 points, got %d", c.InitialGridSize))
	}
	if !(c.InitialSigmaSquared > 0) {
		err = multierr.Append(err, errors.Errorf("initial sigma squared must be positive, got %g", c.InitialSigmaSquared))
	}
	if c.MaxIEKS < 1 || c.MaxEM < 1 || c.MaxRounds < 1 {
		err = multierr.Append(err, errors.Errorf("iteration budgets must be positive, got ieks=%d em=%d rounds=%d", c.MaxIEKS, c.MaxEM, c.MaxRounds))
	}
	if c.MaxMeshSize < c.InitialGridSize {
		err = multierr.Append(err, errors.Errorf("max mesh size %d below initial grid size %d", c.MaxMeshSize, c.InitialGridSize))
	}
	if c.Jitter < 0 || c.InitialGuessDamping < 0 {
		err = multierr.Append(err, errors.New("jitter and damping must be non-negative"))
	}
	return err
}
