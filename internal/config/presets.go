package config

func preset(problem string, order int, estimator string, tol float64, grid int) *Config {
	c := DefaultConfig()
	c.Problem = problem
	c.Order = order
	c.Estimator = estimator
	c.ATol, c.RTol = tol, tol
	c.InitialGridSize = grid
	return c
}

var Presets = map[string]map[string]*Config{
	"pendulum": {
		"default":       preset("pendulum", 3, "residual", 1e-5, 10),
		"loose":         preset("pendulum", 2, "residual", 1e-3, 10),
		"probabilistic": preset("pendulum", 3, "probabilistic", 1e-5, 10),
	},
	"bratu": {
		"default":      preset("bratu", 3, "residual", 1e-5, 10),
		"tight":        preset("bratu", 4, "residual", 1e-8, 20),
		"second-order": preset("bratu-second-order", 4, "residual", 1e-5, 10),
	},
	"matlab": {
		"default": preset("matlab", 4, "residual", 1e-5, 20),
		"std":     preset("matlab", 4, "std", 1e-4, 20),
		"guess": func() *Config {
			c := preset("matlab", 4, "residual", 1e-5, 20)
			c.UseInitialGuess = true
			return c
		}(),
	},
	"problem-7": {
		"default": preset("problem-7", 5, "residual", 1e-4, 50),
	},
	"problem-15": {
		"default": preset("problem-15", 5, "residual", 1e-4, 50),
	},
	"r-example": {
		"default": preset("r-example", 5, "residual", 1e-4, 50),
	},
	"seir": {
		"default": preset("seir", 3, "residual", 1e-3, 20),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(problem, name string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	cfg, ok := problemPresets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	return names
}
