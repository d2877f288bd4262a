package experiment

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/san-kum/probbvp/internal/config"
)

// Batch solves several configurations concurrently. Each job gets its own
// Experiment and Solver since estimator tolerances are per solve.
type Batch struct {
	configs []*config.Config
	logger  *zap.SugaredLogger
	workers int
}

func NewBatch(configs []*config.Config, workers int, logger *zap.SugaredLogger) *Batch {
	if workers < 1 || workers > len(configs) {
		workers = len(configs)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Batch{configs: configs, logger: logger, workers: workers}
}

// Run returns one Run per config, in order. Jobs that fail to set up leave a
// nil entry; every job error is combined into the returned error.
func (b *Batch) Run(ctx context.Context) ([]*Run, error) {
	results := make([]*Run, len(b.configs))
	errs := make([]error, len(b.configs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				cfg := b.configs[idx]
				logger := b.logger.With("job", idx)
				results[idx], errs[idx] = Solve(ctx, cfg, logger)
			}
		}()
	}
	for i := range b.configs {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	return results, multierr.Combine(errs...)
}
