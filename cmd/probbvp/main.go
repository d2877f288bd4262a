package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/probbvp/internal/config"
	"github.com/san-kum/probbvp/internal/experiment"
	"github.com/san-kum/probbvp/internal/export"
	"github.com/san-kum/probbvp/internal/logging"
	"github.com/san-kum/probbvp/internal/problems"
	"github.com/san-kum/probbvp/internal/storage"
	"github.com/san-kum/probbvp/internal/viz"
)

var (
	dataDir string
	verbose bool

	order      int
	estimator  string
	atol       float64
	rtol       float64
	gridSize   int
	maxRounds  int
	useGuess   bool
	normalise  bool
	yieldIEKS  bool
	configFile string
	preset     string
	noSave     bool

	outFile    string
	coord      int
	orders     []int
	numWorkers int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "probbvp",
		Short:         "probabilistic boundary value problem solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".probbvp", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "solve a problem and store the run",
		Args:  cobra.ExactArgs(1),
		RunE:  solve,
	}
	addSolveFlags(solveCmd)
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	watchCmd := &cobra.Command{
		Use:   "watch [problem]",
		Short: "solve with a live view of the refinement",
		Args:  cobra.ExactArgs(1),
		RunE:  watch,
	}
	addSolveFlags(watchCmd)

	compareCmd := &cobra.Command{
		Use:   "compare [problem] [estimator...]",
		Short: "solve one problem with several estimators and orders in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE:  compare,
	}
	addSolveFlags(compareCmd)
	compareCmd.Flags().IntSliceVar(&orders, "orders", nil, "prior orders to compare (default: --order)")
	compareCmd.Flags().IntVar(&numWorkers, "workers", 0, "parallel solves (default: all)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVarP(&outFile, "out", "o", "", "write the solution to an image (svg, png, pdf) instead of the terminal")
	plotCmd.Flags().IntVar(&coord, "coord", 0, "coordinate to write with --out")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list available problems",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, e := range problems.NewRegistry().List() {
				fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
			}
			w.Flush()
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		Run:   listPresets,
	}

	rootCmd.AddCommand(solveCmd, watchCmd, compareCmd, listCmd, plotCmd, exportCmd, problemsCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addSolveFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&order, "order", config.DefaultOrder, "prior order q")
	cmd.Flags().StringVar(&estimator, "estimator", "residual", "error estimator (std, residual, probabilistic)")
	cmd.Flags().Float64Var(&atol, "atol", config.DefaultATol, "absolute tolerance")
	cmd.Flags().Float64Var(&rtol, "rtol", config.DefaultRTol, "relative tolerance")
	cmd.Flags().IntVar(&gridSize, "grid", config.DefaultInitialGridSize, "initial grid size")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", config.DefaultMaxRounds, "refinement round limit")
	cmd.Flags().BoolVar(&useGuess, "guess", false, "initialise from the reference solution")
	cmd.Flags().BoolVar(&normalise, "normalise", false, "divide interval errors by the interval width")
	cmd.Flags().BoolVar(&yieldIEKS, "yield-ieks", false, "report every smoother iteration")
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

// resolveConfig layers a preset, then a config file, then explicit flags.
func resolveConfig(cmd *cobra.Command, problem string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Problem = problem

	if preset != "" {
		p := config.GetPreset(problem, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(problem))
		}
		cfg = p
	}

	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		cfg = c
		cfg.Problem = problem
	}

	flags := cmd.Flags()
	if flags.Changed("order") {
		cfg.Order = order
	}
	if flags.Changed("estimator") {
		cfg.Estimator = estimator
	}
	if flags.Changed("atol") {
		cfg.ATol = atol
	}
	if flags.Changed("rtol") {
		cfg.RTol = rtol
	}
	if flags.Changed("grid") {
		cfg.InitialGridSize = gridSize
	}
	if flags.Changed("max-rounds") {
		cfg.MaxRounds = maxRounds
	}
	if flags.Changed("guess") {
		cfg.UseInitialGuess = useGuess
	}
	if flags.Changed("normalise") {
		cfg.NormaliseWithIntervalSize = normalise
	}
	if flags.Changed("yield-ieks") {
		cfg.YieldIEKSIterations = yieldIEKS
	}
	return cfg, cfg.Validate()
}

func newLogger() *zap.SugaredLogger {
	return logging.NewLogger("probbvp", verbose)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func solve(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	run, err := experiment.Solve(ctx, cfg, logger)
	if run == nil {
		return err
	}
	printRun(run)

	if !noSave && run.Posterior != nil {
		st := storage.New(dataDir)
		if initErr := st.Init(); initErr != nil {
			return initErr
		}
		runID, saveErr := st.Save(run)
		if saveErr != nil {
			return errors.Wrap(saveErr, "saving run")
		}
		fmt.Printf("\nsaved run %s\n", runID)
	}
	return err
}

func printRun(run *experiment.Run) {
	status := "converged"
	if !run.Converged {
		status = "not converged"
	}
	fmt.Printf("%s (order %d, %s, atol=%g rtol=%g): %s in %s\n\n",
		run.Config.Problem, run.Config.Order, run.Config.Estimator, run.Config.ATol, run.Config.RTol,
		status, run.Elapsed.Round(1e6))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUND\tMESH\tACCEPTED\tMAX ERROR\tSIGMA²\tDIFFUSION")
	for _, r := range run.Rounds {
		fmt.Fprintf(w, "%d\t%d\t%d/%d\t%.3e\t%.3e\t%.3e\n",
			r.Round, r.MeshSize, r.Accepted, r.Intervals, r.MaxError, r.SigmaSquared, r.Diffusion)
	}
	w.Flush()

	if !math.IsNaN(run.ReferenceError) {
		fmt.Printf("\nmax error vs reference: %.3e\n", run.ReferenceError)
	}
	if len(run.ShootingDefect) > 0 {
		fmt.Printf("shooting defect:        %s\n", formatVec(run.ShootingDefect))
	}
	if len(run.MeshShootingDefect) > 0 {
		fmt.Printf("rk4 on final mesh:      %s\n", formatVec(run.MeshShootingDefect))
	}
}

func formatVec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.3e", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func watch(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	// Log output would tear the alternate screen.
	e := experiment.New(cfg, logging.NewNop())
	if err := e.Setup(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	gen, err := e.Generator(ctx)
	if err != nil {
		return err
	}

	final, err := tea.NewProgram(viz.NewWatch(ctx, cfg.Problem, gen), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	m := final.(viz.Watch)
	if !m.Done() {
		fmt.Println("stopped before convergence")
		return nil
	}
	if m.Err() != nil {
		return m.Err()
	}
	last := m.Last()
	fmt.Printf("%s converged after %d rounds on %d points (σ²=%.3e)\n",
		cfg.Problem, last.Round+1, len(last.Mesh), last.SigmaSquared)
	return nil
}

func compare(cmd *cobra.Command, args []string) error {
	problem := args[0]
	estimators := args[1:]
	if len(estimators) == 0 {
		estimators = []string{"std", "residual", "probabilistic"}
	}

	base, err := resolveConfig(cmd, problem)
	if err != nil {
		return err
	}
	qs := orders
	if len(qs) == 0 {
		qs = []int{base.Order}
	}

	var configs []*config.Config
	for _, q := range qs {
		for _, est := range estimators {
			c := *base
			c.Order = q
			c.Estimator = est
			if err := c.Validate(); err != nil {
				return err
			}
			configs = append(configs, &c)
		}
	}

	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("comparing %d configurations for %s (atol=%g rtol=%g)\n\n", len(configs), problem, base.ATol, base.RTol)
	runs, batchErr := experiment.NewBatch(configs, numWorkers, logger).Run(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tESTIMATOR\tSTATUS\tROUNDS\tMESH\tREF ERROR\tTIME")
	for i, run := range runs {
		c := configs[i]
		if run == nil {
			fmt.Fprintf(w, "%d\t%s\tfailed\t-\t-\t-\t-\n", c.Order, c.Estimator)
			continue
		}
		status := "converged"
		if !run.Converged {
			status = "not converged"
		}
		refErr := "-"
		if !math.IsNaN(run.ReferenceError) {
			refErr = fmt.Sprintf("%.3e", run.ReferenceError)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			c.Order, c.Estimator, status, len(run.Rounds), len(run.Mesh), refErr, run.Elapsed.Round(1e6))
	}
	w.Flush()

	if batchErr != nil {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, batchErr)
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tORDER\tESTIMATOR\tTOL\tROUNDS\tMESH\tSTATUS")

	for _, run := range runs {
		status := "ok"
		if !run.Converged {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.0e\t%d\t%d\t%s\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Order,
			run.Estimator,
			math.Max(run.ATol, run.RTol),
			run.Rounds,
			len(run.Mesh),
			status,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	times, means, stds, err := st.LoadPosterior(runID)
	if err != nil {
		return err
	}
	rounds, err := st.LoadRounds(runID)
	if err != nil {
		return err
	}

	if outFile != "" {
		title := fmt.Sprintf("%s (order %d, %s)", meta.Problem, meta.Order, meta.Estimator)
		p, err := export.Solution(title, times, means, stds, coord, meta.Mesh)
		if err != nil {
			return err
		}
		if err := export.Save(p, outFile); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", outFile)
		return nil
	}

	fmt.Println(viz.Title.Render(fmt.Sprintf("%s  (order %d, %s)", meta.Problem, meta.Order, meta.Estimator)))
	fmt.Println()

	if len(times) > 0 {
		for i := range means[0] {
			fmt.Println(viz.Solution(times, means, stds, i))
			fmt.Println()
		}
	}
	for _, plot := range []string{viz.MeshGrowth(rounds), viz.ErrorHistory(rounds)} {
		if plot != "" {
			fmt.Println(plot)
			fmt.Println()
		}
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if outFile == "" {
		return st.Export(args[0], os.Stdout)
	}
	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return st.Export(args[0], f)
}

func listPresets(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		names := config.ListPresets(args[0])
		if names == nil {
			fmt.Printf("no presets for %s\n", args[0])
			return
		}
		sort.Strings(names)
		fmt.Printf("presets for %s: %s\n", args[0], strings.Join(names, ", "))
		return
	}

	problemNames := make([]string, 0, len(config.Presets))
	for name := range config.Presets {
		problemNames = append(problemNames, name)
	}
	sort.Strings(problemNames)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tPRESETS")
	for _, name := range problemNames {
		names := config.ListPresets(name)
		sort.Strings(names)
		fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(names, ", "))
	}
	w.Flush()
}
