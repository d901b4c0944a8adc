package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/san-kum/rdspiral/internal/config"
	"github.com/san-kum/rdspiral/internal/sim"
	"github.com/san-kum/rdspiral/internal/storage"
	"github.com/san-kum/rdspiral/internal/tui"
)

var (
	dataDir string
	verbose bool

	preset        string
	runName       string
	useTUI        bool
	d1, d2, beta  float64
	domain        float64
	resolution    int
	tEnd, dt      float64
	arms          int
	backend       string
	workers       int
	stopOnVerdict bool

	showField bool
	svgDir    string
	lyapunov  bool
	sweepOver string
	sweepVals string
	parallel  int
	writeTo   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rdspiral",
		Short:         "spiral waves in a λ-ω reaction-diffusion system",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "output directory (default: output_dir from the config, else rd_outputs)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "run a simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&preset, "preset", "", "start from a preset (see `rdspiral presets`)")
	runCmd.Flags().StringVar(&runName, "name", "", "run name")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live progress view")
	runCmd.Flags().Float64Var(&d1, "d1", 0, "diffusion coefficient of u")
	runCmd.Flags().Float64Var(&d2, "d2", 0, "diffusion coefficient of v")
	runCmd.Flags().Float64Var(&beta, "beta", 0, "reaction parameter β")
	runCmd.Flags().Float64Var(&domain, "L", 0, "domain side length")
	runCmd.Flags().IntVar(&resolution, "n", 0, "grid points per side")
	runCmd.Flags().Float64Var(&tEnd, "t-end", 0, "final time")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "output interval")
	runCmd.Flags().IntVar(&arms, "arms", 0, "number of spiral arms")
	runCmd.Flags().StringVar(&backend, "backend", "", "FFT backend (gonum|dsp)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "transform workers (0 = all CPUs)")
	runCmd.Flags().BoolVar(&stopOnVerdict, "stop-on-verdict", false, "stop once the regime is settled")

	resumeCmd := &cobra.Command{
		Use:   "resume [run_id|run_dir]",
		Short: "continue a run from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeRun,
	}
	resumeCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live progress view")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id|run_dir]",
		Short: "plot run statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().BoolVar(&showField, "field", false, "also draw the last stored u field")
	plotCmd.Flags().StringVar(&svgDir, "svg", "", "write phase.svg, u.svg and v.svg into this directory")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id|run_dir]",
		Short: "rotation period, spectra and phase portrait",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().BoolVar(&lyapunov, "lyapunov", false, "estimate the largest Lyapunov exponent from the latest checkpoint")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id|run_dir]",
		Short: "export run metadata and statistics to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets",
		RunE:  listPresets,
	}
	presetsCmd.Flags().StringVar(&writeTo, "write", "", "write the named preset to this yaml file (name as argument)")

	sweepCmd := &cobra.Command{
		Use:   "sweep [config.yaml]",
		Short: "run one simulation per parameter value",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&preset, "preset", "", "start from a preset")
	sweepCmd.Flags().StringVar(&sweepOver, "param", "beta", "parameter to vary (d1|d2|beta|L)")
	sweepCmd.Flags().StringVar(&sweepVals, "values", "", "comma-separated values")
	sweepCmd.Flags().IntVar(&parallel, "parallel", 2, "concurrent runs")
	_ = sweepCmd.MarkFlagRequired("values")

	rootCmd.AddCommand(runCmd, resumeCmd, listCmd, plotCmd, analyzeCmd, exportJSONCmd, presetsCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers preset, config file and changed flags, in that order.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		if cfg = config.GetPreset(preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if len(args) > 0 {
		loaded, err := config.Load(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("name", func() { cfg.Name = runName })
	set("d1", func() { cfg.D1 = d1 })
	set("d2", func() { cfg.D2 = d2 })
	set("beta", func() { cfg.Beta = beta })
	set("L", func() { cfg.L = domain })
	set("n", func() { cfg.N = resolution })
	set("t-end", func() { cfg.TEnd = tEnd })
	set("dt", func() { cfg.Dt = dt })
	set("arms", func() { cfg.SpiralArms = arms })
	set("backend", func() { cfg.FFTBackend = backend })
	set("workers", func() { cfg.Workers = workers })
	set("stop-on-verdict", func() { cfg.StopOnVerdict = stopOnVerdict })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func storeFor(cfg *config.Config) *storage.Store {
	switch {
	case dataDir != "":
		return storage.New(dataDir)
	case cfg != nil && cfg.OutputDir != "":
		return storage.New(cfg.OutputDir)
	}
	return storage.New(config.DefaultOutputDir)
}

// locateRun accepts a run ID under the data directory or the path of a
// run directory, which may live under any output_dir.
func locateRun(ref string) (*storage.Store, string) {
	base := dataDir
	if base == "" {
		base = config.DefaultOutputDir
	}
	return storage.Locate(base, ref)
}

// runLogger keeps the terminal free for the progress view by logging
// into the run directory instead.
func runLogger(run *storage.Run) (*slog.Logger, io.Closer, error) {
	if !useTUI {
		return slog.Default().With("run", run.ID()), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(filepath.Join(run.Dir(), "run.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f, nil
}

func execute(ctx context.Context, name string, s *sim.Simulator, fn func(context.Context) (*sim.Result, error)) (*sim.Result, error) {
	if useTUI {
		return tui.RunWithProgress(ctx, name, s, fn)
	}
	return fn(ctx)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	p := cfg.Params()

	st := storeFor(cfg)
	if err := st.Init(); err != nil {
		return err
	}
	run, err := st.Create(cfg.Name, p, cfg.SaveFields)
	if err != nil {
		return err
	}
	defer run.Close()
	opts := storage.RunOptions{StopOnVerdict: cfg.StopOnVerdict, StopOnPersistenceError: cfg.StopOnPersistenceError}
	if err := run.SetOptions(opts); err != nil {
		return err
	}

	logger, logFile, err := runLogger(run)
	if err != nil {
		return err
	}
	defer logFile.Close()

	s, err := sim.New(p,
		sim.WithLogger(logger),
		sim.WithSink(run),
		sim.WithStopOnVerdict(opts.StopOnVerdict),
		sim.WithStopOnPersistenceError(opts.StopOnPersistenceError),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("run %s (%s): %d×%d grid, t ∈ [%g, %g]\n", run.ID(), run.Dir(), p.N, p.N, p.TStart, p.TEnd)
	res, runErr := execute(ctx, run.ID(), s, s.Run)
	return report(run, res, runErr)
}

func resumeRun(cmd *cobra.Command, args []string) error {
	st, runID := locateRun(args[0])

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	db, err := st.OpenFields(runID)
	if err != nil {
		return err
	}
	rec, err := db.LatestCheckpoint()
	db.Close()
	if err != nil {
		return fmt.Errorf("no checkpoint to resume from: %w", err)
	}
	history, err := st.LoadStats(runID)
	if err != nil {
		return err
	}

	run, err := st.Open(runID, rec.Time)
	if err != nil {
		return err
	}
	defer run.Close()

	logger, logFile, err := runLogger(run)
	if err != nil {
		return err
	}
	defer logFile.Close()

	s, err := sim.New(meta.Params,
		sim.WithLogger(logger),
		sim.WithSink(run),
		sim.WithStopOnVerdict(meta.Options.StopOnVerdict),
		sim.WithStopOnPersistenceError(meta.Options.StopOnPersistenceError),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("resuming %s from checkpoint %d at t=%g\n", runID, rec.Index, rec.Time)
	res, runErr := execute(ctx, runID, s, func(ctx context.Context) (*sim.Result, error) {
		return s.Resume(ctx, rec, history)
	})
	return report(run, res, runErr)
}

func report(run *storage.Run, res *sim.Result, runErr error) error {
	if res == nil {
		return runErr
	}
	if err := run.Finish(res.FinalTime, res.Steps, res.Metrics, res.WallTime, runErr); err != nil {
		slog.Warn("could not record run outcome", "error", err)
	}

	fmt.Printf("\nrun id:      %s\n", run.ID())
	fmt.Printf("verdict:     %s\n", res.Verdict)
	fmt.Printf("final time:  %g\n", res.FinalTime)
	fmt.Printf("steps:       %s accepted, %s rejected, %s rhs evaluations\n",
		humanize.Comma(int64(res.Steps.Accepted)),
		humanize.Comma(int64(res.Steps.Rejected)),
		humanize.Comma(int64(res.Steps.Evaluations)))
	fmt.Printf("checkpoints: %d\n", len(res.Checkpoints))
	fmt.Printf("wall time:   %s\n", res.WallTime.Round(time.Millisecond))
	if res.Stopped {
		fmt.Println("stopped early: regime settled")
	}
	if res.PersistenceErr != nil {
		fmt.Printf("warning: %v\n", res.PersistenceErr)
	}
	return runErr
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storeFor(nil)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tGRID\tD1/D2/β\tT\tVERDICT\tSTEPS\tSIZE")
	for _, run := range runs {
		p := run.Params
		status := run.Verdict.Kind.String()
		if !run.Completed {
			status = "incomplete"
		}
		fmt.Fprintf(w, "%s\t%s\t%d²\t%g/%g/%g\t%g/%g\t%s\t%s\t%s\n",
			run.ID,
			humanize.Time(run.Timestamp),
			p.N,
			p.D1, p.D2, p.Beta,
			run.FinalTime, p.TEnd,
			status,
			humanize.Comma(int64(run.Steps.Accepted)),
			humanize.Bytes(dirSize(filepath.Join(st.Dir(), run.ID))),
		)
	}
	return w.Flush()
}

func dirSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, runID := locateRun(args[0])
	return st.ExportRun(os.Stdout, runID)
}

func listPresets(cmd *cobra.Command, args []string) error {
	if writeTo != "" {
		if len(args) != 1 {
			return errors.New("--write needs a preset name argument")
		}
		cfg := config.GetPreset(args[0])
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
		}
		if err := config.Save(writeTo, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s to %s\n", args[0], writeTo)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tD1\tD2\tβ\tL\tN\tT_END\tARMS")
	for _, name := range config.ListPresets() {
		c := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%g\t%d\t%g\t%d\n", name, c.D1, c.D2, c.Beta, c.L, c.N, c.TEnd, c.SpiralArms)
	}
	return w.Flush()
}

func parseValues(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("bad sweep value %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no sweep values")
	}
	return out, nil
}
