package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/rdspiral/internal/analysis"
	"github.com/san-kum/rdspiral/internal/export"
	"github.com/san-kum/rdspiral/internal/metrics"
	"github.com/san-kum/rdspiral/internal/sim"
	"github.com/san-kum/rdspiral/internal/storage"
	"github.com/san-kum/rdspiral/internal/tui"
)

func column(samples []metrics.Sample, get func(metrics.Sample) float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if v := get(s); !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, runID := locateRun(args[0])

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadStats(runID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("verdict: %s\n", meta.Verdict)
	fmt.Printf("samples: %d\n\n", len(samples))

	series := []struct {
		caption string
		get     func(metrics.Sample) float64
	}{
		{"pattern intensity", metrics.Sample.Intensity},
		{"mean u", func(s metrics.Sample) float64 { return s.UMean }},
		{"std u", func(s metrics.Sample) float64 { return s.UStd }},
		{"complexity", func(s metrics.Sample) float64 { return s.Complexity }},
	}
	for _, sr := range series {
		data := column(samples, sr.get)
		if len(data) == 0 {
			continue
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(sr.caption),
		))
		fmt.Println()
	}

	if svgDir != "" {
		if err := writeSVGs(st, meta, samples); err != nil {
			return err
		}
	}

	if showField {
		db, err := st.OpenFields(runID)
		if err != nil {
			return err
		}
		defer db.Close()
		t, pair, err := db.Snapshot(meta.FinalTime)
		if err != nil {
			return fmt.Errorf("no stored field: %w", err)
		}
		fmt.Printf("u at t=%g\n", t)
		fmt.Print(tui.Heatmap(pair.U, meta.Params.N, 64, -1, 1, true))
	}
	return nil
}

func writeSVGs(st *storage.Store, meta *storage.RunMetadata, samples []metrics.Sample) error {
	if err := os.MkdirAll(svgDir, 0755); err != nil {
		return err
	}
	write := func(name string, draw func(f *os.File) error) error {
		path := filepath.Join(svgDir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := draw(f); err != nil {
			f.Close()
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return f.Close()
	}

	points := analysis.MeanPortrait(samples).Points
	if len(points) >= 2 {
		if err := write("phase.svg", func(f *os.File) error {
			return export.TrajectoryToSVG(f, points, 600, 600, "#00ffff")
		}); err != nil {
			return err
		}
	}

	db, err := st.OpenFields(meta.ID)
	if err != nil {
		return err
	}
	defer db.Close()
	_, pair, err := db.Snapshot(meta.FinalTime)
	if err != nil {
		return nil
	}
	cell := math.Max(1, 512/float64(meta.Params.N))
	if err := write("u.svg", func(f *os.File) error {
		return export.FieldToSVG(f, pair.U, meta.Params.N, cell, -1, 1)
	}); err != nil {
		return err
	}
	return write("v.svg", func(f *os.File) error {
		return export.FieldToSVG(f, pair.V, meta.Params.N, cell, -1, 1)
	})
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st, runID := locateRun(args[0])

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadStats(runID)
	if err != nil {
		return err
	}
	if len(samples) < 4 {
		return fmt.Errorf("need at least 4 samples, have %d", len(samples))
	}
	p := meta.Params

	ustd := column(samples, func(s metrics.Sample) float64 { return s.UStd })
	ps := analysis.PowerSpectrum(ustd)
	if len(ps) > 1 {
		fmt.Println(asciigraph.Plot(ps[1:],
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("power spectrum of std u"),
		))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "verdict\t%s\n", meta.Verdict)
	fmt.Fprintf(w, "dominant period (std u)\t%.4g\n", analysis.DominantPeriod(ustd, p.Dt))
	umean := column(samples, func(s metrics.Sample) float64 { return s.UMean })
	fmt.Fprintf(w, "dominant period (mean u)\t%.4g\n", analysis.DominantPeriod(umean, p.Dt))
	fmt.Fprintf(w, "rotation period (crossings)\t%.4g\n", analysis.RotationPeriod(samples))
	fmt.Fprintf(w, "limit-cycle period 2π/β\t%.4g\n", 2*math.Pi/p.Beta)

	db, err := st.OpenFields(runID)
	if err != nil {
		return err
	}
	defer db.Close()
	if t, pair, err := db.Snapshot(meta.FinalTime); err == nil {
		g, err := p.Grid()
		if err != nil {
			return err
		}
		bins, err := analysis.RadialSpectrum(pair.U, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "pattern wavelength (t=%g)\t%.4g\n", t, analysis.PeakWavelength(bins))
		fmt.Fprintf(w, "complexity (t=%g)\t%.4f\n", t, metrics.Complexity(pair.U))
	}

	if lyapunov {
		rec, err := db.LatestCheckpoint()
		if err != nil {
			return fmt.Errorf("lyapunov needs a checkpoint: %w", err)
		}
		s, err := sim.New(p, sim.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		q := p
		q.TStart = rec.Time
		q.TEnd = rec.Time + 20

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		lambda, err := analysis.LyapunovExponent(ctx, s.Model(), q, s.Model().Pack(rec.Fields), 1e-6, 1)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "largest Lyapunov exponent (t=%g..%g)\t%.4g\n", q.TStart, q.TEnd, lambda)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("mean field (u, v):")
	fmt.Print(analysis.PhasePortraitToASCII(analysis.MeanPortrait(samples), 60, 20))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	values, err := parseValues(sweepVals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	points, err := analysis.Sweep(ctx, cfg.Params(), sweepOver, values, parallel, slog.Default())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tVERDICT\tTAIL INTENSITY\n", sweepOver)
	for _, pt := range points {
		verdict := pt.Verdict.String()
		if pt.Err != "" {
			verdict = "error: " + pt.Err
		}
		fmt.Fprintf(w, "%g\t%s\t%v\n", pt.Param, verdict, pt.Values)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()
	fmt.Print(analysis.SweepToASCII(points, 60, 15))
	return nil
}
