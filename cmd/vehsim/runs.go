package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/export"
	"github.com/san-kum/vehsim/internal/metrics"
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/scene"
	"github.com/san-kum/vehsim/internal/storage"
	"github.com/san-kum/vehsim/internal/track"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "record the state broadcast of a running simulator",
		Long: "record subscribes to the state broadcast and writes every new tick to a run.\n" +
			"Recording stops on interrupt, after --ticks samples, or when the simulator\n" +
			"resets or changes schema.",
		Args: cobra.NoArgs,
		RunE: runRecord,
	}
	cmd.Flags().IntVar(&recordTicks, "ticks", 0, "stop after this many samples (0 records until interrupted)")
	cmd.Flags().StringVar(&recordModel, "name", "", "run name prefix (defaults to the model name)")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	log := cliLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := comm.NewClient(serverAddr)
	defer client.Close()

	adminCtx, adminCancel := context.WithTimeout(ctx, adminTimeout)
	defer adminCancel()
	simCfg, err := client.Admin(adminCtx, comm.AdminCommand{Type: comm.CmdGetSimConfig})
	if err != nil {
		return err
	}
	schemaReply, err := client.Admin(adminCtx, comm.AdminCommand{Type: comm.CmdGetSchema})
	if err != nil {
		return err
	}
	if !schemaReply.Success || schemaReply.Schema == nil {
		return fmt.Errorf("get-schema: %s", schemaReply.Message)
	}
	schema := schemaReply.Schema

	name := recordModel
	if name == "" {
		name = schema.ModelName
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	rec, err := st.Create(storage.RunMetadata{
		Model:         name,
		Source:        schema.ModelRef,
		Dt:            simCfg.Timestep,
		SchemaVersion: schema.Version,
		States:        schema.StateNames(),
		Inputs:        schema.InputNames(),
	})
	if err != nil {
		return err
	}
	log.Info().Str("run", rec.ID()).Str("model", schema.ModelName).Msg("recording")

	var (
		last     uint64
		started  bool
		samples  int
		writeErr error
	)
	subErr := client.SubscribeState(ctx, func(u comm.StateUpdate) {
		if u.SchemaVersion != schema.Version {
			log.Info().Uint64("version", u.SchemaVersion).Msg("schema changed, stopping")
			cancel()
			return
		}
		if started && u.Tick <= last {
			if u.Tick < last {
				log.Info().Uint64("tick", u.Tick).Msg("simulation reset, stopping")
				cancel()
			}
			return
		}
		started, last = true, u.Tick
		if err := rec.Write(storage.Sample{Tick: u.Tick, Time: u.SimTime, States: u.States, Inputs: u.Inputs}); err != nil {
			writeErr = err
			cancel()
			return
		}
		samples++
		if recordTicks > 0 && samples >= recordTicks {
			cancel()
		}
	})

	err = errors.Join(subErr, writeErr, rec.Close())
	fmt.Printf("run id: %s\n", rec.ID())
	fmt.Printf("samples: %d\n", samples)
	return err
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "list recorded runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
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
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tDURATION\tDT\tTICKS\tSCHEMA")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%.4fs\t%d\tv%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Ticks,
			run.SchemaVersion,
		)
	}

	return w.Flush()
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot recorded channels",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	cmd.Flags().StringVar(&plotColumn, "column", "", "channel to plot (input.<name> for inputs); default plots the first states")
	cmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")
	return cmd
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	series, err := st.LoadStates(runID)
	if err != nil {
		return err
	}

	if len(series.Rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(series.Rows))

	columns := []string{plotColumn}
	if plotColumn == "" {
		columns = meta.States
		if len(columns) > 6 {
			columns = columns[:6]
		}
	}

	for _, col := range columns {
		data, err := series.Column(col)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(col+" vs tick"),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	return nil
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run to JSON, or its trajectory to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	cmd.Flags().StringVar(&svgPath, "svg", "", "write the driven path to this SVG file instead of JSON to stdout")
	cmd.Flags().StringVar(&trackPath, "track", "", "track CSV whose cones are drawn under the path")
	return cmd
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)
	if svgPath == "" {
		return st.ExportJSON(runID, os.Stdout)
	}

	series, err := st.LoadStates(runID)
	if err != nil {
		return err
	}
	xs, err := series.Column(model.StateX)
	if err != nil {
		return err
	}
	ys, err := series.Column(model.StateY)
	if err != nil {
		return err
	}
	points := make([]export.Point, len(xs))
	for i := range xs {
		points[i] = export.Point{X: xs[i], Y: ys[i]}
	}

	var cones []scene.Cone
	if trackPath != "" {
		if cones, err = track.LoadCones(trackPath); err != nil {
			return err
		}
	}

	f, err := os.Create(svgPath)
	if err != nil {
		return err
	}
	if err := export.TrajectorySVG(f, points, cones, 800, 600); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d points, %d cones)\n", svgPath, len(points), len(cones))
	return nil
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary [run_id]",
		Short: "summarize a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  summarizeRun,
	}
}

func summarizeRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	series, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	results := metrics.Evaluate(meta, series, metrics.ForRun(meta))
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d over %.2fs\n\n", len(series.Rows), meta.Duration)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%.4f\n", name, results[name])
	}
	return w.Flush()
}
