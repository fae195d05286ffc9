// Command pcapflow drives the capture-analysis pipeline:
//
//	pcapflow convert [flags] [capture...]   captures -> flow CSVs
//	pcapflow split   [flags] [csv...]       CSVs -> per-destination shards
//	pcapflow graph   [flags] [csv...]       CSVs/shards -> graph artifact
//	pcapflow run     [flags] [capture...]   full pipeline end to end
//	pcapflow watch   [flags]                process captures as they appear
//
// Exit status is 0 when at least one input succeeded, 1 when none did or a
// shared failure (e.g. unwritable output directory) occurred, 2 on usage
// errors. Partial results are always kept for the inputs that succeeded.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"pcapflow/internal/config"
	"pcapflow/internal/graph"
	"pcapflow/internal/logging"
	"pcapflow/internal/metrics"
	"pcapflow/internal/orchestrator"
	"pcapflow/internal/sink"
	"pcapflow/internal/split"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "convert":
		code = cmdConvert(os.Args[2:])
	case "split":
		code = cmdSplit(os.Args[2:])
	case "graph":
		code = cmdGraph(os.Args[2:])
	case "run":
		code = cmdRun(os.Args[2:])
	case "watch":
		code = cmdWatch(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: pcapflow <convert|split|graph|run|watch> [flags] [inputs...]")
	fmt.Fprintln(os.Stderr, "Run 'pcapflow <command> -h' for command flags.")
}

// app bundles everything a subcommand needs.
type app struct {
	cfg  *config.Config
	logs *logging.Pipeline
	reg  *metrics.Registry
	orch *orchestrator.Orchestrator
	sink *sink.ClickHouseSink
}

// setup parses the common flags, loads configuration and wires the
// orchestrator. Remaining positional arguments are returned as inputs.
func setup(name string, args []string) (*app, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	inputDir := fs.String("in", "", "Input directory (overrides config)")
	outputDir := fs.String("out", "", "Output directory (overrides config)")
	workers := fs.Int("workers", 0, "Worker budget (overrides config)")
	timeout := fs.String("timeout", "", "Per-file timeout, e.g. 90s (overrides config)")
	splitByDst := fs.Bool("split-by-dst", false, "Shard CSVs by destination host before graph building")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if *inputDir != "" {
		cfg.Pipeline.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Pipeline.OutputDir = *outputDir
	}
	if *workers > 0 {
		cfg.Pipeline.NumWorkers = *workers
	}
	if *timeout != "" {
		cfg.Pipeline.FileTimeout = *timeout
	}
	if *splitByDst {
		cfg.Pipeline.SplitByDst = true
	}

	if err := os.MkdirAll(cfg.Pipeline.OutputDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("output directory unwritable: %w", err)
	}

	logs, err := logging.NewPipeline(cfg.Log.Dir, cfg.Log.MaxSizeBytes, cfg.Log.MaxBackups)
	if err != nil {
		return nil, nil, err
	}

	reg := metrics.NewRegistry()
	a := &app{
		cfg:  cfg,
		logs: logs,
		reg:  reg,
		orch: orchestrator.New(cfg, logs, reg),
	}

	if cfg.ClickHouse.Enabled {
		chSink, err := sink.NewClickHouseSink(context.Background(), cfg.ClickHouse)
		if err != nil {
			// The sink is best-effort; a missing ClickHouse must not stop a run.
			logs.Stage("extraction").Warn("clickhouse sink disabled", zap.Error(err))
		} else {
			a.sink = chSink
			a.orch.WithSink(chSink)
		}
	}

	return a, fs.Args(), nil
}

func (a *app) close() {
	if a.sink != nil {
		a.sink.Close()
	}
	a.logs.Close()
}

// captureInputs resolves the capture files to process: positional arguments
// if given, otherwise every capture in the input directory.
func (a *app) captureInputs(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var files []string
	for _, pattern := range []string{"*.pcap", "*.cap"} {
		matches, err := filepath.Glob(filepath.Join(a.cfg.Pipeline.InputDir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// csvInputs resolves the CSVs to process: positional arguments if given,
// otherwise every CSV in the output directory. Shards whose source CSV is
// also in the directory are dropped, since graphing both would count every
// shared row twice.
func (a *app) csvInputs(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	files, err := filepath.Glob(filepath.Join(a.cfg.Pipeline.OutputDir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return dropShadowedShards(files), nil
}

func dropShadowedShards(files []string) []string {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	kept := files[:0]
	for _, f := range files {
		if src, ok := split.SourceCSV(f); ok && present[src] {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// exitCode maps a tally to the process exit status: partial failure is fine,
// total failure is not.
func exitCode(t orchestrator.Tally, hadInputs bool) int {
	if !hadInputs {
		fmt.Fprintln(os.Stderr, "no input files")
		return 1
	}
	fmt.Println(t.String())
	for _, f := range t.Failures {
		fmt.Fprintf(os.Stderr, "failed [%s] %s: %v\n", f.Stage, f.Path, f.Err)
	}
	if t.Succeeded == 0 {
		return 1
	}
	return 0
}

func cmdConvert(args []string) int {
	a, rest, err := setup("convert", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	files, err := a.captureInputs(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	_, tally := a.orch.Convert(context.Background(), files)
	return exitCode(tally, len(files) > 0)
}

func cmdSplit(args []string) int {
	a, rest, err := setup("split", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	csvs, err := a.csvInputs(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	shards, tally := a.orch.Split(context.Background(), csvs)
	fmt.Printf("%d shards written\n", len(shards))
	return exitCode(tally, len(csvs) > 0)
}

func cmdGraph(args []string) int {
	a, rest, err := setup("graph", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	csvs, err := a.csvInputs(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	g, tally := a.orch.BuildGraph(context.Background(), csvs)
	if tally.Succeeded > 0 {
		if err := a.saveGraph(g); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return exitCode(tally, len(csvs) > 0)
}

func cmdRun(args []string) int {
	a, rest, err := setup("run", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	files, err := a.captureInputs(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	g, tally := a.orch.Run(context.Background(), files)
	if tally.Succeeded > 0 {
		if err := a.saveGraph(g); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return exitCode(tally, len(files) > 0)
}

func cmdWatch(args []string) int {
	a, _, err := setup("watch", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := a.logs.Stage("watch")

	// Watch mode is the long-running one, so it carries the scrape endpoint.
	if addr := a.cfg.Watch.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.reg.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics endpoint listening", zap.String("addr", addr))
	}

	w, err := newDropBoxWatcher(a, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (a *app) saveGraph(g *graph.Graph) error {
	path := filepath.Join(a.cfg.Pipeline.OutputDir, "graph.json")
	if err := graph.Save(path, graph.Snapshot(g)); err != nil {
		return fmt.Errorf("failed to write graph artifact: %w", err)
	}
	fmt.Printf("graph artifact: %s (%d nodes, %d edges, %d bytes)\n",
		path, len(g.Nodes()), len(g.Edges()), g.TotalBytes())
	return nil
}
