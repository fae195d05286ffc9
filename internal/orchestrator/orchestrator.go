// Package orchestrator fans pipeline work out across a bounded worker pool.
// Stage A turns one capture file into one flow CSV; stage B folds one CSV or
// shard into the run's graph. A file's stage B is scheduled only after its
// stage A has fully flushed, and per-file failures never abort sibling files.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"pcapflow/internal/config"
	"pcapflow/internal/csvstore"
	"pcapflow/internal/extract"
	"pcapflow/internal/graph"
	"pcapflow/internal/logging"
	"pcapflow/internal/metrics"
	"pcapflow/internal/model"
	"pcapflow/internal/split"
	"pcapflow/pkg/pcap"

	"go.uber.org/zap"
)

// ctxCheckInterval is how many packets are read between cancellation checks.
const ctxCheckInterval = 1024

// FlowSink receives each file's finished flow rows, e.g. for a ClickHouse
// table. Sink errors are logged, never fatal.
type FlowSink interface {
	WriteFlows(ctx context.Context, sourceFile string, rows []*model.FlowRecord) error
}

// FileFailure records one excluded file or shard with the stage it failed in.
type FileFailure struct {
	Path  string
	Stage string
	Err   error
}

// Tally is the per-file success/failure outcome of a run.
type Tally struct {
	Succeeded int
	Failed    int
	Failures  []FileFailure
}

func (t Tally) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", t.Succeeded, t.Failed)
}

// Orchestrator drives the pipeline stages for a set of input files.
type Orchestrator struct {
	cfg  *config.Config
	logs *logging.Pipeline
	reg  *metrics.Registry
	sink FlowSink
}

// New creates an orchestrator. The logging pipeline and metrics registry are
// passed in explicitly; there is no global logging state.
func New(cfg *config.Config, logs *logging.Pipeline, reg *metrics.Registry) *Orchestrator {
	return &Orchestrator{cfg: cfg, logs: logs, reg: reg}
}

// WithSink attaches an optional flow sink.
func (o *Orchestrator) WithSink(s FlowSink) *Orchestrator {
	o.sink = s
	return o
}

// CSVPath returns the stage-A output path for one capture file.
func (o *Orchestrator) CSVPath(captureFile string) string {
	stem := strings.TrimSuffix(filepath.Base(captureFile), filepath.Ext(captureFile))
	return filepath.Join(o.cfg.Pipeline.OutputDir, stem+".csv")
}

type stageAResult struct {
	file string
	csv  string
	err  error
}

type stageBResult struct {
	file  string
	shard string
	err   error
}

// Run executes the full pipeline over files and returns the final graph and
// tally. The graph contains every shard that aggregated cleanly; files
// counted as failed contributed either nothing (stage A failure) or only
// their clean shards (stage B shard failure).
func (o *Orchestrator) Run(ctx context.Context, files []string) (*graph.Graph, Tally) {
	extLog := o.logs.Stage("extraction")
	gbLog := o.logs.Stage("graph-building")

	pool := newWorkerPool(o.cfg.Pipeline.NumWorkers)
	defer pool.Close()

	aCh := make(chan stageAResult, len(files))
	for _, file := range files {
		file := file
		pool.Submit(func() {
			csv, err := o.convertOne(ctx, file, extLog)
			aCh <- stageAResult{file: file, csv: csv, err: err}
		})
	}

	final := graph.New()
	var mergeMu sync.Mutex

	bCh := make(chan stageBResult)
	var tally Tally
	// pendingShards tracks stage-B work per source file; failedFiles marks
	// files already counted as failed.
	pendingShards := make(map[string]int)
	failedFiles := make(map[string]bool)
	pendingA := len(files)
	pendingB := 0

	fail := func(path, stage string, err error) {
		tally.Failures = append(tally.Failures, FileFailure{Path: path, Stage: stage, Err: err})
	}

	// scheduleB submits from its own goroutine so the coordinator below never
	// blocks on a full task queue while workers wait to deliver results.
	scheduleB := func(file string, shards []string) {
		if len(shards) == 0 {
			// An empty capture has no rows to shard; stage A alone is the
			// whole pipeline for it.
			o.reg.FilesTotal.WithLabelValues("graph-building", "ok").Inc()
			tally.Succeeded++
			return
		}
		pendingShards[file] = len(shards)
		pendingB += len(shards)
		go func() {
			for _, shard := range shards {
				shard := shard
				pool.Submit(func() {
					err := o.buildOne(ctx, shard, final, &mergeMu, gbLog)
					bCh <- stageBResult{file: file, shard: shard, err: err}
				})
			}
		}()
	}

	for pendingA > 0 || pendingB > 0 {
		select {
		case r := <-aCh:
			pendingA--
			if r.err != nil {
				o.reg.FilesTotal.WithLabelValues("extraction", "failed").Inc()
				failedFiles[r.file] = true
				tally.Failed++
				fail(r.file, "extraction", r.err)
				continue
			}
			o.reg.FilesTotal.WithLabelValues("extraction", "ok").Inc()

			shards := []string{r.csv}
			if o.cfg.Pipeline.SplitByDst {
				shardPaths, err := split.ByDestination(r.csv, o.cfg.Pipeline.OutputDir)
				if err != nil {
					gbLog.Warn("destination split failed, building unsplit",
						zap.String("file", r.csv), zap.Error(err))
				} else {
					shards = shardPaths
				}
			}
			scheduleB(r.file, shards)

		case r := <-bCh:
			pendingB--
			pendingShards[r.file]--
			if r.err != nil {
				o.reg.ShardsTotal.WithLabelValues("failed").Inc()
				fail(r.shard, "graph-building", r.err)
				if !failedFiles[r.file] {
					failedFiles[r.file] = true
					tally.Failed++
				}
				continue
			}
			o.reg.ShardsTotal.WithLabelValues("ok").Inc()
			if pendingShards[r.file] == 0 && !failedFiles[r.file] {
				o.reg.FilesTotal.WithLabelValues("graph-building", "ok").Inc()
				tally.Succeeded++
			}
		}
	}

	return final, tally
}

// Convert runs stage A alone over files, returning the produced CSV paths.
func (o *Orchestrator) Convert(ctx context.Context, files []string) ([]string, Tally) {
	extLog := o.logs.Stage("extraction")

	pool := newWorkerPool(o.cfg.Pipeline.NumWorkers)
	defer pool.Close()

	results := make(chan stageAResult, len(files))
	for _, file := range files {
		file := file
		pool.Submit(func() {
			csv, err := o.convertOne(ctx, file, extLog)
			results <- stageAResult{file: file, csv: csv, err: err}
		})
	}

	var tally Tally
	var csvs []string
	for range files {
		r := <-results
		if r.err != nil {
			o.reg.FilesTotal.WithLabelValues("extraction", "failed").Inc()
			tally.Failed++
			tally.Failures = append(tally.Failures, FileFailure{Path: r.file, Stage: "extraction", Err: r.err})
			continue
		}
		o.reg.FilesTotal.WithLabelValues("extraction", "ok").Inc()
		tally.Succeeded++
		csvs = append(csvs, r.csv)
	}
	return csvs, tally
}

// Split shards each CSV by destination host, returning all shard paths.
func (o *Orchestrator) Split(ctx context.Context, csvs []string) ([]string, Tally) {
	log := o.logs.Stage("splitting")

	var tally Tally
	var shards []string
	for _, path := range csvs {
		if ctx.Err() != nil {
			tally.Failed++
			tally.Failures = append(tally.Failures, FileFailure{Path: path, Stage: "splitting", Err: model.ErrTimeout})
			continue
		}
		out, err := split.ByDestination(path, o.cfg.Pipeline.OutputDir)
		if err != nil {
			log.Warn("split failed", zap.String("file", path), zap.Error(err))
			tally.Failed++
			tally.Failures = append(tally.Failures, FileFailure{Path: path, Stage: "splitting", Err: err})
			continue
		}
		log.Info("csv split by destination",
			zap.String("file", path), zap.Int("shards", len(out)))
		tally.Succeeded++
		shards = append(shards, out...)
	}
	return shards, tally
}

// BuildGraph runs stage B alone over already-written CSVs or shards.
func (o *Orchestrator) BuildGraph(ctx context.Context, csvs []string) (*graph.Graph, Tally) {
	gbLog := o.logs.Stage("graph-building")

	pool := newWorkerPool(o.cfg.Pipeline.NumWorkers)
	defer pool.Close()

	final := graph.New()
	var mergeMu sync.Mutex

	results := make(chan stageBResult, len(csvs))
	for _, path := range csvs {
		path := path
		pool.Submit(func() {
			err := o.buildOne(ctx, path, final, &mergeMu, gbLog)
			results <- stageBResult{file: path, shard: path, err: err}
		})
	}

	var tally Tally
	for range csvs {
		r := <-results
		if r.err != nil {
			o.reg.ShardsTotal.WithLabelValues("failed").Inc()
			tally.Failed++
			tally.Failures = append(tally.Failures, FileFailure{Path: r.shard, Stage: "graph-building", Err: r.err})
			continue
		}
		o.reg.ShardsTotal.WithLabelValues("ok").Inc()
		tally.Succeeded++
	}
	return final, tally
}

// convertOne is the stage-A unit: capture file in, committed CSV out. On any
// failure (including timeout) the partially written CSV is discarded.
func (o *Orchestrator) convertOne(ctx context.Context, file string, log *zap.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.Timeout())
	defer cancel()

	reader, err := pcap.NewReader(file)
	if err != nil {
		log.Warn("capture skipped", zap.String("file", file), zap.Error(err))
		return "", err
	}
	defer reader.Close()

	table := extract.NewFlowTable()
	packets := 0
	for {
		if packets%ctxCheckInterval == 0 && ctx.Err() != nil {
			err := timeoutErr(ctx, file)
			log.Warn("capture abandoned", zap.String("file", file), zap.Error(err))
			return "", err
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("capture skipped", zap.String("file", file), zap.Error(err))
			return "", err
		}
		packets++
		if err := table.Add(rec); err != nil {
			if errors.Is(err, model.ErrCounterOverflow) {
				log.Warn("flow counter overflow, packet not counted",
					zap.String("file", file), zap.String("flow", rec.Tuple.Key()))
				continue
			}
			return "", err
		}
	}
	o.reg.PacketsTotal.Add(float64(packets))

	csvPath := o.CSVPath(file)
	w, err := csvstore.NewWriter(csvPath)
	if err != nil {
		return "", err
	}
	var bytes uint64
	for _, row := range table.Rows() {
		if ctx.Err() != nil {
			w.Abort()
			err := timeoutErr(ctx, file)
			log.Warn("capture abandoned", zap.String("file", file), zap.Error(err))
			return "", err
		}
		if err := w.WriteRow(row); err != nil {
			w.Abort()
			return "", err
		}
		bytes += row.ByteCount
	}
	if err := w.Commit(); err != nil {
		return "", err
	}
	o.reg.FlowBytes.Add(float64(bytes))

	log.Info("capture converted",
		zap.String("file", file),
		zap.Int("packets", packets),
		zap.Int("flows", table.Len()),
		zap.Uint64("bytes", bytes))

	if o.sink != nil {
		if err := o.sink.WriteFlows(ctx, filepath.Base(file), table.Rows()); err != nil {
			log.Warn("flow sink write failed", zap.String("file", file), zap.Error(err))
		}
	}
	return csvPath, nil
}

// buildOne is the stage-B unit: one CSV or shard folded into its own graph,
// then merged into the final graph under the merge lock.
func (o *Orchestrator) buildOne(ctx context.Context, shard string, final *graph.Graph, mu *sync.Mutex, log *zap.Logger) error {
	if ctx.Err() != nil {
		return timeoutErr(ctx, shard)
	}

	b := graph.NewBuilder(log)
	if err := b.AddCSV(shard); err != nil {
		log.Warn("shard excluded from graph", zap.String("shard", shard), zap.Error(err))
		return err
	}
	g := b.Graph()

	mu.Lock()
	err := final.Merge(g)
	mu.Unlock()
	if err != nil {
		log.Warn("shard rejected by merge", zap.String("shard", shard), zap.Error(err))
		return err
	}
	o.reg.GraphMerges.Inc()

	log.Info("shard merged",
		zap.String("shard", shard),
		zap.Int("rows", g.RowCount()),
		zap.Uint64("bytes", g.TotalBytes()))
	return nil
}

func timeoutErr(ctx context.Context, path string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.NewFileError(path, 0, model.ErrTimeout)
	}
	return model.NewFileError(path, 0, ctx.Err())
}
