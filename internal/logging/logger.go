// Package logging provides the pipeline's stage-scoped logging sinks: one
// zap logger per named stage, each backed by its own size/count-rotated file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Pipeline hands out one logger per stage name. Loggers are cached, so every
// caller asking for a stage shares the stream and its write ordering.
type Pipeline struct {
	mu         sync.Mutex
	dir        string
	maxSize    int64
	maxBackups int
	level      zapcore.Level
	streams    map[string]*zap.Logger
	files      map[string]*RotatingFile
}

// NewPipeline creates the log directory if needed and returns the stage
// logger factory. maxSize is the per-stream rotation threshold in bytes.
func NewPipeline(dir string, maxSize int64, maxBackups int) (*Pipeline, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Pipeline{
		dir:        dir,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		level:      zapcore.InfoLevel,
		streams:    make(map[string]*zap.Logger),
		files:      make(map[string]*RotatingFile),
	}, nil
}

// Stage returns the logger for a named stage, creating its backing stream at
// <dir>/<stage>.log on first use. Falls back to a no-op logger if the stream
// cannot be opened, so logging never takes down the pipeline.
func (p *Pipeline) Stage(name string) *zap.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()

	if log, ok := p.streams[name]; ok {
		return log
	}

	rf, err := OpenRotatingFile(filepath.Join(p.dir, name+".log"), p.maxSize, p.maxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log stream %q: %v\n", name, err)
		log := zap.NewNop()
		p.streams[name] = log
		return log
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), rf, p.level)

	log := zap.New(core).Named(name)
	p.streams[name] = log
	p.files[name] = rf
	return log
}

// Stream exposes a stage's rotating file, mainly for rotation accounting.
func (p *Pipeline) Stream(name string) (*RotatingFile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rf, ok := p.files[name]
	return rf, ok
}

// Close syncs and closes every stream.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, log := range p.streams {
		// Sync through zap first so buffered entries reach the file.
		if err := log.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if rf, ok := p.files[name]; ok {
			if err := rf.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	p.streams = make(map[string]*zap.Logger)
	p.files = make(map[string]*RotatingFile)
	return firstErr
}
