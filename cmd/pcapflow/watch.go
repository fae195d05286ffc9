package main

import (
	"context"

	"pcapflow/internal/watch"

	"go.uber.org/zap"
)

// newDropBoxWatcher wires the directory watcher to the convert pipeline: each
// settled capture file is converted on arrival.
func newDropBoxWatcher(a *app, log *zap.Logger) (*watch.Watcher, error) {
	return watch.New(a.cfg.Pipeline.InputDir, a.cfg.Watch.Settle(), log, func(path string) {
		csvs, tally := a.orch.Convert(context.Background(), []string{path})
		if tally.Failed > 0 {
			log.Warn("dropped capture failed", zap.String("file", path))
			return
		}
		log.Info("dropped capture converted",
			zap.String("file", path),
			zap.Strings("csv", csvs))
	})
}
