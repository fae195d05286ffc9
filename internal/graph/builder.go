package graph

import (
	"path/filepath"

	"pcapflow/internal/csvstore"

	"go.uber.org/zap"
)

// Builder accumulates CSV files (or shards) into a graph. Not safe for
// concurrent use; the orchestrator gives each shard its own builder and
// merges the results under a lock.
type Builder struct {
	g   *Graph
	log *zap.Logger
}

// NewBuilder returns a builder over an empty graph.
func NewBuilder(log *zap.Logger) *Builder {
	return &Builder{g: New(), log: log}
}

// AddCSV folds every row of one flow CSV into the graph. Row identity is the
// file's base name plus the row index, so re-adding the same file is a no-op
// for rows already accounted. A schema deviation fails the whole file with
// model.ErrInconsistentSchema and leaves the graph unchanged.
func (b *Builder) AddCSV(path string) error {
	rows, err := csvstore.ReadAll(path)
	if err != nil {
		return err
	}

	source := filepath.Base(path)
	added := 0
	for i, row := range rows {
		if b.g.AddRow(RowID{Source: source, Index: i}, row) {
			added++
		}
	}
	if added < len(rows) {
		b.log.Warn("duplicate rows skipped",
			zap.String("file", source),
			zap.Int("skipped", len(rows)-added))
	}
	b.log.Debug("csv folded into graph",
		zap.String("file", source),
		zap.Int("rows", added))
	return nil
}

// Graph finalizes the build and hands the graph off to the caller. The
// builder must not be used afterwards.
func (b *Builder) Graph() *Graph {
	g := b.g
	b.g = nil
	return g
}
