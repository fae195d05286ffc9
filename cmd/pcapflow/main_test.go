package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pcapflow/internal/config"
	"pcapflow/internal/csvstore"
	"pcapflow/internal/logging"
	"pcapflow/internal/metrics"
	"pcapflow/internal/model"
	"pcapflow/internal/orchestrator"
	"pcapflow/internal/split"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowRow(src, dst string, bytes uint64) *model.FlowRecord {
	return &model.FlowRecord{
		Tuple: model.FiveTuple{
			SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst),
			SrcPort: 40000, DstPort: 80, Protocol: 6,
		},
		PacketCount: 1, ByteCount: bytes,
		FirstSeen: time.Unix(1700000000, 0), LastSeen: time.Unix(1700000001, 0),
	}
}

// An output directory holding both a CSV and the shards split from it must
// contribute every row exactly once when the graph inputs are globbed.
func TestCSVInputs_ShardsShadowedBySource(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Log.Dir = filepath.Join(t.TempDir(), "logs")

	source := filepath.Join(cfg.Pipeline.OutputDir, "a.csv")
	require.NoError(t, csvstore.WriteFile(source, []*model.FlowRecord{
		flowRow("10.0.0.1", "10.0.0.2", 100),
	}))
	shards, err := split.ByDestination(source, cfg.Pipeline.OutputDir)
	require.NoError(t, err)
	require.Len(t, shards, 1)

	a := &app{cfg: cfg}
	inputs, err := a.csvInputs(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{source}, inputs)

	logs, err := logging.NewPipeline(cfg.Log.Dir, cfg.Log.MaxSizeBytes, cfg.Log.MaxBackups)
	require.NoError(t, err)
	defer logs.Close()

	orch := orchestrator.New(cfg, logs, metrics.NewRegistry())
	g, tally := orch.BuildGraph(context.Background(), inputs)
	assert.Equal(t, 1, tally.Succeeded)
	assert.Equal(t, uint64(100), g.TotalBytes())
}

func TestCSVInputs_ShardsUsedWhenSourceAbsent(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()

	source := filepath.Join(cfg.Pipeline.OutputDir, "a.csv")
	require.NoError(t, csvstore.WriteFile(source, []*model.FlowRecord{
		flowRow("10.0.0.1", "10.0.0.2", 100),
		flowRow("10.0.0.1", "10.0.0.3", 50),
	}))
	shards, err := split.ByDestination(source, cfg.Pipeline.OutputDir)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.NoError(t, os.Remove(source))

	a := &app{cfg: cfg}
	inputs, err := a.csvInputs(nil)
	require.NoError(t, err)
	assert.Equal(t, shards, inputs)
}

func TestCSVInputs_PositionalArgsPassThrough(t *testing.T) {
	a := &app{cfg: config.Default()}
	inputs, err := a.csvInputs([]string{"x.csv", "y.dst-10.0.0.2.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x.csv", "y.dst-10.0.0.2.csv"}, inputs)
}
