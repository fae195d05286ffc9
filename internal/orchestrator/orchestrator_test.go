package orchestrator

import (
	"context"
	"errors"
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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFlow struct {
	src, dst     string
	sport, dport uint16
	packets      int
	payload      int
}

// writeCapture writes one packet run per flow, interleaving nothing, with
// deterministic timestamps. Returns the total wire bytes written.
func writeCapture(t *testing.T, path string, flows []testFlow) uint64 {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	var total uint64
	ts := time.Unix(1700000000, 0)
	for _, fl := range flows {
		for p := 0; p < fl.packets; p++ {
			eth := &layers.Ethernet{
				SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
				DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
				EthernetType: layers.EthernetTypeIPv4,
			}
			ip := &layers.IPv4{
				SrcIP:    net.ParseIP(fl.src).To4(),
				DstIP:    net.ParseIP(fl.dst).To4(),
				Version:  4,
				TTL:      64,
				Protocol: layers.IPProtocolTCP,
			}
			tcp := &layers.TCP{SrcPort: layers.TCPPort(fl.sport), DstPort: layers.TCPPort(fl.dport), Window: 14600}
			require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

			buf := gopacket.NewSerializeBuffer()
			opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
			require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp,
				gopacket.Payload(make([]byte, fl.payload))))

			ci := gopacket.CaptureInfo{
				Timestamp:     ts,
				CaptureLength: len(buf.Bytes()),
				Length:        len(buf.Bytes()),
			}
			require.NoError(t, w.WritePacket(ci, buf.Bytes()))
			total += uint64(len(buf.Bytes()))
			ts = ts.Add(time.Millisecond)
		}
	}
	return total
}

func newTestOrchestrator(t *testing.T, mutate func(*config.Config)) (*Orchestrator, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Log.Dir = filepath.Join(t.TempDir(), "logs")
	cfg.Pipeline.NumWorkers = 3
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, os.MkdirAll(cfg.Pipeline.OutputDir, 0o755))

	logs, err := logging.NewPipeline(cfg.Log.Dir, cfg.Log.MaxSizeBytes, cfg.Log.MaxBackups)
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	return New(cfg, logs, metrics.NewRegistry()), cfg
}

// counterValue reads one counter back out of the orchestrator's registry,
// matching on metric name and label pairs.
func counterValue(t *testing.T, o *Orchestrator, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := o.reg.Gather().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						matched = true
						break
					}
				}
				if !matched {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRun_EndToEnd(t *testing.T) {
	inDir := t.TempDir()
	fileA := filepath.Join(inDir, "a.pcap")
	fileB := filepath.Join(inDir, "b.pcap")
	fileC := filepath.Join(inDir, "c.pcap")

	bytesA := writeCapture(t, fileA, []testFlow{
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40000, dport: 80, packets: 3, payload: 100},
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40001, dport: 443, packets: 2, payload: 200},
	})
	bytesB := writeCapture(t, fileB, []testFlow{
		{src: "10.0.0.2", dst: "10.0.0.3", sport: 50000, dport: 22, packets: 4, payload: 50},
	})
	require.NoError(t, os.WriteFile(fileC, []byte("garbage, not a capture"), 0o644))

	o, _ := newTestOrchestrator(t, nil)
	g, tally := o.Run(context.Background(), []string{fileA, fileB, fileC})

	assert.Equal(t, 2, tally.Succeeded)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, "2 succeeded, 1 failed", tally.String())

	require.Len(t, tally.Failures, 1)
	assert.Equal(t, fileC, tally.Failures[0].Path)
	assert.ErrorIs(t, tally.Failures[0].Err, model.ErrMalformedCapture)

	nodes := g.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "10.0.0.1", nodes[0].Addr)
	assert.Equal(t, "10.0.0.2", nodes[1].Addr)
	assert.Equal(t, "10.0.0.3", nodes[2].Addr)

	e12, ok := g.Edge("10.0.0.1", "10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, bytesA, e12.Bytes)
	assert.Equal(t, uint64(2), e12.Flows)

	e23, ok := g.Edge("10.0.0.2", "10.0.0.3")
	require.True(t, ok)
	assert.Equal(t, bytesB, e23.Bytes)
	assert.Equal(t, uint64(1), e23.Flows)

	// Conservation across the whole run.
	assert.Equal(t, bytesA+bytesB, g.TotalBytes())

	// The registry saw the same outcomes the tally reports.
	assert.Equal(t, 2.0, counterValue(t, o, "pcapflow_files_total",
		map[string]string{"stage": "extraction", "status": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, o, "pcapflow_files_total",
		map[string]string{"stage": "extraction", "status": "failed"}))
	assert.Equal(t, 2.0, counterValue(t, o, "pcapflow_files_total",
		map[string]string{"stage": "graph-building", "status": "ok"}))
	assert.Equal(t, 9.0, counterValue(t, o, "pcapflow_packets_total", nil))
	assert.Equal(t, float64(bytesA+bytesB), counterValue(t, o, "pcapflow_flow_bytes_total", nil))
	assert.Equal(t, 2.0, counterValue(t, o, "pcapflow_shards_total",
		map[string]string{"status": "ok"}))
	assert.Equal(t, 2.0, counterValue(t, o, "pcapflow_graph_merges_total", nil))
}

func TestRun_SplitByDestination(t *testing.T) {
	inDir := t.TempDir()
	fileA := filepath.Join(inDir, "a.pcap")
	total := writeCapture(t, fileA, []testFlow{
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40000, dport: 80, packets: 2, payload: 120},
		{src: "10.0.0.1", dst: "10.0.0.3", sport: 40001, dport: 80, packets: 2, payload: 80},
	})

	o, cfg := newTestOrchestrator(t, func(c *config.Config) { c.Pipeline.SplitByDst = true })
	g, tally := o.Run(context.Background(), []string{fileA})

	assert.Equal(t, 1, tally.Succeeded)
	assert.Equal(t, 0, tally.Failed)
	assert.Equal(t, total, g.TotalBytes())

	// One shard per destination was written next to the CSV.
	_, err := os.Stat(filepath.Join(cfg.Pipeline.OutputDir, "a.dst-10.0.0.2.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Pipeline.OutputDir, "a.dst-10.0.0.3.csv"))
	assert.NoError(t, err)
}

func TestConvert_WritesCSVPerCapture(t *testing.T) {
	inDir := t.TempDir()
	fileA := filepath.Join(inDir, "a.pcap")
	writeCapture(t, fileA, []testFlow{
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40000, dport: 80, packets: 5, payload: 64},
	})

	o, _ := newTestOrchestrator(t, nil)
	csvs, tally := o.Convert(context.Background(), []string{fileA})

	assert.Equal(t, 1, tally.Succeeded)
	require.Len(t, csvs, 1)

	rows, err := csvstore.ReadAll(csvs[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(5), rows[0].PacketCount)
}

func TestConvert_TimeoutLeavesNoPartialCSV(t *testing.T) {
	inDir := t.TempDir()
	fileA := filepath.Join(inDir, "a.pcap")
	writeCapture(t, fileA, []testFlow{
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40000, dport: 80, packets: 10, payload: 64},
	})

	o, cfg := newTestOrchestrator(t, func(c *config.Config) { c.Pipeline.FileTimeout = "1ns" })
	csvs, tally := o.Convert(context.Background(), []string{fileA})

	assert.Empty(t, csvs)
	assert.Equal(t, 1, tally.Failed)
	require.Len(t, tally.Failures, 1)
	assert.ErrorIs(t, tally.Failures[0].Err, model.ErrTimeout)

	entries, err := os.ReadDir(cfg.Pipeline.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildGraph_BadShardIsolated(t *testing.T) {
	o, cfg := newTestOrchestrator(t, nil)

	good := filepath.Join(cfg.Pipeline.OutputDir, "good.csv")
	require.NoError(t, csvstore.WriteFile(good, []*model.FlowRecord{{
		Tuple: model.FiveTuple{
			SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"),
			SrcPort: 1, DstPort: 2, Protocol: 6,
		},
		PacketCount: 1, ByteCount: 99,
		FirstSeen: time.Unix(0, 0), LastSeen: time.Unix(0, 0),
	}}))
	bad := filepath.Join(cfg.Pipeline.OutputDir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("totally,different,layout\n1,2,3\n"), 0o644))

	g, tally := o.BuildGraph(context.Background(), []string{good, bad})

	assert.Equal(t, 1, tally.Succeeded)
	assert.Equal(t, 1, tally.Failed)
	assert.True(t, errors.Is(tally.Failures[0].Err, model.ErrInconsistentSchema))
	assert.Equal(t, uint64(99), g.TotalBytes())
}

func TestRun_LogsMalformedCapture(t *testing.T) {
	inDir := t.TempDir()
	fileC := filepath.Join(inDir, "c.pcap")
	require.NoError(t, os.WriteFile(fileC, []byte("garbage"), 0o644))

	o, cfg := newTestOrchestrator(t, nil)
	_, tally := o.Run(context.Background(), []string{fileC})
	assert.Equal(t, 1, tally.Failed)

	o.logs.Close()
	data, err := os.ReadFile(filepath.Join(cfg.Log.Dir, "extraction.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "capture skipped")
	assert.Contains(t, string(data), "malformed capture")
}

func TestGraphEquivalence_SplitVsUnsplit(t *testing.T) {
	inDir := t.TempDir()
	fileA := filepath.Join(inDir, "a.pcap")
	writeCapture(t, fileA, []testFlow{
		{src: "10.0.0.1", dst: "10.0.0.2", sport: 40000, dport: 80, packets: 2, payload: 100},
		{src: "10.0.0.3", dst: "10.0.0.2", sport: 40001, dport: 80, packets: 1, payload: 50},
		{src: "10.0.0.1", dst: "10.0.0.4", sport: 40002, dport: 80, packets: 3, payload: 75},
	})

	unsplit, _ := newTestOrchestrator(t, nil)
	gu, _ := unsplit.Run(context.Background(), []string{fileA})

	sharded, _ := newTestOrchestrator(t, func(c *config.Config) { c.Pipeline.SplitByDst = true })
	gs, _ := sharded.Run(context.Background(), []string{fileA})

	assert.Equal(t, gu.TotalBytes(), gs.TotalBytes())
	assert.Equal(t, gu.Nodes(), gs.Nodes())
	assert.Equal(t, gu.Edges(), gs.Edges())
}
