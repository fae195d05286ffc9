// Package split partitions a flow CSV by destination host so downstream graph
// building can run one worker per destination without write races on an edge.
package split

import (
	"path/filepath"
	"sort"
	"strings"

	"pcapflow/internal/csvstore"
	"pcapflow/internal/model"
)

// shardMarker separates the source stem from the destination host in shard
// file names.
const shardMarker = ".dst-"

// ShardPath returns the output path for one destination's shard of the input.
func ShardPath(outDir, inputPath, dst string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(outDir, stem+shardMarker+dst+".csv")
}

// SourceCSV reports the CSV a shard was derived from, next to the shard, and
// whether path names a shard at all. Callers globbing a directory that holds
// both use it to avoid feeding the same rows twice.
func SourceCSV(path string) (string, bool) {
	base := filepath.Base(path)
	i := strings.Index(base, shardMarker)
	if i < 0 || !strings.HasSuffix(base, ".csv") {
		return "", false
	}
	return filepath.Join(filepath.Dir(path), base[:i]+".csv"), true
}

// ByDestination splits one CSV into one shard per distinct destination host.
// Every input row is routed to exactly one shard and row order within a shard
// follows the input. Shards are written atomically; on error no shard from
// this call is left behind partially written. Returns the shard paths in
// destination order.
func ByDestination(inputPath, outDir string) ([]string, error) {
	rows, err := csvstore.ReadAll(inputPath)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*model.FlowRecord)
	var dsts []string
	for _, row := range rows {
		dst := row.DstAddr()
		if _, ok := groups[dst]; !ok {
			dsts = append(dsts, dst)
		}
		groups[dst] = append(groups[dst], row)
	}
	sort.Strings(dsts)

	paths := make([]string, 0, len(dsts))
	for _, dst := range dsts {
		path := ShardPath(outDir, inputPath, dst)
		if err := csvstore.WriteFile(path, groups[dst]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
