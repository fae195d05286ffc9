package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile_RotatesPastThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extraction.log")

	rf, err := OpenRotatingFile(path, 100, 2)
	require.NoError(t, err)
	defer rf.Close()

	line := []byte("0123456789012345678901234567890123456789\n") // 41 bytes
	for i := 0; i < 6; i++ {
		_, err := rf.Write(line)
		require.NoError(t, err)
	}

	// 2 lines fit per file; 6 writes mean two rotations.
	assert.Equal(t, 2, rf.Rotations())
	_, err = os.Stat(backupName(path, 1))
	assert.NoError(t, err)
	_, err = os.Stat(backupName(path, 2))
	assert.NoError(t, err)
}

func TestRotatingFile_DiscardsOldestBeyondMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.log")

	rf, err := OpenRotatingFile(path, 10, 1)
	require.NoError(t, err)
	defer rf.Close()

	for i := 0; i < 5; i++ {
		_, err := rf.Write([]byte(fmt.Sprintf("line-%d----\n", i)))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// Current file plus exactly one backup survive.
	assert.Len(t, entries, 2)

	// The backup holds the most recent rotated-out line, not the oldest.
	backup, err := os.ReadFile(backupName(path, 1))
	require.NoError(t, err)
	assert.Contains(t, string(backup), "line-3")
}

func TestRotatingFile_OversizedWriteStaysWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.log")

	rf, err := OpenRotatingFile(path, 10, 1)
	require.NoError(t, err)
	defer rf.Close()

	big := bytes.Repeat([]byte("x"), 64)
	n, err := rf.Write(append(big, '\n'))
	require.NoError(t, err)
	assert.Equal(t, 65, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 65)
}

func TestRotatingFile_ConcurrentWritesKeepLinesWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.log")

	rf, err := OpenRotatingFile(path, 1<<20, 0)
	require.NoError(t, err)
	defer rf.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			line := []byte(fmt.Sprintf("writer-%d writes a full line here\n", w))
			for i := 0; i < 100; i++ {
				rf.Write(line)
			}
		}(w)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	assert.Len(t, lines, 800)
	for _, line := range lines {
		assert.Contains(t, string(line), "writes a full line here")
	}
}

func TestPipeline_StageStreamsAreSeparate(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPipeline(dir, 1<<20, 2)
	require.NoError(t, err)
	defer p.Close()

	p.Stage("extraction").Info("reading capture")
	p.Stage("graph-building").Info("folding csv")
	require.NoError(t, p.Close())

	ext, err := os.ReadFile(filepath.Join(dir, "extraction.log"))
	require.NoError(t, err)
	gb, err := os.ReadFile(filepath.Join(dir, "graph-building.log"))
	require.NoError(t, err)

	assert.Contains(t, string(ext), "reading capture")
	assert.NotContains(t, string(ext), "folding csv")
	assert.Contains(t, string(gb), "folding csv")
}

func TestPipeline_StageIsCached(t *testing.T) {
	p, err := NewPipeline(t.TempDir(), 1<<20, 1)
	require.NoError(t, err)
	defer p.Close()

	assert.Same(t, p.Stage("extraction"), p.Stage("extraction"))
}
