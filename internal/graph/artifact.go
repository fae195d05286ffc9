package graph

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"pcapflow/internal/model"
)

// Artifact is the persisted form of a finalized graph: a node table and an
// edge table, suitable for downstream visualization tooling.
type Artifact struct {
	GeneratedAt string `json:"generated_at"`
	TotalBytes  uint64 `json:"total_bytes"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

// Snapshot captures the graph as an artifact. Node and edge tables are sorted
// so equal graphs serialize identically.
func Snapshot(g *Graph) *Artifact {
	return &Artifact{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		TotalBytes:  g.TotalBytes(),
		Nodes:       g.Nodes(),
		Edges:       g.Edges(),
	}
}

// Save writes the artifact as indented JSON via a temporary path, renaming
// into place only on success.
func Save(path string, a *Artifact) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Join(model.ErrIOFailure, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	return nil
}

// Load reads an artifact back from disk.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(model.ErrIOFailure, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Join(model.ErrInconsistentSchema, err)
	}
	return &a, nil
}
