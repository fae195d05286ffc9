// Package extract reduces one capture file's packet records into flow
// records keyed by 5-tuple. One flow table is built per input file; tables
// are never merged across files at this stage.
package extract

import (
	"errors"
	"io"
	"math"

	"pcapflow/internal/model"

	"go.uber.org/zap"
)

// PacketSource is the record sequence produced by a capture reader.
type PacketSource interface {
	Read() (*model.PacketRecord, error)
}

// unclassifiedKey is the flow-table key for packets without a 5-tuple.
const unclassifiedKey = "unclassified"

// FlowTable maps 5-tuples to flow records, preserving first-seen order so
// serialized output is reproducible.
type FlowTable struct {
	order []string
	flows map[string]*model.FlowRecord
	// overflowed remembers flows whose counters saturated, so the condition
	// is reported once per flow rather than once per packet.
	overflowed map[string]bool
}

// NewFlowTable returns an empty flow table.
func NewFlowTable() *FlowTable {
	return &FlowTable{
		flows:      make(map[string]*model.FlowRecord),
		overflowed: make(map[string]bool),
	}
}

// Add folds one packet record into the table. Unclassified packets accumulate
// in a distinguished bucket instead of failing. Returns
// model.ErrCounterOverflow if the flow's counters would exceed their width;
// the flow keeps its last valid counts.
func (t *FlowTable) Add(rec *model.PacketRecord) error {
	key := unclassifiedKey
	if !rec.Unclassified {
		key = rec.Tuple.Key()
	}

	flow, ok := t.flows[key]
	if !ok {
		t.flows[key] = &model.FlowRecord{
			Tuple:        rec.Tuple,
			PacketCount:  1,
			ByteCount:    uint64(rec.Length),
			FirstSeen:    rec.Timestamp,
			LastSeen:     rec.Timestamp,
			Unclassified: rec.Unclassified,
		}
		t.order = append(t.order, key)
		return nil
	}

	if t.overflowed[key] {
		return model.ErrCounterOverflow
	}
	if flow.PacketCount == math.MaxUint64 || flow.ByteCount > math.MaxUint64-uint64(rec.Length) {
		t.overflowed[key] = true
		return model.ErrCounterOverflow
	}

	flow.PacketCount++
	flow.ByteCount += uint64(rec.Length)
	flow.LastSeen = rec.Timestamp
	return nil
}

// Len returns the number of distinct flows in the table.
func (t *FlowTable) Len() int { return len(t.flows) }

// Rows returns the flow records in first-seen order.
func (t *FlowTable) Rows() []*model.FlowRecord {
	rows := make([]*model.FlowRecord, 0, len(t.order))
	for _, key := range t.order {
		rows = append(rows, t.flows[key])
	}
	return rows
}

// Lookup returns the flow for a tuple key, for inspection.
func (t *FlowTable) Lookup(key string) (*model.FlowRecord, bool) {
	f, ok := t.flows[key]
	return f, ok
}

// Extract drains a packet source into a new flow table. Counter overflows are
// logged and skipped; any other read error ends the file and is returned.
func Extract(src PacketSource, log *zap.Logger) (*FlowTable, error) {
	table := NewFlowTable()
	for {
		rec, err := src.Read()
		if err == io.EOF {
			return table, nil
		}
		if err != nil {
			return nil, err
		}
		if err := table.Add(rec); err != nil {
			if errors.Is(err, model.ErrCounterOverflow) {
				log.Warn("flow counter overflow, packet not counted",
					zap.String("flow", rec.Tuple.Key()))
				continue
			}
			return nil, err
		}
	}
}
