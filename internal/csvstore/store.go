// Package csvstore serializes flow tables to CSV files with a fixed column
// order. Writes are atomic at two levels: every row is flushed as a whole
// line, and the file becomes visible only through a rename after a successful
// commit, so readers never observe a trailing partial row.
package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"pcapflow/internal/model"
)

// Columns is the fixed flow-row schema, in serialization order.
var Columns = []string{
	"src_addr", "dst_addr", "src_port", "dst_port", "protocol",
	"packet_count", "byte_count", "first_seen", "last_seen",
}

// Writer writes flow rows to a temporary file and publishes it on Commit.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	csv     *csv.Writer
	done    bool
}

// NewWriter creates the temporary backing file and writes the header row.
func NewWriter(path string) (*Writer, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.Join(model.ErrIOFailure, err)
	}

	w := &Writer{path: path, tmpPath: tmpPath, file: f, csv: csv.NewWriter(f)}
	if err := w.writeLine(Columns); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// WriteRow appends one flow record as a whole CSV line.
func (w *Writer) WriteRow(flow *model.FlowRecord) error {
	return w.writeLine(encodeRow(flow))
}

func (w *Writer) writeLine(fields []string) error {
	if err := w.csv.Write(fields); err != nil {
		return errors.Join(model.ErrIOFailure, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.Join(model.ErrIOFailure, err)
	}
	return nil
}

// Commit durably publishes the file at its final path.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return errors.Join(model.ErrIOFailure, err)
	}
	return nil
}

// Abort discards the temporary file. Safe to call after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	os.Remove(w.tmpPath)
}

// WriteFile serializes rows to path in one pass.
func WriteFile(path string, rows []*model.FlowRecord) error {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}

// ReadAll parses a flow CSV, validating the header and every row against the
// fixed schema. Any deviation fails with model.ErrInconsistentSchema.
func ReadAll(path string) ([]*model.FlowRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(model.ErrIOFailure, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // schema is checked per row for a precise error

	records, err := r.ReadAll()
	if err != nil {
		return nil, model.NewFileError(path, 0, errors.Join(model.ErrInconsistentSchema, err))
	}
	if len(records) == 0 {
		return nil, model.NewFileError(path, 0, fmt.Errorf("%w: missing header", model.ErrInconsistentSchema))
	}
	if err := checkHeader(records[0]); err != nil {
		return nil, model.NewFileError(path, 0, err)
	}

	rows := make([]*model.FlowRecord, 0, len(records)-1)
	for i, rec := range records[1:] {
		flow, err := decodeRow(rec)
		if err != nil {
			return nil, model.NewFileError(path, 0, fmt.Errorf("row %d: %w", i+1, err))
		}
		rows = append(rows, flow)
	}
	return rows, nil
}

func checkHeader(header []string) error {
	if len(header) != len(Columns) {
		return fmt.Errorf("%w: %d columns, want %d", model.ErrInconsistentSchema, len(header), len(Columns))
	}
	for i, col := range Columns {
		if header[i] != col {
			return fmt.Errorf("%w: column %d is %q, want %q", model.ErrInconsistentSchema, i, header[i], col)
		}
	}
	return nil
}

func encodeRow(f *model.FlowRecord) []string {
	return []string{
		f.SrcAddr(),
		f.DstAddr(),
		strconv.FormatUint(uint64(f.Tuple.SrcPort), 10),
		strconv.FormatUint(uint64(f.Tuple.DstPort), 10),
		strconv.FormatUint(uint64(f.Tuple.Protocol), 10),
		strconv.FormatUint(f.PacketCount, 10),
		strconv.FormatUint(f.ByteCount, 10),
		strconv.FormatInt(f.FirstSeen.UnixNano(), 10),
		strconv.FormatInt(f.LastSeen.UnixNano(), 10),
	}
}

func decodeRow(fields []string) (*model.FlowRecord, error) {
	if len(fields) != len(Columns) {
		return nil, fmt.Errorf("%w: %d fields, want %d", model.ErrInconsistentSchema, len(fields), len(Columns))
	}

	flow := &model.FlowRecord{}
	if fields[0] == model.UnclassifiedHost {
		flow.Unclassified = true
	} else {
		flow.Tuple.SrcIP = net.ParseIP(fields[0])
		flow.Tuple.DstIP = net.ParseIP(fields[1])
		if flow.Tuple.SrcIP == nil || flow.Tuple.DstIP == nil {
			return nil, fmt.Errorf("%w: bad address %q/%q", model.ErrInconsistentSchema, fields[0], fields[1])
		}
	}

	ints := make([]uint64, 5)
	for i, idx := range []int{2, 3, 4, 5, 6} {
		v, err := strconv.ParseUint(fields[idx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", model.ErrInconsistentSchema, Columns[idx], err)
		}
		ints[i] = v
	}
	if ints[0] > 65535 || ints[1] > 65535 || ints[2] > 255 {
		return nil, fmt.Errorf("%w: field out of range", model.ErrInconsistentSchema)
	}
	flow.Tuple.SrcPort = uint16(ints[0])
	flow.Tuple.DstPort = uint16(ints[1])
	flow.Tuple.Protocol = uint8(ints[2])
	flow.PacketCount = ints[3]
	flow.ByteCount = ints[4]

	for i, idx := range []int{7, 8} {
		ns, err := strconv.ParseInt(fields[idx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", model.ErrInconsistentSchema, Columns[idx], err)
		}
		ts := time.Unix(0, ns)
		if i == 0 {
			flow.FirstSeen = ts
		} else {
			flow.LastSeen = ts
		}
	}
	return flow, nil
}
