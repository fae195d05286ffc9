package pcap

import (
	"errors"
	"io"
	"os"
	"strings"

	"pcapflow/internal/model"

	"github.com/google/gopacket/pcapgo"
)

// Reader reads packet records from a pcap file in capture order.
// The sequence is lazy and finite; opening a new Reader on the same path
// restarts it from the first packet.
type Reader struct {
	path    string
	file    *os.File
	counted *countingReader
	pr      *pcapgo.Reader
}

// countingReader tracks the byte offset of the underlying file so read
// failures can be reported with a reproducible position.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NewReader opens a capture file. A file whose header is not a recognized
// pcap format fails with model.ErrMalformedCapture.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, model.NewFileError(filePath, 0, errors.Join(model.ErrIOFailure, err))
	}

	counted := &countingReader{r: f}
	pr, err := pcapgo.NewReader(counted)
	if err != nil {
		f.Close()
		return nil, model.NewFileError(filePath, 0, errors.Join(model.ErrMalformedCapture, err))
	}

	return &Reader{path: filePath, file: f, counted: counted, pr: pr}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Read returns the next packet record, or io.EOF at the end of the capture.
// A record whose declared length exceeds the remaining file bytes fails with
// model.ErrTruncatedRecord; the error carries the byte offset reached.
func (r *Reader) Read() (*model.PacketRecord, error) {
	data, ci, err := r.pr.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || isLengthError(err) {
			return nil, model.NewFileError(r.path, r.counted.n, errors.Join(model.ErrTruncatedRecord, err))
		}
		return nil, model.NewFileError(r.path, r.counted.n, errors.Join(model.ErrIOFailure, err))
	}

	rec := ParseRecord(data, r.pr.LinkType())
	rec.Timestamp = ci.Timestamp
	rec.Length = ci.Length
	return rec, nil
}

// isLengthError matches pcapgo's per-record length sanity failures ("capture
// length exceeds snap length" and "capture length exceeds original packet
// length"), which it reports as plain errors rather than typed ones.
func isLengthError(err error) bool {
	return strings.Contains(err.Error(), "capture length exceeds")
}
