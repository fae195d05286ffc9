package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// FiveTuple identifies a network flow within one capture file.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Key returns the canonical string form of the tuple, used as a map key
// and to match flows across serialization boundaries.
func (ft FiveTuple) Key() string {
	return ft.SrcIP.String() + "-" + ft.DstIP.String() + "-" +
		strconv.Itoa(int(ft.SrcPort)) + "-" + strconv.Itoa(int(ft.DstPort)) + "-" +
		strconv.Itoa(int(ft.Protocol))
}

// PacketRecord holds the metadata extracted from a single captured packet.
// Records are ephemeral: they live only for the duration of one file's read pass.
type PacketRecord struct {
	Timestamp time.Time
	Tuple     FiveTuple
	Length    int
	// Unclassified marks packets without flow-identifying fields (non-IPv4).
	// The tuple is zero for such records.
	Unclassified bool
}

// FlowRecord aggregates the packets of one flow within one capture file.
type FlowRecord struct {
	Tuple       FiveTuple
	PacketCount uint64
	ByteCount   uint64
	FirstSeen   time.Time
	LastSeen    time.Time
	// Unclassified flows carry traffic that had no 5-tuple; their addresses
	// serialize as UnclassifiedHost.
	Unclassified bool
}

// UnclassifiedHost is the address label under which non-IP traffic is
// accounted in CSV rows and in the graph.
const UnclassifiedHost = "unclassified"

// SrcAddr returns the source address label for serialization.
func (f *FlowRecord) SrcAddr() string {
	if f.Unclassified {
		return UnclassifiedHost
	}
	return f.Tuple.SrcIP.String()
}

// DstAddr returns the destination address label for serialization.
func (f *FlowRecord) DstAddr() string {
	if f.Unclassified {
		return UnclassifiedHost
	}
	return f.Tuple.DstIP.String()
}

func (f *FlowRecord) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto=%d pkts=%d bytes=%d",
		f.SrcAddr(), f.Tuple.SrcPort, f.DstAddr(), f.Tuple.DstPort,
		f.Tuple.Protocol, f.PacketCount, f.ByteCount)
}
