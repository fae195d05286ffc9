package pcap

import (
	"pcapflow/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParseRecord decodes a raw packet and extracts the flow-identifying fields.
// Packets without an IPv4 layer are returned as unclassified records rather
// than errors, so callers can account for them without failing the file.
// Protocols other than TCP/UDP keep their protocol number with zero ports.
func ParseRecord(data []byte, linkType layers.LinkType) *model.PacketRecord {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)

	rec := &model.PacketRecord{Length: len(data)}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		rec.Unclassified = true
		return rec
	}
	ip := l.(*layers.IPv4)
	rec.Tuple.SrcIP = ip.SrcIP
	rec.Tuple.DstIP = ip.DstIP
	rec.Tuple.Protocol = uint8(ip.Protocol)

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		rec.Tuple.SrcPort = uint16(tcp.SrcPort)
		rec.Tuple.DstPort = uint16(tcp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		rec.Tuple.SrcPort = uint16(udp.SrcPort)
		rec.Tuple.DstPort = uint16(udp.DstPort)
	}
	// ICMP and other IPv4 protocols carry no ports; the tuple keeps zeros.

	return rec
}
