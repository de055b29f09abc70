package firewall

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrShortPacket        = errors.New("packet shorter than IPv4 header")
	ErrNotIPv4            = errors.New("not an IPv4 packet")
	ErrBadHeaderLength    = errors.New("IPv4 header length below minimum")
	ErrTruncatedTransport = errors.New("transport header truncated")
)

// ParseHeader decodes the IPv4 header of a raw packet read from a TUN device
// and, for TCP and UDP, the source port. Only the first four transport bytes
// are required. The returned header never refers to bytes beyond len(buf).
func ParseHeader(buf []byte) (ParsedHeader, error) {
	if len(buf) < IPv4MinHeaderLen {
		return ParsedHeader{}, ErrShortPacket
	}

	hdr := ParsedHeader{Version: buf[0] >> 4}
	if hdr.Version != 4 {
		return hdr, ErrNotIPv4
	}

	hdr.HeaderLen = int(buf[0]&0x0F) * 4
	if hdr.HeaderLen < IPv4MinHeaderLen {
		return hdr, ErrBadHeaderLength
	}
	if len(buf) < hdr.HeaderLen {
		return hdr, ErrShortPacket
	}

	hdr.TotalLen = binary.BigEndian.Uint16(buf[2:4])
	hdr.Protocol = layers.IPProtocol(buf[9])
	hdr.SrcAddr = binary.BigEndian.Uint32(buf[12:16])

	switch hdr.Protocol {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		if len(buf) < hdr.HeaderLen+TransportPortHeaderLen {
			return hdr, ErrTruncatedTransport
		}
		// Port numbers have the same offset in TCP and UDP.
		hdr.SrcPort = binary.BigEndian.Uint16(buf[hdr.HeaderLen : hdr.HeaderLen+2])
		hdr.HasPort = true
	}

	return hdr, nil
}

// AddrToIP converts a host-order IPv4 address to a net.IP.
func AddrToIP(addr uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, addr)
	return ip
}

// IPToAddr converts an IPv4 net.IP to host order. Non-IPv4 input yields 0.
func IPToAddr(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// packetEndpoints extracts printable endpoints for the decision log. Missing
// or undecodable layers are reported as "unknown".
func packetEndpoints(buf []byte, hdr ParsedHeader) (srcIP, srcPort, dstIP, dstPort string) {
	srcIP, srcPort, dstIP, dstPort = "unknown", "unknown", "unknown", "unknown"
	if hdr.Version == 4 {
		srcIP = AddrToIP(hdr.SrcAddr).String()
	}
	if hdr.HasPort {
		srcPort = strconv.Itoa(int(hdr.SrcPort))
	}

	packet := gopacket.NewPacket(buf, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if ip, ok := packet.NetworkLayer().(*layers.IPv4); ok {
		dstIP = ip.DstIP.String()
	}
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		dstPort = tcpPortToString(tcpLayer.(*layers.TCP).DstPort)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		dstPort = udpPortToString(udpLayer.(*layers.UDP).DstPort)
	} else if hdr.HasPort && len(buf) >= hdr.HeaderLen+TransportPortHeaderLen {
		// gopacket rejects a TCP header shorter than 20 bytes; the
		// destination port still follows the source port.
		dstPort = strconv.Itoa(int(binary.BigEndian.Uint16(buf[hdr.HeaderLen+2 : hdr.HeaderLen+4])))
	}
	return srcIP, srcPort, dstIP, dstPort
}

func tcpPortToString(port layers.TCPPort) string {
	return strconv.Itoa(int(port))
}

func udpPortToString(port layers.UDPPort) string {
	return strconv.Itoa(int(port))
}
