// Package firewalltest builds raw tunnel packets and /proc/net tables for
// tests of the firewall package.
package firewalltest

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// GenerateTCPPacket returns a raw IPv4/TCP packet as read from a TUN device
// (no link layer).
func GenerateTCPPacket(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, payload []byte) []byte {
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP, // must to decode next
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		SYN:     true,
		Window:  65535,
	}
	tcp.SetNetworkLayerForChecksum(&ip)
	return serialize(&ip, &tcp, gopacket.Payload(payload))
}

// GenerateUDPPacket returns a raw IPv4/UDP packet.
func GenerateUDPPacket(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, payload []byte) []byte {
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(&ip) //! REQUIRED for valid packet
	return serialize(&ip, &udp, gopacket.Payload(payload))
}

// GenerateICMPPacket returns a raw IPv4 echo request, which carries no port.
func GenerateICMPPacket(srcIP net.IP, dstIP net.IP) []byte {
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	icmp := layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      1,
	}
	return serialize(&ip, &icmp)
}

// GenerateIPv6UDPPacket returns a raw IPv6/UDP packet.
func GenerateIPv6UDPPacket(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) []byte {
	ip := layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(&ip)
	return serialize(&ip, &udp)
}

// WithIPv4Options rewrites an IPv4 packet so that its header carries
// optionWords extra 32-bit words of NOP options. Lengths are fixed up; the
// header checksum is not recomputed.
func WithIPv4Options(packet []byte, optionWords int) []byte {
	headerLen := int(packet[0]&0x0F) * 4
	extra := optionWords * 4

	out := make([]byte, 0, len(packet)+extra)
	out = append(out, packet[:headerLen]...)
	for i := 0; i < extra; i++ {
		out = append(out, 0x01) // NOP
	}
	out = append(out, packet[headerLen:]...)

	out[0] = (out[0] & 0xF0) | byte((headerLen+extra)/4)
	total := len(out)
	out[2] = byte(total >> 8)
	out[3] = byte(total)
	return out
}

func serialize(serializable ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opt := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opt, serializable...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
