package firewall

import (
	"net"
	"testing"

	"github.com/bullfrogsec/uidwall/pkg/firewalltest"
)

// FuzzParseHeader feeds arbitrary tunnel reads to the header parser.
// This is critical as it parses untrusted network data
func FuzzParseHeader(f *testing.F) {
	f.Add(firewalltest.GenerateTCPPacket(net.IP{10, 0, 0, 2}, 5555, net.IP{1, 1, 1, 1}, 443, nil))
	f.Add(firewalltest.GenerateUDPPacket(net.IP{127, 0, 0, 1}, 53, net.IP{127, 0, 0, 53}, 53, []byte{1, 2, 3}))
	f.Add(firewalltest.GenerateICMPPacket(net.IP{10, 0, 0, 2}, net.IP{1, 1, 1, 1}))
	f.Add([]byte{0x4F, 0, 0, 0, 0, 0, 0, 0, 0, 6, 0, 0, 10, 0, 0, 2, 1, 1, 1, 1})
	f.Add([]byte{0x60})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		hdr, err := ParseHeader(data)
		if err != nil {
			return
		}
		if hdr.HeaderLen < IPv4MinHeaderLen || hdr.HeaderLen > len(data) {
			t.Errorf("header length %d out of bounds for %d byte packet", hdr.HeaderLen, len(data))
		}
		if hdr.HasPort && len(data) < hdr.HeaderLen+TransportPortHeaderLen {
			t.Errorf("port reported for %d byte packet with %d byte header", len(data), hdr.HeaderLen)
		}
		// Endpoint extraction must not panic either.
		packetEndpoints(data, hdr)
	})
}

// FuzzParseConnectionLine tests /proc/net row parsing
func FuzzParseConnectionLine(f *testing.F) {
	f.Add("   0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 966876 1")
	f.Add("  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode")
	f.Add("0: :: 0 0 0 0 0 0 0 0")
	f.Add("")

	f.Fuzz(func(t *testing.T, line string) {
		record, err := parseConnectionLine(line)
		if err != nil {
			return
		}
		if record.UID < UnknownUID {
			t.Errorf("uid %d below %d", record.UID, UnknownUID)
		}
	})
}
