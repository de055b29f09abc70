package firewalltest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

const procNetHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode"

// Socket is one row of a fake /proc/net/{tcp,udp} table.
type Socket struct {
	LocalIP   net.IP
	LocalPort uint16
	UID       int
	Inode     uint64
}

// ProcNetLine formats a socket row in kernel layout, uid in the eighth column.
func ProcNetLine(slot int, s Socket) string {
	return fmt.Sprintf("%4d: %s 00000000:0000 0A 00000000:00000000 00:00000000 00000000 %5d        0 %d 1 0000000000000000 100 0 0 10 0",
		slot, ProcNetEndpoint(s.LocalIP, s.LocalPort), s.UID, s.Inode)
}

// ProcNetEndpoint renders ip:port the way the kernel does, e.g.
// 127.0.0.1:8080 -> "0100007F:1F90".
func ProcNetEndpoint(ip net.IP, port uint16) string {
	ip4 := ip.To4()
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], binary.BigEndian.Uint32(ip4))
	return fmt.Sprintf("%s:%04X", strings.ToUpper(hex.EncodeToString(raw[:])), port)
}

// ProcNetTable returns a complete table (header plus rows) for sockets.
func ProcNetTable(sockets ...Socket) string {
	var b strings.Builder
	b.WriteString(procNetHeader)
	b.WriteByte('\n')
	for i, s := range sockets {
		b.WriteString(ProcNetLine(i, s))
		b.WriteByte('\n')
	}
	return b.String()
}
