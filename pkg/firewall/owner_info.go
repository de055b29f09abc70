package firewall

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/bullfrogsec/uidwall/pkg/logging"
)

// Column positions in /proc/net/{tcp,udp}:
// sl local_address rem_address st tx_queue:rx_queue tr:tm->when retrnsmt uid timeout inode
const (
	procNetLocalAddrField = 1
	procNetUIDField       = 7
	procNetMinFields      = 10
)

var errUnsupportedProtocol = errors.New("no connection table for protocol")

// IProcNetProvider abstracts access to the kernel connection tables for testability
type IProcNetProvider interface {
	// OpenConnTable opens /proc/net/tcp or /proc/net/udp
	OpenConnTable(protocol layers.IPProtocol) (io.ReadCloser, error)
}

// IOwnerResolver maps a local endpoint to the UID owning the socket.
type IOwnerResolver interface {
	Resolve(protocol layers.IPProtocol, addr uint32, port uint16) (int, bool)
}

// LinuxProcNetProvider implements IProcNetProvider for the real /proc filesystem.
// Root defaults to /proc.
type LinuxProcNetProvider struct {
	Root string
}

func (p *LinuxProcNetProvider) OpenConnTable(protocol layers.IPProtocol) (io.ReadCloser, error) {
	root := p.Root
	if root == "" {
		root = "/proc"
	}

	var filename string
	switch protocol {
	case layers.IPProtocolTCP:
		filename = filepath.Join(root, "net", "tcp")
	case layers.IPProtocolUDP:
		filename = filepath.Join(root, "net", "udp")
	default:
		return nil, errors.Wrapf(errUnsupportedProtocol, "protocol %s", protocol)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filename)
	}
	return file, nil
}

// OwnerResolver scans the kernel connection tables on every lookup, optionally
// fronted by a short-lived cache of positive matches.
type OwnerResolver struct {
	provider IProcNetProvider
	cache    *ownerCache
	logger   *logging.Logger
}

// NewOwnerResolver creates a resolver. A zero cacheTTL disables caching.
func NewOwnerResolver(provider IProcNetProvider, cacheTTL time.Duration) *OwnerResolver {
	if provider == nil {
		provider = &LinuxProcNetProvider{}
	}
	r := &OwnerResolver{
		provider: provider,
		logger:   logging.WithComponent("owner"),
	}
	if cacheTTL > 0 {
		r.cache = newOwnerCache(cacheTTL)
	}
	return r
}

// Resolve returns the UID owning the socket bound to addr:port, or false when
// the protocol has no table, the port is zero, the table cannot be read, no
// row matches, or the matching row has an unparsable uid.
func (r *OwnerResolver) Resolve(protocol layers.IPProtocol, addr uint32, port uint16) (int, bool) {
	if protocol != layers.IPProtocolTCP && protocol != layers.IPProtocolUDP {
		return UnknownUID, false
	}
	// Port 0 is never a bound local endpoint of an outgoing packet.
	if port == 0 {
		return UnknownUID, false
	}

	key := ownerKey{protocol: protocol, addr: addr, port: port}
	if r.cache != nil {
		if uid, found := r.cache.get(key); found {
			return uid, true
		}
	}

	table, err := r.provider.OpenConnTable(protocol)
	if err != nil {
		r.logger.Debug("connection table unavailable", "protocol", protocol.String(), "error", err)
		return UnknownUID, false
	}
	defer table.Close()

	uid, err := findOwner(table, addr, port)
	if err != nil || uid < 0 {
		return UnknownUID, false
	}

	if r.cache != nil {
		r.cache.set(key, uid)
	}
	return uid, true
}

// findOwner scans a connection table and returns the uid column of the first
// row whose local address and port match. A matching row with an unparsable
// uid yields UnknownUID.
func findOwner(table io.Reader, addr uint32, port uint16) (int, error) {
	scanner := bufio.NewScanner(table)

	// Skip header line
	scanner.Scan()

	for scanner.Scan() {
		record, err := parseConnectionLine(scanner.Text())
		if err != nil {
			continue // Skip malformed lines
		}
		if record.LocalPort != port || record.LocalAddr != addr {
			continue
		}
		return record.UID, nil
	}

	if err := scanner.Err(); err != nil {
		return UnknownUID, errors.Wrap(err, "reading connection table")
	}
	return UnknownUID, errors.Errorf("no socket bound to %s", formatProcNetAddr(addr, port))
}

// parseConnectionLine parses a line from /proc/net/{tcp,udp}
// Example: "0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000  0 966876 1 ..."
func parseConnectionLine(line string) (ConnectionRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < procNetMinFields {
		return ConnectionRecord{}, errors.New("invalid line format")
	}

	addr, port, err := parseProcNetEndpoint(fields[procNetLocalAddrField])
	if err != nil {
		return ConnectionRecord{}, err
	}

	uid, err := strconv.Atoi(fields[procNetUIDField])
	if err != nil || uid < 0 {
		uid = UnknownUID
	}

	return ConnectionRecord{
		LocalAddr: addr,
		LocalPort: port,
		UID:       uid,
	}, nil
}

// parseProcNetEndpoint splits "HEXADDR:HEXPORT" into a host-order address and port.
func parseProcNetEndpoint(field string) (uint32, uint16, error) {
	addrHex, portHex, found := strings.Cut(field, ":")
	if !found {
		return 0, 0, errors.Errorf("missing port in %q", field)
	}

	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid port %q", portHex)
	}

	addr, err := decodeProcNetAddr(addrHex)
	if err != nil {
		return 0, 0, err
	}
	return addr, uint16(port), nil
}

// decodeProcNetAddr decodes the 8 hex characters the kernel prints for an IPv4
// address. The kernel prints the network-order word as a little-endian
// integer, so "0100007F" is 127.0.0.1. Bytes are decoded individually and
// reassembled, giving the same host-order value ParseHeader produces.
func decodeProcNetAddr(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, errors.Errorf("invalid IPv4 address %q", s)
	}
	var raw [4]byte
	if _, err := hex.Decode(raw[:], []byte(s)); err != nil {
		return 0, errors.Wrapf(err, "invalid IPv4 address %q", s)
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

// formatProcNetAddr renders addr:port the way /proc/net/* does.
// Example: 127.0.0.1:631 -> "0100007F:0277"
func formatProcNetAddr(addr uint32, port uint16) string {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], addr)
	return fmt.Sprintf("%s:%04X", strings.ToUpper(hex.EncodeToString(raw[:])), port)
}
