package firewall

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/bullfrogsec/uidwall/pkg/firewalltest"
	"github.com/bullfrogsec/uidwall/pkg/logging"
)

const testDecisionLog = "/var/log/uidwall/test-decisions.log"

// newTestProvider serves a TCP table where 10.0.0.2:5555 belongs to uid 1000
// and 10.0.0.2:6666 to uid 2000, and a UDP table where 10.0.0.2:5353 belongs
// to uid 1000.
func newTestProvider() *firewalltest.ProcNetProvider {
	provider := firewalltest.NewProcNetProvider()
	provider.SetTable(layers.IPProtocolTCP, firewalltest.ProcNetTable(
		firewalltest.Socket{LocalIP: net.IP{10, 0, 0, 2}, LocalPort: 5555, UID: 1000, Inode: 100},
		firewalltest.Socket{LocalIP: net.IP{10, 0, 0, 2}, LocalPort: 6666, UID: 2000, Inode: 101},
	))
	provider.SetTable(layers.IPProtocolUDP, firewalltest.ProcNetTable(
		firewalltest.Socket{LocalIP: net.IP{10, 0, 0, 2}, LocalPort: 5353, UID: 1000, Inode: 102},
	))
	return provider
}

type testFirewall struct {
	*Firewall
	fs        *firewalltest.FileSystem
	provider  *firewalltest.ProcNetProvider
	decisions chan Decision
}

func newTestFirewall(mutate func(*FirewallConfig)) *testFirewall {
	tf := &testFirewall{
		fs:        firewalltest.NewFileSystem(),
		provider:  newTestProvider(),
		decisions: make(chan Decision, 256),
	}
	config := FirewallConfig{
		ProcProvider:    tf.provider,
		FileSystem:      tf.fs,
		DecisionLogPath: testDecisionLog,
		Logger:          logging.Discard(),
		ProcessNamer:    &firewalltest.ProcessNamer{Names: map[int][]string{1000: {"curl"}}},
		IdleBackoff:     time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		OnDecision: func(d Decision) {
			select {
			case tf.decisions <- d:
			default:
			}
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	tf.Firewall = NewFirewall(config)
	return tf
}

func tcpFrom(port uint16) []byte {
	return firewalltest.GenerateTCPPacket(net.IP{10, 0, 0, 2}, port, net.IP{93, 184, 216, 34}, 443, []byte("payload"))
}
