// Package firewall provides per-uid packet filtering for traffic read from a
// TUN device.
//
// Each IPv4 packet is attributed to the uid owning its source socket by
// scanning /proc/net/tcp or /proc/net/udp, and is dropped when that uid is in
// the block registry. Packets that are not dropped are not forwarded: the
// firewall consumes everything it reads from the tunnel.
//
// Basic usage:
//
//	fw := firewall.NewFirewall(firewall.FirewallConfig{
//	    DecisionLogPath: firewall.DEFAULT_DECISION_LOG_PATH,
//	})
//	fw.SetBlockedIdentities([]int{10123, 10200})
//	if err := fw.Start(tunFd); err != nil {
//	    return err
//	}
//	defer fw.Stop()
//
// ProcessPacket can also be driven directly, for example from an NFQUEUE
// loop that applies the returned verdict.
package firewall
