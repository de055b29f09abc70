package main

import (
	netfilter "github.com/AkihiroSuda/go-netfilter-queue"
	"github.com/pkg/errors"

	"github.com/bullfrogsec/uidwall/pkg/firewall"
	"github.com/bullfrogsec/uidwall/pkg/logging"
)

const nfqueueMaxPackets = 1000

// startNFQueue filters packets diverted to an NFQUEUE. Unlike the tunnel
// mode, admitted packets continue to their destination because the kernel
// still owns them.
func startNFQueue(queueNum uint16, fw *firewall.Firewall, logger *logging.Logger) (*netfilter.NFQueue, error) {
	nfq, err := netfilter.NewNFQueue(queueNum, nfqueueMaxPackets, netfilter.NF_DEFAULT_PACKET_SIZE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open nfqueue %d", queueNum)
	}

	packets := nfq.GetPackets()
	go func() {
		for p := range packets {
			decision := fw.ProcessPacket(p.Packet.Data())
			if decision.Verdict == firewall.VERDICT_DROP {
				p.SetVerdict(netfilter.Verdict(netfilter.NF_DROP))
			} else {
				p.SetVerdict(netfilter.Verdict(netfilter.NF_ACCEPT))
			}
		}
	}()

	logger.Info("waiting for packets", "queue", queueNum)
	return nfq, nil
}
