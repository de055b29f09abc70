package firewall

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bullfrogsec/uidwall/pkg/logging"
)

// Firewall attributes packets read from a TUN device to the uid owning the
// originating socket and drops those whose uid is blocked. Packets that are
// not dropped are not forwarded either: there is no onward path from the
// tunnel, so every packet read is consumed.
type Firewall struct {
	registry        *BlockRegistry
	resolver        IOwnerResolver
	filesystem      IFileSystem
	decisionLogPath string
	logAdmitted     bool
	processNamer    IProcessNamer
	logger          *logging.Logger
	metrics         *Metrics
	onDecision      func(Decision)

	maxPacketSize int
	idleBackoff   time.Duration
	pollInterval  time.Duration

	// mu serialises Start and Stop.
	mu            sync.Mutex
	running       atomic.Bool
	stopRequested atomic.Bool
	device        *tunDevice
	done          chan struct{}
	sessionID     atomic.Pointer[string]
}

func NewFirewall(config FirewallConfig) *Firewall {
	fw := &Firewall{
		registry:        config.Registry,
		resolver:        config.Resolver,
		filesystem:      config.FileSystem,
		decisionLogPath: config.DecisionLogPath,
		logAdmitted:     config.LogAdmitted,
		processNamer:    config.ProcessNamer,
		logger:          config.Logger,
		onDecision:      config.OnDecision,
		maxPacketSize:   config.MaxPacketSize,
		idleBackoff:     config.IdleBackoff,
		pollInterval:    config.PollInterval,
	}

	if fw.registry == nil {
		fw.registry = NewBlockRegistry()
	}
	if fw.logger == nil {
		fw.logger = logging.WithComponent("firewall")
	}
	if fw.resolver == nil {
		resolver := NewOwnerResolver(config.ProcProvider, config.OwnerCacheTTL)
		resolver.logger = fw.logger.WithComponent("owner")
		fw.resolver = resolver
	}
	if fw.filesystem == nil {
		fw.filesystem = &FileSystem{}
	}
	if fw.maxPacketSize <= 0 {
		fw.maxPacketSize = DefaultMaxPacketSize
	}
	if fw.idleBackoff <= 0 {
		fw.idleBackoff = DefaultIdleBackoff
	}
	if fw.pollInterval <= 0 {
		fw.pollInterval = DefaultPollInterval
	}
	fw.metrics = NewMetrics(config.Registerer)
	fw.metrics.BlockedIdentities.Set(float64(fw.registry.Len()))

	return fw
}

// Registry returns the block registry consulted for every packet.
func (f *Firewall) Registry() *BlockRegistry {
	return f.registry
}

// Metrics returns the counters updated by this firewall.
func (f *Firewall) Metrics() *Metrics {
	return f.metrics
}

// SetBlockedIdentities replaces the blocked uid set. A decision already past
// the registry check is not affected.
func (f *Firewall) SetBlockedIdentities(uids []int) {
	f.registry.Replace(uids)
	f.metrics.BlockedIdentities.Set(float64(f.registry.Len()))
	f.logger.Info("blocked uid list updated", "count", f.registry.Len(), "uids", f.registry.Snapshot())
}

// ProcessPacket classifies one raw packet. It never writes the packet
// anywhere; callers with a real delivery path (NFQUEUE) act on the verdict.
func (f *Firewall) ProcessPacket(buf []byte) Decision {
	startTime := time.Now()

	hdr, err := ParseHeader(buf)
	if err != nil {
		if errors.Is(err, ErrNotIPv4) {
			// IPv6 and anything else pass through unclassified with an unknown owner.
			return f.record(buf, Decision{Verdict: VERDICT_ADMIT, Reason: REASON_NOT_IPV4, Header: hdr, UID: UnknownUID}, startTime)
		}
		reason := REASON_SHORT_PACKET
		switch {
		case errors.Is(err, ErrBadHeaderLength):
			reason = REASON_BAD_HEADER_LENGTH
		case errors.Is(err, ErrTruncatedTransport):
			reason = REASON_TRUNCATED
		}
		f.metrics.Packets.WithLabelValues(verdictLabel(VERDICT_SKIP), reason).Inc()
		f.logger.Debug("skipping packet", "reason", reason, "len", len(buf))
		return Decision{Verdict: VERDICT_SKIP, Reason: reason, Header: hdr, UID: UnknownUID}
	}

	if !hdr.HasPort {
		return f.record(buf, Decision{Verdict: VERDICT_ADMIT, Reason: REASON_NO_PORT, Header: hdr, UID: UnknownUID}, startTime)
	}

	uid, found := f.resolver.Resolve(hdr.Protocol, hdr.SrcAddr, hdr.SrcPort)
	if !found {
		f.metrics.OwnerLookups.WithLabelValues("unknown").Inc()
		return f.record(buf, Decision{Verdict: VERDICT_ADMIT, Reason: REASON_OWNER_UNKNOWN, Header: hdr, UID: UnknownUID}, startTime)
	}
	f.metrics.OwnerLookups.WithLabelValues("found").Inc()

	if f.registry.Contains(uid) {
		return f.record(buf, Decision{Verdict: VERDICT_DROP, Reason: REASON_UID_BLOCKED, Header: hdr, UID: uid, OwnerKnown: true}, startTime)
	}
	return f.record(buf, Decision{Verdict: VERDICT_ADMIT, Reason: REASON_UID_ALLOWED, Header: hdr, UID: uid, OwnerKnown: true}, startTime)
}

// record accounts for a dropped or admitted packet exactly once: counters,
// log line, decision log entry and the OnDecision hook.
func (f *Firewall) record(buf []byte, decision Decision, startTime time.Time) Decision {
	label := verdictLabel(decision.Verdict)
	f.metrics.Packets.WithLabelValues(label, decision.Reason).Inc()

	if decision.Verdict == VERDICT_DROP {
		f.metrics.Drops.WithLabelValues(decision.Header.Protocol.String()).Inc()
		f.logger.Info("DROP",
			"uid", decision.UID,
			"protocol", decision.Header.Protocol.String(),
			"src", AddrToIP(decision.Header.SrcAddr).String(),
			"srcPort", decision.Header.SrcPort,
			"len", len(buf))
	} else {
		f.logger.Debug("ADMIT",
			"uid", decision.UID,
			"reason", decision.Reason,
			"protocol", decision.Header.Protocol.String(),
			"len", len(buf))
	}

	if decision.Verdict == VERDICT_DROP || f.logAdmitted {
		f.addDecisionLog(buf, decision, startTime)
	}

	if f.onDecision != nil {
		f.onDecision(decision)
	}
	return decision
}

func (f *Firewall) addDecisionLog(buf []byte, decision Decision, startTime time.Time) {
	if f.decisionLogPath == "" {
		return
	}

	srcIP, srcPort, dstIP, dstPort := packetEndpoints(buf, decision.Header)
	logEntry := DecisionLog{
		Timestamp:      time.Now().UnixMilli(),
		Decision:       DECISION_LOG_ADMITTED,
		Reason:         decision.Reason,
		Protocol:       decision.Header.Protocol.String(),
		SrcIP:          srcIP,
		SrcPort:        srcPort,
		DstIP:          dstIP,
		DstPort:        dstPort,
		UID:            decision.UID,
		Length:         len(buf),
		ProcessingTime: time.Since(startTime).Microseconds(),
	}
	if decision.Verdict == VERDICT_DROP {
		logEntry.Decision = DECISION_LOG_DROPPED
	}
	if id := f.sessionID.Load(); id != nil {
		logEntry.SessionID = *id
	}
	if decision.OwnerKnown && f.processNamer != nil {
		logEntry.ProcessNames = f.processNamer.ProcessNames(decision.UID)
	}

	jsonBytes, err := json.Marshal(logEntry)
	if err != nil {
		f.logger.Error("failed to marshal decision log", "error", err)
		return
	}
	if err := f.filesystem.Append(f.decisionLogPath, string(jsonBytes)+"\n"); err != nil {
		f.logger.Warn("failed to write decision log", "path", f.decisionLogPath, "error", err)
	}
}
