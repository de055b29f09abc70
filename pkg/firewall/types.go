package firewall

import (
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bullfrogsec/uidwall/pkg/logging"
)

// Packet verdicts
const (
	VERDICT_SKIP  uint8 = 0
	VERDICT_ADMIT uint8 = 1
	VERDICT_DROP  uint8 = 2
)

// Decision reasons, also used as the "reason" field of the decision log.
const (
	REASON_SHORT_PACKET       = "short-packet"
	REASON_BAD_HEADER_LENGTH  = "bad-header-length"
	REASON_TRUNCATED          = "truncated-transport"
	REASON_NOT_IPV4           = "not-ipv4"
	REASON_NO_PORT            = "no-port"
	REASON_OWNER_UNKNOWN      = "owner-unknown"
	REASON_UID_ALLOWED        = "uid-allowed"
	REASON_UID_BLOCKED        = "uid-blocked"
	DECISION_LOG_DROPPED      = "dropped"
	DECISION_LOG_ADMITTED     = "admitted"
	DEFAULT_DECISION_LOG_PATH = "/var/log/uidwall/decisions.log"
)

const (
	IPv4MinHeaderLen       = 20
	TransportPortHeaderLen = 4
	DefaultMaxPacketSize   = 65536
	DefaultIdleBackoff     = 5 * time.Millisecond
	DefaultPollInterval    = 100 * time.Millisecond
	UnknownUID             = -1
)

// ParsedHeader is the subset of an IPv4 packet needed for owner attribution.
// SrcAddr is in host order: the first octet is the most significant byte.
type ParsedHeader struct {
	Version   uint8
	HeaderLen int
	Protocol  layers.IPProtocol
	SrcAddr   uint32
	SrcPort   uint16
	HasPort   bool
	TotalLen  uint16
}

// ConnectionRecord represents a parsed line from /proc/net/{tcp,udp}
type ConnectionRecord struct {
	LocalAddr uint32 // host order
	LocalPort uint16
	UID       int // negative when the uid column could not be parsed
}

// Decision is the outcome of ProcessPacket for one packet.
type Decision struct {
	Verdict    uint8
	Reason     string
	Header     ParsedHeader
	UID        int
	OwnerKnown bool
}

// DecisionLog is one JSON line of the decision log.
type DecisionLog struct {
	Timestamp      int64    `json:"timestamp"`
	SessionID      string   `json:"sessionID,omitempty"`
	Decision       string   `json:"decision"`
	Reason         string   `json:"reason"`
	Protocol       string   `json:"protocol"`
	SrcIP          string   `json:"srcIP"`
	SrcPort        string   `json:"srcPort"`
	DstIP          string   `json:"dstIP"`
	DstPort        string   `json:"dstPort"`
	UID            int      `json:"uid"`
	ProcessNames   []string `json:"processNames,omitempty"`
	Length         int      `json:"length"`
	ProcessingTime int64    `json:"processingTimeMicros"`
}

// FirewallConfig configures a Firewall. Zero values fall back to defaults,
// except OwnerCacheTTL where zero disables the owner cache. A non-zero TTL
// lets a lookup return the previous owner of an endpoint for up to one TTL
// after the socket changes hands.
type FirewallConfig struct {
	Registry        *BlockRegistry
	Resolver        IOwnerResolver
	ProcProvider    IProcNetProvider
	OwnerCacheTTL   time.Duration
	FileSystem      IFileSystem
	DecisionLogPath string
	LogAdmitted     bool
	ProcessNamer    IProcessNamer
	Logger          *logging.Logger
	Registerer      prometheus.Registerer
	MaxPacketSize   int
	IdleBackoff     time.Duration
	PollInterval    time.Duration
	// OnDecision, when set, is called once for every dropped or admitted packet.
	// It runs on the packet worker, which Stop waits for, so it must not call
	// Stop (or Start) on the same Firewall: doing so deadlocks.
	OnDecision func(Decision)
}
