package firewall

import (
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// IProcessNamer lists the names of processes running under a uid. It is only
// consulted when a decision is written to the decision log.
type IProcessNamer interface {
	ProcessNames(uid int) []string
}

type cachedNames struct {
	names     []string
	expiresAt time.Time
}

// GopsutilProcessNamer walks the process table with gopsutil and caches the
// result per uid.
type GopsutilProcessNamer struct {
	mu    sync.Mutex
	ttl   time.Duration
	cache map[int]cachedNames
}

func NewGopsutilProcessNamer(ttl time.Duration) *GopsutilProcessNamer {
	return &GopsutilProcessNamer{
		ttl:   ttl,
		cache: make(map[int]cachedNames),
	}
}

func (n *GopsutilProcessNamer) ProcessNames(uid int) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cached, exists := n.cache[uid]; exists && time.Now().Before(cached.expiresAt) {
		return cached.names
	}

	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, p := range procs {
		uids, err := p.Uids()
		if err != nil || len(uids) == 0 || int(uids[0]) != uid {
			continue // Process may have exited or no permission
		}
		name, err := p.Name()
		if err != nil || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	n.cache[uid] = cachedNames{names: names, expiresAt: time.Now().Add(n.ttl)}
	return names
}
