// Package config loads the uidwall configuration file.
package config

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/bullfrogsec/uidwall/pkg/firewall"
	"github.com/bullfrogsec/uidwall/pkg/logging"
)

const DEFAULT_CONFIG_PATH = "/etc/uidwall/config.yaml"

// Config is the on-disk configuration. Command-line flags override it.
type Config struct {
	BlockedUIDs        []int         `yaml:"blocked_uids"`
	BlockedUsers       []string      `yaml:"blocked_users"`
	Tun                TunConfig     `yaml:"tun"`
	NFQueue            int           `yaml:"nfqueue"`
	DecisionLog        string        `yaml:"decision_log"`
	LogAdmitted        bool          `yaml:"log_admitted"`
	CollectProcessInfo bool          `yaml:"collect_process_info"`
	// OwnerCacheTTL enables the owner cache (off by default). While an entry
	// is live, a socket that changed owner is still attributed to the
	// previous uid, so a verdict can be stale for up to one TTL.
	OwnerCacheTTL      time.Duration `yaml:"owner_cache_ttl"`
	IdleBackoff        time.Duration `yaml:"idle_backoff"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxPacketSize      int           `yaml:"max_packet_size"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	Log                LogConfig     `yaml:"log"`
}

// TunConfig selects the tunnel. Fd >= 0 means an inherited descriptor and
// takes precedence over Name.
type TunConfig struct {
	Name    string `yaml:"name"`
	Fd      int    `yaml:"fd"`
	Address string `yaml:"address"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() *Config {
	return &Config{
		Tun: TunConfig{
			Name: "uidwall0",
			Fd:   -1,
		},
		NFQueue:            -1,
		DecisionLog:        firewall.DEFAULT_DECISION_LOG_PATH,
		CollectProcessInfo: true,
		IdleBackoff:        firewall.DefaultIdleBackoff,
		PollInterval:       firewall.DefaultPollInterval,
		MaxPacketSize:      firewall.DefaultMaxPacketSize,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for _, uid := range c.BlockedUIDs {
		if uid < 0 {
			return fmt.Errorf("blocked_uids: invalid uid %d", uid)
		}
	}
	if _, err := c.ResolveBlockedUsers(); err != nil {
		return err
	}
	if c.Tun.Fd < 0 && c.Tun.Name == "" && c.NFQueue < 0 {
		return errors.New("one of tun.fd, tun.name or nfqueue must be set")
	}
	if c.NFQueue > 65535 {
		return fmt.Errorf("nfqueue: queue number %d out of range", c.NFQueue)
	}
	if c.OwnerCacheTTL < 0 {
		return fmt.Errorf("owner_cache_ttl: must not be negative")
	}
	if c.IdleBackoff < 0 || c.PollInterval < 0 {
		return fmt.Errorf("idle_backoff and poll_interval must not be negative")
	}
	if c.MaxPacketSize != 0 && c.MaxPacketSize < firewall.IPv4MinHeaderLen {
		return fmt.Errorf("max_packet_size: %d is smaller than an IPv4 header", c.MaxPacketSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// FirewallConfig maps the file settings onto a firewall configuration. The
// caller supplies logger, metrics registerer and process namer.
func (c *Config) FirewallConfig() firewall.FirewallConfig {
	return firewall.FirewallConfig{
		OwnerCacheTTL:   c.OwnerCacheTTL,
		DecisionLogPath: c.DecisionLog,
		LogAdmitted:     c.LogAdmitted,
		MaxPacketSize:   c.MaxPacketSize,
		IdleBackoff:     c.IdleBackoff,
		PollInterval:    c.PollInterval,
	}
}

// BlockedUser is a blocked_users entry resolved to its uid.
type BlockedUser struct {
	Name string
	UID  int
}

// lookupUser resolves a user name through the system user database.
var lookupUser = func(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

// ResolveBlockedUsers maps every blocked_users name to its uid. An unknown
// name is an error. Names are resolved on every call so a reload sees
// changes to the user database.
func (c *Config) ResolveBlockedUsers() ([]BlockedUser, error) {
	users := make([]BlockedUser, 0, len(c.BlockedUsers))
	for _, name := range c.BlockedUsers {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("blocked_users: empty user name")
		}
		uid, err := lookupUser(name)
		if err != nil {
			return nil, errors.Wrapf(err, "blocked_users: cannot resolve %q", name)
		}
		users = append(users, BlockedUser{Name: name, UID: uid})
	}
	return users, nil
}

// BlockedIdentities merges blocked_uids with the resolved blocked_users into
// one sorted, de-duplicated list.
func (c *Config) BlockedIdentities() ([]int, []BlockedUser, error) {
	users, err := c.ResolveBlockedUsers()
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[int]bool, len(c.BlockedUIDs)+len(users))
	var uids []int
	add := func(uid int) {
		if !seen[uid] {
			seen[uid] = true
			uids = append(uids, uid)
		}
	}
	for _, uid := range c.BlockedUIDs {
		add(uid)
	}
	for _, u := range users {
		add(u.UID)
	}
	sort.Ints(uids)
	return uids, users, nil
}
