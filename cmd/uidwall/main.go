package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bullfrogsec/uidwall/pkg/config"
	"github.com/bullfrogsec/uidwall/pkg/firewall"
	"github.com/bullfrogsec/uidwall/pkg/logging"
)

const processNameCacheTTL = 5 * time.Second

type options struct {
	configPath         string
	blockedUIDs        string
	blockedUsers       string
	tunName            string
	tunFd              int
	tunAddr            string
	nfqueue            int
	metricsAddr        string
	decisionLog        string
	logLevel           string
	logJSON            bool
	collectProcessInfo bool
	logAdmitted        bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("uidwall", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.blockedUIDs, "blocked-uids", "", "Comma-separated list of uids whose traffic is dropped")
	fs.StringVar(&opts.blockedUsers, "blocked-users", "", "Comma-separated list of user names whose traffic is dropped")
	fs.StringVar(&opts.tunName, "tun-name", "", "Name of the TUN interface to create")
	fs.IntVar(&opts.tunFd, "tun-fd", -1, "Inherited TUN file descriptor; overrides -tun-name")
	fs.StringVar(&opts.tunAddr, "tun-addr", "", "Address in CIDR notation assigned to the TUN interface")
	fs.IntVar(&opts.nfqueue, "nfqueue", -1, "NFQUEUE number to filter instead of a TUN device, -1 to disable")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	fs.StringVar(&opts.decisionLog, "decision-log", firewall.DEFAULT_DECISION_LOG_PATH, "Path of the JSON decision log, empty to disable")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolVar(&opts.logJSON, "log-json", false, "Emit logs as JSON")
	fs.BoolVar(&opts.collectProcessInfo, "collect-process-info", true, "Add process names to decision log entries: true or false")
	fs.BoolVar(&opts.logAdmitted, "log-admitted", false, "Also write admitted packets to the decision log")
	return fs
}

// applyFlags overlays the flags that were set explicitly on the command line.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, opts *options) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "blocked-uids":
			var uids []int
			uids, err = parseUIDList(opts.blockedUIDs)
			cfg.BlockedUIDs = uids
		case "blocked-users":
			cfg.BlockedUsers = parseNameList(opts.blockedUsers)
		case "tun-name":
			cfg.Tun.Name = opts.tunName
		case "tun-fd":
			cfg.Tun.Fd = opts.tunFd
		case "tun-addr":
			cfg.Tun.Address = opts.tunAddr
		case "nfqueue":
			cfg.NFQueue = opts.nfqueue
		case "metrics-addr":
			cfg.MetricsAddr = opts.metricsAddr
		case "decision-log":
			cfg.DecisionLog = opts.decisionLog
		case "log-level":
			cfg.Log.Level = opts.logLevel
		case "log-json":
			cfg.Log.JSON = opts.logJSON
		case "collect-process-info":
			cfg.CollectProcessInfo = opts.collectProcessInfo
		case "log-admitted":
			cfg.LogAdmitted = opts.logAdmitted
		}
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// loadConfig reads the config file, if any, and applies command-line overrides.
func loadConfig(fs *flag.FlagSet, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := applyFlags(cfg, fs, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseUIDList(s string) ([]int, error) {
	var uids []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		uid, err := strconv.Atoi(field)
		if err != nil || uid < 0 {
			return nil, fmt.Errorf("invalid uid %q", field)
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

func parseNameList(s string) []string {
	var names []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			names = append(names, field)
		}
	}
	return names
}

// applyBlockList resolves the configured users and installs the merged uid
// list. On error the current list is left in place.
func applyBlockList(fw *firewall.Firewall, cfg *config.Config, logger *logging.Logger) error {
	uids, users, err := cfg.BlockedIdentities()
	if err != nil {
		return err
	}
	for _, u := range users {
		logger.Info("blocking user", "user", u.Name, "uid", u.UID)
	}
	fw.SetBlockedIdentities(uids)
	return nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	return logging.New(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   cfg.Log.JSON,
	})
}

func main() {
	opts := &options{}
	fs := newFlagSet(opts)
	fs.Parse(os.Args[1:])

	cfg, err := loadConfig(fs, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logging.SetDefault(logger)

	if err := run(cfg, fs, opts, logger); err != nil {
		logger.Error("uidwall exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, fs *flag.FlagSet, opts *options, logger *logging.Logger) error {
	fwConfig := cfg.FirewallConfig()
	fwConfig.Logger = logger.WithComponent("firewall")
	fwConfig.Registerer = prometheus.DefaultRegisterer
	if cfg.CollectProcessInfo {
		fwConfig.ProcessNamer = firewall.NewGopsutilProcessNamer(processNameCacheTTL)
	}

	fw := firewall.NewFirewall(fwConfig)
	if err := applyBlockList(fw, cfg, logger); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger.WithComponent("metrics"))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if cfg.NFQueue >= 0 {
		queue, err := startNFQueue(uint16(cfg.NFQueue), fw, logger.WithComponent("nfqueue"))
		if err != nil {
			return err
		}
		defer queue.Close()
	} else {
		tunFd := cfg.Tun.Fd
		if tunFd < 0 {
			tun, err := openTun(cfg.Tun.Name, cfg.Tun.Address)
			if err != nil {
				return err
			}
			defer tun.close()
			logger.Info("tun interface ready", "name", tun.name, "address", cfg.Tun.Address)
			tunFd = tun.fd
		}
		if err := fw.Start(tunFd); err != nil {
			return errors.Wrap(err, "failed to start firewall")
		}
		defer fw.Stop()
	}

	setFirewallIsReady(logger)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			reload(fw, fs, opts, logger)
		default:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
	return nil
}

// reload re-reads the configuration and installs its block list. Flags still
// take precedence over the file.
func reload(fw *firewall.Firewall, fs *flag.FlagSet, opts *options, logger *logging.Logger) {
	if opts.configPath == "" {
		logger.Warn("reload requested without a config file, ignoring")
		return
	}
	cfg, err := loadConfig(fs, opts)
	if err != nil {
		logger.Error("failed to reload configuration", "path", opts.configPath, "error", err)
		return
	}
	if level, err := logging.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if err := applyBlockList(fw, cfg, logger); err != nil {
		logger.Error("failed to apply reloaded block list", "path", opts.configPath, "error", err)
		return
	}
	logger.Info("configuration reloaded", "path", opts.configPath)
}
