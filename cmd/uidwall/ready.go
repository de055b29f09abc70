package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bullfrogsec/uidwall/pkg/logging"
)

var readyFile = "/var/run/uidwall/ready"

func setFirewallIsReady(logger *logging.Logger) {
	if err := os.MkdirAll(filepath.Dir(readyFile), 0755); err != nil {
		logger.Warn("failed to create ready file directory", "path", readyFile, "error", err)
		return
	}

	f, err := os.OpenFile(readyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logger.Warn("failed to open ready file", "path", readyFile, "error", err)
		return
	}
	defer f.Close()
	now := time.Now().Unix()
	logger.Info("firewall is ready", "at", now)
	fmt.Fprintf(f, "%d\n", now)
}
