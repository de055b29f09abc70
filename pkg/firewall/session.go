package firewall

import (
	"time"

	"github.com/google/uuid"

	"github.com/bullfrogsec/uidwall/pkg/logging"
)

// Start duplicates tunFd and launches the packet worker. Calling Start while
// the firewall is running is a no-op. Only a failure to take the descriptor
// is reported; in that case no worker is started.
func (f *Firewall) Start(tunFd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running.Load() {
		f.logger.Warn("firewall already running, ignoring start", "fd", tunFd)
		return nil
	}

	device, err := openTunDescriptor(tunFd)
	if err != nil {
		f.logger.Error("failed to take tunnel descriptor", "fd", tunFd, "error", err)
		return err
	}

	sessionID := uuid.New().String()
	f.sessionID.Store(&sessionID)
	f.device = device
	f.done = make(chan struct{})
	f.stopRequested.Store(false)
	f.running.Store(true)
	f.metrics.Running.Set(1)

	go f.run(device, f.done, f.logger.With("session", sessionID))

	f.logger.Info("firewall started", "session", sessionID, "fd", tunFd, "dupFd", device.fd)
	return nil
}

// Stop signals the worker, waits for it to exit and then closes the
// duplicated descriptor. Calling Stop while stopped is a no-op.
func (f *Firewall) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running.Load() {
		return
	}

	f.stopRequested.Store(true)
	<-f.done

	if err := f.device.close(); err != nil {
		f.logger.Warn("failed to close tunnel descriptor", "error", err)
	}
	f.device = nil
	f.running.Store(false)
	f.metrics.Running.Set(0)
	f.logger.Info("firewall stopped")
}

// Running reports whether the packet worker is active.
func (f *Firewall) Running() bool {
	return f.running.Load()
}

func (f *Firewall) run(device *tunDevice, done chan<- struct{}, logger *logging.Logger) {
	defer close(done)
	logger.Info("packet worker starting")

	buf := make([]byte, f.maxPacketSize)
	for !f.stopRequested.Load() {
		n, err := device.readPacket(buf, f.pollInterval)
		if err != nil {
			f.metrics.ReadErrors.Inc()
			logger.Warn("tunnel read failed", "error", err)
			time.Sleep(f.idleBackoff)
			continue
		}
		if n <= 0 {
			time.Sleep(f.idleBackoff)
			continue
		}

		f.ProcessPacket(buf[:n])
	}

	logger.Info("packet worker stopped")
}
