package firewall

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// tunDevice is a private duplicate of the caller's tunnel descriptor. The
// caller keeps ownership of the original.
type tunDevice struct {
	fd int
}

// openTunDescriptor duplicates fd and switches the duplicate to blocking reads.
func openTunDescriptor(fd int) (*tunDevice, error) {
	dupFD, err := unix.Dup(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dup tunnel descriptor %d", fd)
	}
	unix.CloseOnExec(dupFD)

	if err := unix.SetNonblock(dupFD, false); err != nil {
		unix.Close(dupFD)
		return nil, errors.Wrapf(err, "failed to set blocking mode on descriptor %d", dupFD)
	}
	return &tunDevice{fd: dupFD}, nil
}

// readPacket waits up to wait for the descriptor to become readable and then
// reads one packet. It returns 0 with a nil error when nothing was available,
// so the caller can re-check its termination flag.
func (d *tunDevice) readPacket(buf []byte, wait time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, int(wait/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "poll")
	}
	if ready == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return 0, errors.Wrap(unix.EBADF, "poll")
	}

	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read")
	}
	return n, nil
}

func (d *tunDevice) close() error {
	return unix.Close(d.fd)
}
