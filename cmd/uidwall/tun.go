package main

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const tunCloneDevice = "/dev/net/tun"

type tunInterface struct {
	fd   int
	name string
}

// openTun creates (or attaches to) a TUN interface delivering raw IP packets
// without a packet-information prefix, then brings it up.
func openTun(name string, address string) (*tunInterface, error) {
	fd, err := unix.Open(tunCloneDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", tunCloneDevice)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "invalid interface name %q", name)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "TUNSETIFF %s", name)
	}

	tun := &tunInterface{fd: fd, name: ifr.Name()}
	if err := tun.configure(address); err != nil {
		tun.close()
		return nil, err
	}
	return tun, nil
}

func (t *tunInterface) configure(address string) error {
	link, err := netlink.LinkByName(t.name)
	if err != nil {
		return errors.Wrapf(err, "failed to find link %s", t.name)
	}

	if address != "" {
		addr, err := netlink.ParseAddr(address)
		if err != nil {
			return errors.Wrapf(err, "invalid address %s", address)
		}
		if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
			return errors.Wrapf(err, "failed to add address %s to %s", address, t.name)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "failed to bring %s up", t.name)
	}
	return nil
}

func (t *tunInterface) close() error {
	return unix.Close(t.fd)
}
