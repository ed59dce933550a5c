//go:build linux

package platform

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const netlinkGroups = unix.RTMGRP_LINK |
	unix.RTMGRP_IPV4_IFADDR | unix.RTMGRP_IPV6_IFADDR |
	unix.RTMGRP_IPV4_ROUTE | unix.RTMGRP_IPV6_ROUTE

// netlinkSource listens on an rtnetlink socket for link, address and route
// changes.
type netlinkSource struct {
	fd int
}

func newNativeSource() (changeSource, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: netlinkGroups}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink receive timeout: %w", err)
	}
	return &netlinkSource{fd: fd}, nil
}

func (s *netlinkSource) name() string { return "netlink" }

func (s *netlinkSource) run(ctx context.Context, notify func()) error {
	buf := make([]byte, 1<<16)
	for ctx.Err() == nil {
		n, _, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				// Kernel dropped messages; state is unknown, recheck.
				notify()
				continue
			}
			return fmt.Errorf("netlink receive: %w", err)
		}
		if netlinkRelevant(buf[:n]) {
			notify()
		}
	}
	return nil
}

func (s *netlinkSource) close() error { return unix.Close(s.fd) }

// netlinkRelevant reports whether buf holds at least one link, address or
// route message. A truncated buffer counts as relevant.
func netlinkRelevant(buf []byte) bool {
	for len(buf) >= unix.SizeofNlMsghdr {
		length := binary.NativeEndian.Uint32(buf[0:4])
		typ := binary.NativeEndian.Uint16(buf[4:6])
		if length < unix.SizeofNlMsghdr || int(length) > len(buf) {
			return true
		}
		switch typ {
		case unix.RTM_NEWLINK, unix.RTM_DELLINK,
			unix.RTM_NEWADDR, unix.RTM_DELADDR,
			unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
			return true
		}
		next := (int(length) + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
		if next > len(buf) {
			break
		}
		buf = buf[next:]
	}
	return false
}
