//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package platform

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// routeSocketSource reads the PF_ROUTE socket for routing and interface
// changes.
type routeSocketSource struct {
	fd int
}

func newNativeSource() (changeSource, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("route socket: %w", err)
	}
	unix.CloseOnExec(fd)
	tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("route socket receive timeout: %w", err)
	}
	return &routeSocketSource{fd: fd}, nil
}

func (s *routeSocketSource) name() string { return "route-socket" }

func (s *routeSocketSource) run(ctx context.Context, notify func()) error {
	buf := make([]byte, 1<<16)
	for ctx.Err() == nil {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				notify()
				continue
			}
			return fmt.Errorf("route socket read: %w", err)
		}
		if routeMessagesRelevant(buf[:n]) {
			notify()
		}
	}
	return nil
}

func (s *routeSocketSource) close() error { return unix.Close(s.fd) }

// routeMessagesRelevant reports whether buf carries a route, interface or
// address message. Unparseable input counts as relevant.
func routeMessagesRelevant(buf []byte) bool {
	msgs, err := route.ParseRIB(route.RIBTypeRoute, buf)
	if err != nil {
		return true
	}
	for _, m := range msgs {
		switch m.(type) {
		case *route.RouteMessage, *route.InterfaceMessage, *route.InterfaceAddrMessage:
			return true
		}
	}
	return false
}
