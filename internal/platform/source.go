package platform

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// errNoNativeSource is returned where the OS has no change notification
// facility this package can read.
var errNoNativeSource = errors.New("platform: no native change source")

// recvTimeout bounds blocking reads on native sources so they notice
// cancellation.
const recvTimeout = 500 * time.Millisecond

// changeSource reports that routes, addresses or links may have changed.
// run blocks until ctx is done or the source fails; notify may be called
// from run's goroutine at any rate.
type changeSource interface {
	name() string
	run(ctx context.Context, notify func()) error
	close() error
}

// pollSource signals on every tick. Handles filter out ticks that changed
// nothing.
type pollSource struct {
	clock    clock.Clock
	interval time.Duration
}

func newPollSource(clk clock.Clock, interval time.Duration) *pollSource {
	return &pollSource{clock: clk, interval: interval}
}

func (s *pollSource) name() string { return ModePoll }

func (s *pollSource) run(ctx context.Context, notify func()) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			notify()
		}
	}
}

func (s *pollSource) close() error { return nil }
