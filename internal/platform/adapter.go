// Package platform implements reachability.Platform for the local host. It
// derives flags from the kernel's route choice and the egress interface, and
// watches netlink (Linux) or the routing socket (BSD, macOS) to recheck
// scheduled handles when the network changes. Where neither is available it
// polls.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"

	"github.com/HerbHall/netreach/pkg/reachability"
)

var (
	// ErrClosed is returned by operations on a closed handle or adapter.
	ErrClosed = errors.New("platform: closed")
	// ErrScheduled is returned when a handle is scheduled on a second loop.
	ErrScheduled = errors.New("platform: handle already scheduled on another loop")
)

// Compile-time interface guards.
var (
	_ reachability.Platform = (*Adapter)(nil)
	_ reachability.Handle   = (*handle)(nil)
)

// Adapter is the host reachability.Platform.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
	clock  clock.Clock

	kinds     *kindClassifier
	prober    *prober
	limiter   *rate.Limiter
	newNative func() (changeSource, error)

	mu       sync.Mutex
	handles  map[*handle]struct{}
	watching bool
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// New creates an Adapter. Watching starts with the first scheduled handle.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kinds := newKindClassifier(logger)
	limit := rate.Inf
	if cfg.MinRecheckInterval > 0 {
		limit = rate.Every(cfg.MinRecheckInterval)
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger,
		clock:     clock.New(),
		kinds:     kinds,
		prober:    newProber(logger, kinds),
		limiter:   rate.NewLimiter(limit, 1),
		newNative: newNativeSource,
		handles:   make(map[*handle]struct{}),
	}, nil
}

// CreateWithName implements reachability.Platform. IP literals are treated as
// address targets.
func (a *Adapter) CreateWithName(name string) (reachability.Handle, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if addr, err := netip.ParseAddr(name); err == nil {
		return a.newHandle(target{addr: addr.Unmap()}), nil
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil || ascii == "" {
		return nil, fmt.Errorf("%w: hostname %q: %v", reachability.ErrInvalidTarget, name, err)
	}
	return a.newHandle(target{host: ascii}), nil
}

// CreateWithAddress implements reachability.Platform. The unspecified
// address selects the default route.
func (a *Adapter) CreateWithAddress(addr netip.AddrPort) (reachability.Handle, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	if !addr.IsValid() {
		return nil, fmt.Errorf("%w: invalid address", reachability.ErrInvalidTarget)
	}
	ip := addr.Addr().Unmap()
	return a.newHandle(target{addr: ip, defaultRoute: ip.IsUnspecified()}), nil
}

// Route reports the path to a hostname or IP literal, for diagnostics.
func (a *Adapter) Route(ctx context.Context, host string) (Route, error) {
	h, err := a.CreateWithName(host)
	if err != nil {
		return Route{}, err
	}
	defer h.Close()
	return h.(*handle).route(ctx)
}

// Close stops watching and releases the interface classifier. Handles still
// open report ErrClosed afterwards.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, done := a.cancel, a.done
	handles := make([]*handle, 0, len(a.handles))
	for h := range a.handles {
		handles = append(handles, h)
	}
	a.handles = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, h.Close())
	}
	return multierr.Append(errs, a.kinds.Close())
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) newHandle(t target) *handle {
	return &handle{adapter: a, target: t}
}

func (a *Adapter) register(h *handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.handles[h] = struct{}{}
	if !a.watching {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.done = make(chan struct{})
		a.watching = true
		go a.watch(ctx, a.done)
	}
	return nil
}

func (a *Adapter) unregister(h *handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handles, h)
}

func (a *Adapter) scheduled() []*handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*handle, 0, len(a.handles))
	for h := range a.handles {
		out = append(out, h)
	}
	return out
}

// watch runs the change source and rechecks scheduled handles on every
// signal. Bursts collapse into one pending signal, and rechecks are spaced
// by the rate limiter. done is closed only after the source has returned
// and released its socket.
func (a *Adapter) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	signals := make(chan struct{}, 1)
	notify := func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runSource(ctx, notify)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}
		a.kinds.refresh()
		a.recheck(ctx)
	}
}

// runSource runs the native source, falling back to polling when it cannot
// be opened or fails.
func (a *Adapter) runSource(ctx context.Context, notify func()) {
	if a.cfg.Mode == ModeAuto {
		src, err := a.newNative()
		if err == nil {
			a.logger.Info("watching network changes", zap.String("source", src.name()))
			err = src.run(ctx, notify)
			if cerr := src.close(); cerr != nil {
				a.logger.Debug("failed to close change source", zap.Error(cerr))
			}
			if ctx.Err() != nil {
				return
			}
		}
		a.logger.Warn("native change source unavailable, polling",
			zap.Error(err),
			zap.Duration("interval", a.cfg.PollInterval),
		)
		// Whatever the native source missed, catch it now.
		notify()
	}

	src := newPollSource(a.clock, a.cfg.PollInterval)
	if err := src.run(ctx, notify); err != nil {
		a.logger.Error("poll source stopped", zap.Error(err))
	}
}

func (a *Adapter) recheck(ctx context.Context) {
	for _, h := range a.scheduled() {
		flags, err := h.Flags(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Debug("recheck failed", zap.Stringer("target", h.target), zap.Error(err))
			continue
		}
		h.deliver(flags)
	}
}

// target is the adapter's view of what a handle watches.
type target struct {
	host         string
	addr         netip.Addr
	defaultRoute bool
}

func (t target) String() string {
	if t.host != "" {
		return t.host
	}
	return t.addr.String()
}

// handle is one monitored target. Callbacks are posted while holding mu, so
// once Unschedule has taken mu nothing more reaches the old loop.
type handle struct {
	adapter *Adapter
	target  target

	mu     sync.Mutex
	cb     reachability.Callback
	loop   reachability.Executor
	last   reachability.Flags
	primed bool
	closed bool
}

func (h *handle) Flags(ctx context.Context) (reachability.Flags, error) {
	r, err := h.route(ctx)
	return r.Flags, err
}

func (h *handle) route(ctx context.Context) (Route, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return Route{}, ErrClosed
	}

	p := h.adapter.prober
	if h.target.host != "" {
		rctx, cancel := context.WithTimeout(ctx, h.adapter.cfg.ResolveTimeout)
		defer cancel()
		return p.probeHost(rctx, h.target.host)
	}
	return p.probeAddr(ctx, h.target.addr, h.target.defaultRoute)
}

func (h *handle) SetCallback(cb reachability.Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		if cb == nil {
			return nil
		}
		return ErrClosed
	}
	h.cb = cb
	return nil
}

// Schedule records the current flags as the baseline, so only later
// transitions are reported, and registers the handle with the watcher.
func (h *handle) Schedule(loop reachability.Executor) error {
	if loop == nil {
		return errors.New("platform: nil executor")
	}
	baseline, err := h.Flags(context.Background())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.loop != nil && h.loop != loop {
		h.mu.Unlock()
		return ErrScheduled
	}
	h.loop = loop
	h.last, h.primed = baseline, err == nil
	h.mu.Unlock()

	if err := h.adapter.register(h); err != nil {
		h.mu.Lock()
		h.loop = nil
		h.mu.Unlock()
		return err
	}
	return nil
}

func (h *handle) Unschedule(loop reachability.Executor) {
	h.mu.Lock()
	if h.loop == nil || h.loop != loop {
		h.mu.Unlock()
		return
	}
	h.loop = nil
	h.mu.Unlock()
	h.adapter.unregister(h)
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.loop = nil
	h.cb = nil
	h.mu.Unlock()
	h.adapter.unregister(h)
	return nil
}

// deliver posts cb(flags) to the scheduled loop if flags differ from the
// last value seen.
func (h *handle) deliver(flags reachability.Flags) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.primed && flags == h.last {
		return
	}
	h.last, h.primed = flags, true
	if h.loop == nil || h.cb == nil {
		return
	}
	cb := h.cb
	if !h.loop.Post(func() { cb(flags) }) {
		h.adapter.logger.Debug("executor rejected callback", zap.Stringer("target", h.target))
	}
}
