package testutil

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"github.com/HerbHall/netreach/pkg/reachability"
)

// Compile-time interface checks.
var (
	_ reachability.Platform = (*FakePlatform)(nil)
	_ reachability.Handle   = (*FakeHandle)(nil)
)

// ErrFake is a generic platform failure for tests.
var ErrFake = errors.New("fake platform failure")

// FakePlatform is a controllable reachability.Platform. Tests set flags on
// the handles it creates and fire change callbacks by hand.
type FakePlatform struct {
	mu sync.Mutex
	// CreateErr, when set, fails every Create call.
	CreateErr error
	// InitialFlags are the flags new handles start with.
	InitialFlags reachability.Flags
	handles      []*FakeHandle
}

// NewFakePlatform returns a platform whose handles report flags.
func NewFakePlatform(flags reachability.Flags) *FakePlatform {
	return &FakePlatform{InitialFlags: flags}
}

// CreateWithName implements reachability.Platform.
func (p *FakePlatform) CreateWithName(name string) (reachability.Handle, error) {
	return p.create(func(h *FakeHandle) { h.Name = name })
}

// CreateWithAddress implements reachability.Platform.
func (p *FakePlatform) CreateWithAddress(addr netip.AddrPort) (reachability.Handle, error) {
	return p.create(func(h *FakeHandle) { h.Addr = addr })
}

func (p *FakePlatform) create(set func(*FakeHandle)) (reachability.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	h := &FakeHandle{flags: p.InitialFlags}
	set(h)
	p.handles = append(p.handles, h)
	return h, nil
}

// Handles returns the handles created so far, oldest first.
func (p *FakePlatform) Handles() []*FakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeHandle(nil), p.handles...)
}

// Last returns the most recently created handle, or nil.
func (p *FakePlatform) Last() *FakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return nil
	}
	return p.handles[len(p.handles)-1]
}

// FakeHandle is the handle type created by FakePlatform.
type FakeHandle struct {
	Name string
	Addr netip.AddrPort

	mu       sync.Mutex
	flags    reachability.Flags
	flagsErr error
	cb       reachability.Callback
	loop     reachability.Executor
	closed   bool

	setCallbackErr error
	scheduleErr    error
	unschedules    int
	queries        int
}

// SetFlags changes the flags the handle reports.
func (h *FakeHandle) SetFlags(f reachability.Flags) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags = f
}

// FailFlags makes Flags return err. Pass nil to recover.
func (h *FakeHandle) FailFlags(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flagsErr = err
}

// FailSetCallback makes the next SetCallback calls with a non-nil callback fail.
func (h *FakeHandle) FailSetCallback(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setCallbackErr = err
}

// FailSchedule makes Schedule fail.
func (h *FakeHandle) FailSchedule(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduleErr = err
}

// Fire posts the installed callback with the current flags onto the
// scheduled executor, as a platform does on a change. It reports whether
// anything was posted.
func (h *FakeHandle) Fire() bool {
	h.mu.Lock()
	cb, loop, flags := h.cb, h.loop, h.flags
	h.mu.Unlock()
	if cb == nil || loop == nil {
		return false
	}
	return loop.Post(func() { cb(flags) })
}

// Callback returns the installed callback so tests can invoke it after the
// platform would have stopped delivering.
func (h *FakeHandle) Callback() reachability.Callback {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cb
}

// Scheduled returns the executor the handle is scheduled on, or nil.
func (h *FakeHandle) Scheduled() reachability.Executor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loop
}

// Unschedules counts Unschedule calls.
func (h *FakeHandle) Unschedules() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unschedules
}

// Queries counts Flags calls.
func (h *FakeHandle) Queries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queries
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Flags implements reachability.Handle.
func (h *FakeHandle) Flags(_ context.Context) (reachability.Flags, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries++
	if h.flagsErr != nil {
		return 0, h.flagsErr
	}
	return h.flags, nil
}

// SetCallback implements reachability.Handle.
func (h *FakeHandle) SetCallback(cb reachability.Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb != nil && h.setCallbackErr != nil {
		return h.setCallbackErr
	}
	h.cb = cb
	return nil
}

// Schedule implements reachability.Handle.
func (h *FakeHandle) Schedule(loop reachability.Executor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scheduleErr != nil {
		return h.scheduleErr
	}
	h.loop = loop
	return nil
}

// Unschedule implements reachability.Handle.
func (h *FakeHandle) Unschedule(loop reachability.Executor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unschedules++
	if h.loop == loop {
		h.loop = nil
	}
}

// Close implements reachability.Handle.
func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// InlineExecutor runs posted functions immediately on the caller's goroutine.
type InlineExecutor struct {
	mu     sync.Mutex
	posted int
	closed bool
}

// NewInlineExecutor returns an open InlineExecutor.
func NewInlineExecutor() *InlineExecutor { return &InlineExecutor{} }

// Post implements reachability.Executor.
func (e *InlineExecutor) Post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.posted++
	e.mu.Unlock()
	fn()
	return true
}

// Posted counts accepted posts.
func (e *InlineExecutor) Posted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posted
}

// Close makes further posts fail.
func (e *InlineExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}
