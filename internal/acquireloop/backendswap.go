package acquireloop

import "sync"

// Backend is the subset of backend.Backend that BackendSwap needs; kept
// narrow so this file has no import-cycle exposure beyond the backend
// package itself (imported by loop.go, not here).
type Backend interface {
	Name() string
}

// BackendSwap holds the currently-active platform backend for one lock
// instance and implements the sticky Fatal(Unsupported)→Soft fallback:
// the first Unsupported outcome swaps the instance to its fallback
// backend, once, with a single notice emitted.
type BackendSwap[B Backend] struct {
	mu       sync.Mutex
	active   B
	fallback func() B
	swapped  bool
	onSwap   func(from, to string)
}

// NewBackendSwap returns a swap initially using primary. fallback builds
// the replacement backend lazily, the first (and only) time it is
// needed. onSwap, if non-nil, is invoked exactly once at the moment of
// the swap, named-parameter style, for logging.
func NewBackendSwap[B Backend](primary B, fallback func() B, onSwap func(from, to string)) *BackendSwap[B] {
	return &BackendSwap[B]{active: primary, fallback: fallback, onSwap: onSwap}
}

// Current returns the presently active backend.
func (b *BackendSwap[B]) Current() B {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.active
}

// Swapped reports whether the fallback has already been engaged.
func (b *BackendSwap[B]) Swapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.swapped
}

// SwapToFallback engages the fallback backend, once. Subsequent calls
// are no-ops: a single lock instance never swaps back and never swaps
// twice.
func (b *BackendSwap[B]) SwapToFallback() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.swapped {
		return
	}

	from := b.active.Name()
	b.active = b.fallback()
	b.swapped = true

	if b.onSwap != nil {
		b.onSwap(from, b.active.Name())
	}
}
