package acquireloop

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/lockctx"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/registry"
)

// fakeBackend scripts a sequence of outcomes for TryAcquire; the last
// outcome repeats once the script runs out. calls counts every
// TryAcquire call.
type fakeBackend struct {
	name       string
	shared     bool
	outcomes   []backend.AcquireOutcome
	calls      int
	released   []*backend.Handle
	releaseErr error
}

func (f *fakeBackend) Name() string         { return f.name }
func (f *fakeBackend) SupportsShared() bool { return f.shared }

func (f *fakeBackend) TryAcquire(path string, mode backend.LockMode, perm os.FileMode, permSet bool, lifetime time.Duration) backend.AcquireOutcome {
	o := f.outcomes[min(f.calls, len(f.outcomes)-1)]
	f.calls++
	return o
}

func (f *fakeBackend) Release(h *backend.Handle) error {
	f.released = append(f.released, h)
	return f.releaseErr
}

func fakeClock() (Clock, *time.Duration) {
	var now time.Time
	var slept time.Duration
	return Clock{
		Now:   func() time.Time { return now },
		Sleep: func(d time.Duration) { slept += d; now = now.Add(d) },
	}, &slept
}

func baseParams(be backend.Backend) Params {
	return Params{
		LockCtx:       lockctx.New(false),
		Deadlock:      registry.NewDeadlock(),
		Swap:          NewBackendSwap[backend.Backend](be, func() backend.Backend { return be }, nil),
		Path:          "/tmp/x.lock",
		CanonicalPath: "/tmp/x.lock",
		Instance:      &struct{}{},
		Owner:         ownerid.New(),
		CanReenter:    true,
		Mode:          backend.Exclusive,
		Blocking:      true,
		Timeout:       Unbounded,
		PollInterval:  10 * time.Millisecond,
	}
}

func Test_Acquire_SucceedsImmediately(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, _ := fakeClock()

	counter, err := Acquire(clk, baseParams(be))
	if err != nil {
		t.Fatalf("Acquire() err = %v", err)
	}
	if counter != 1 {
		t.Fatalf("counter = %d, want 1", counter)
	}
}

func Test_Acquire_ReentersWithoutCallingBackend(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, _ := fakeClock()
	p := baseParams(be)

	if _, err := Acquire(clk, p); err != nil {
		t.Fatalf("first Acquire() err = %v", err)
	}

	counter, err := Acquire(clk, p)
	if err != nil {
		t.Fatalf("second Acquire() err = %v", err)
	}
	if counter != 2 {
		t.Fatalf("counter = %d, want 2", counter)
	}
	if be.calls != 1 {
		t.Fatalf("backend called %d times across both acquires, want 1 (reentry is the fast path)", be.calls)
	}
}

func Test_Acquire_NonBlocking_FailsFastOnContention(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{{Outcome: backend.Contended}}}
	clk, slept := fakeClock()
	p := baseParams(be)
	p.Blocking = false

	_, err := Acquire(clk, p)
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
	if *slept != 0 {
		t.Fatalf("slept %v, want 0 for non-blocking", *slept)
	}
}

func Test_Acquire_ZeroTimeout_FailsFastOnContention(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{{Outcome: backend.Contended}}}
	clk, _ := fakeClock()
	p := baseParams(be)
	p.Timeout = 0

	_, err := Acquire(clk, p)
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func Test_Acquire_BlockingRetriesThenSucceeds(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Contended},
		{Outcome: backend.Contended},
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, slept := fakeClock()
	p := baseParams(be)
	p.Timeout = time.Second
	p.PollInterval = 10 * time.Millisecond

	counter, err := Acquire(clk, p)
	if err != nil {
		t.Fatalf("Acquire() err = %v", err)
	}
	if counter != 1 {
		t.Fatalf("counter = %d, want 1", counter)
	}
	if *slept != 20*time.Millisecond {
		t.Fatalf("slept %v, want 20ms", *slept)
	}
}

func Test_Acquire_TimesOutAfterBudgetExceeded(t *testing.T) {
	outcomes := make([]backend.AcquireOutcome, 0, 200)
	for range 200 {
		outcomes = append(outcomes, backend.AcquireOutcome{Outcome: backend.Contended})
	}
	be := &fakeBackend{outcomes: outcomes}
	clk, _ := fakeClock()
	p := baseParams(be)
	p.Timeout = 25 * time.Millisecond
	p.PollInterval = 10 * time.Millisecond

	_, err := Acquire(clk, p)
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func Test_Acquire_DeadlockWhenSameOwnerDifferentInstance(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, _ := fakeClock()
	p1 := baseParams(be)
	owner := p1.Owner

	if _, err := Acquire(clk, p1); err != nil {
		t.Fatalf("first Acquire() err = %v", err)
	}

	p2 := baseParams(be)
	p2.LockCtx = p1.LockCtx // a different instance would have its own context in reality, but deadlock is keyed by path+instance+owner
	p2.Deadlock = p1.Deadlock
	p2.Owner = owner
	p2.Instance = &struct{}{} // distinct instance identity
	p2.CanReenter = false

	_, err := Acquire(clk, p2)
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindDeadlock {
		t.Fatalf("err = %v, want KindDeadlock", err)
	}
}

func Test_Acquire_UnsupportedSwapsToFallbackAndRetries(t *testing.T) {
	primary := &fakeBackend{name: "posix-advisory", outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Fatal, FatalKind: backend.FatalUnsupported, Err: errors.New("ENOSYS")},
	}}
	fallback := &fakeBackend{name: "soft-existence", outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, _ := fakeClock()

	var fromName, toName string
	p := baseParams(primary)
	p.Swap = NewBackendSwap[backend.Backend](primary, func() backend.Backend { return fallback }, func(from, to string) {
		fromName, toName = from, to
	})

	counter, err := Acquire(clk, p)
	if err != nil {
		t.Fatalf("Acquire() err = %v", err)
	}
	if counter != 1 {
		t.Fatalf("counter = %d, want 1", counter)
	}
	if fromName != "posix-advisory" || toName != "soft-existence" {
		t.Fatalf("swap callback = (%q, %q), want (posix-advisory, soft-existence)", fromName, toName)
	}
	if !p.Swap.Swapped() {
		t.Fatalf("Swap.Swapped() = false, want true after fallback engaged")
	}
}

func Test_Acquire_FatalPermissionPropagates(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Fatal, FatalKind: backend.FatalPermission, Err: errors.New("permission denied")},
	}}
	clk, _ := fakeClock()

	_, err := Acquire(clk, baseParams(be))
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindPermission {
		t.Fatalf("err = %v, want KindPermission", err)
	}
}

func Test_Release_DecrementsAndReleasesAtZero(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Outcome: backend.Acquired, Handle: &backend.Handle{Path: "/tmp/x.lock"}},
	}}
	clk, _ := fakeClock()
	p := baseParams(be)

	if _, err := Acquire(clk, p); err != nil {
		t.Fatalf("Acquire() err = %v", err)
	}
	if _, err := Acquire(clk, p); err != nil {
		t.Fatalf("second Acquire() err = %v", err)
	}

	rp := ReleaseParams{LockCtx: p.LockCtx, Deadlock: p.Deadlock, Backend: be, CanonicalPath: p.CanonicalPath, Instance: p.Instance, Owner: p.Owner}

	if err := Release(rp); err != nil {
		t.Fatalf("first Release() err = %v", err)
	}
	if len(be.released) != 0 {
		t.Fatalf("backend released at counter>0: %d calls, want 0", len(be.released))
	}

	if err := Release(rp); err != nil {
		t.Fatalf("second Release() err = %v", err)
	}
	if len(be.released) != 1 {
		t.Fatalf("backend released %d times at counter==0, want 1", len(be.released))
	}
}

func Test_Release_NotLockedFailsWithoutForce(t *testing.T) {
	be := &fakeBackend{}
	p := baseParams(be)

	err := Release(ReleaseParams{LockCtx: p.LockCtx, Deadlock: p.Deadlock, Backend: be, CanonicalPath: p.CanonicalPath, Instance: p.Instance, Owner: p.Owner})
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindNotLocked {
		t.Fatalf("err = %v, want KindNotLocked", err)
	}
}

func Test_Release_ForceIsIdempotentOnUnheldLock(t *testing.T) {
	be := &fakeBackend{}
	p := baseParams(be)

	err := Release(ReleaseParams{LockCtx: p.LockCtx, Deadlock: p.Deadlock, Backend: be, CanonicalPath: p.CanonicalPath, Instance: p.Instance, Owner: p.Owner, Force: true})
	if err != nil {
		t.Fatalf("forced Release() on unheld lock err = %v, want nil", err)
	}
	if len(be.released) != 0 {
		t.Fatalf("backend released %d times, want 0 (never acquired)", len(be.released))
	}
}
