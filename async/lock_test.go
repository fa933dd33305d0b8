package async

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/outerlane/filelock"
	"github.com/outerlane/filelock/internal/ownerid"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.lock")
}

func Test_Acquire_SucceedsAndReleases(t *testing.T) {
	lock, err := New(lockPath(t))
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	ctx := context.Background()
	proxy, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() err = %v", err)
	}
	if !lock.IsLocked(ctx) {
		t.Fatal("IsLocked() = false after Acquire")
	}

	if err := proxy.Release(); err != nil {
		t.Fatalf("Release() err = %v", err)
	}
	if lock.IsLocked(ctx) {
		t.Fatal("IsLocked() = true after Release")
	}

	// Release is idempotent.
	if err := proxy.Release(); err != nil {
		t.Fatalf("second Release() err = %v", err)
	}
}

func Test_Acquire_ReentersOnSameOwner(t *testing.T) {
	lock, err := New(lockPath(t))
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	ctx := context.Background()
	if _, err := lock.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() err = %v", err)
	}
	if _, err := lock.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire() err = %v", err)
	}
	if got := lock.LockCounter(ctx); got != 2 {
		t.Fatalf("LockCounter() = %d, want 2", got)
	}

	if err := lock.Release(ctx, false); err != nil {
		t.Fatalf("first Release() err = %v", err)
	}
	if !lock.IsLocked(ctx) {
		t.Fatal("IsLocked() = false after releasing one of two levels")
	}

	if err := lock.Release(ctx, false); err != nil {
		t.Fatalf("second Release() err = %v", err)
	}
	if lock.IsLocked(ctx) {
		t.Fatal("IsLocked() = true after releasing both levels")
	}
}

func Test_Acquire_BlockingNonBlocking_FailsFastOnContention(t *testing.T) {
	path := lockPath(t)

	holder, err := New(path)
	if err != nil {
		t.Fatalf("New() holder err = %v", err)
	}
	contender, err := New(path)
	if err != nil {
		t.Fatalf("New() contender err = %v", err)
	}

	holderCtx := ownerid.With(context.Background(), ownerid.New())
	contenderCtx := ownerid.With(context.Background(), ownerid.New())

	if _, err := holder.Acquire(holderCtx); err != nil {
		t.Fatalf("holder Acquire() err = %v", err)
	}
	defer holder.Release(holderCtx, false)

	_, err = contender.Acquire(contenderCtx, WithAcquireBlocking(false))
	if err == nil {
		t.Fatal("contender Acquire() succeeded, want contention error")
	}
	if !errors.Is(err, filelock.ErrTimeout) {
		t.Fatalf("contender Acquire() err = %v, want ErrTimeout", err)
	}
}

func Test_Acquire_CancelledContextUnwindsPromptly(t *testing.T) {
	path := lockPath(t)

	holder, err := New(path)
	if err != nil {
		t.Fatalf("New() holder err = %v", err)
	}
	contender, err := New(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() contender err = %v", err)
	}

	holderCtx := ownerid.With(context.Background(), ownerid.New())
	contenderCtx := ownerid.With(context.Background(), ownerid.New())

	if _, err := holder.Acquire(holderCtx); err != nil {
		t.Fatalf("holder Acquire() err = %v", err)
	}
	defer holder.Release(holderCtx, false)

	ctx, cancel := context.WithTimeout(contenderCtx, 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = contender.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed > time.Second {
		t.Fatalf("Acquire() took %v to unwind after cancellation, want prompt return", elapsed)
	}
}

func Test_Acquire_DeadlockWhenSameOwnerDifferentInstance(t *testing.T) {
	path := lockPath(t)

	first, err := New(path)
	if err != nil {
		t.Fatalf("New() first err = %v", err)
	}
	second, err := New(path)
	if err != nil {
		t.Fatalf("New() second err = %v", err)
	}

	owner := ownerid.New()
	ctx := ownerid.With(context.Background(), owner)

	if _, err := first.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() err = %v", err)
	}
	defer first.Release(ctx, false)

	_, err = second.Acquire(ctx)
	if !errors.Is(err, filelock.ErrDeadlock) {
		t.Fatalf("second Acquire() err = %v, want ErrDeadlock", err)
	}
}

func Test_Around_ReleasesOnPanicFreeReturn(t *testing.T) {
	lock, err := New(lockPath(t))
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	ctx := context.Background()
	ran := false
	if err := lock.Around(ctx, func() error {
		ran = true
		if !lock.IsLocked(ctx) {
			t.Error("lock not held inside Around's fn")
		}
		return nil
	}); err != nil {
		t.Fatalf("Around() err = %v", err)
	}

	if !ran {
		t.Fatal("Around() did not run fn")
	}
	if lock.IsLocked(ctx) {
		t.Fatal("IsLocked() = true after Around returned")
	}
}

func Test_Release_NotLockedFailsWithoutForce(t *testing.T) {
	lock, err := New(lockPath(t))
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	ctx := context.Background()
	err = lock.Release(ctx, false)
	if !errors.Is(err, filelock.ErrReleasedTooManyTimes) {
		t.Fatalf("Release() err = %v, want ErrReleasedTooManyTimes", err)
	}

	if err := lock.Release(ctx, true); err != nil {
		t.Fatalf("forced Release() on unheld lock err = %v, want nil", err)
	}
}

func Test_New_Singleton_ReturnsSameInstanceForMatchingConfig(t *testing.T) {
	path := lockPath(t)

	a, err := New(path, WithSingleton(true), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("New() a err = %v", err)
	}
	b, err := New(path, WithSingleton(true), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("New() b err = %v", err)
	}

	if a != b {
		t.Fatal("New() with WithSingleton(true) returned distinct instances for the same path/config")
	}

	_, err = New(path, WithSingleton(true), WithTimeout(2*time.Second))
	if !errors.Is(err, filelock.ErrConfigurationMismatch) {
		t.Fatalf("New() with mismatched config err = %v, want ErrConfigurationMismatch", err)
	}
}

func Test_DefaultConfig_IsNotThreadLocal(t *testing.T) {
	lock, err := New(lockPath(t))
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	if lock.IsThreadLocal() {
		t.Fatal("IsThreadLocal() = true, want false default for the async tier")
	}
}
