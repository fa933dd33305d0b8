package filelock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// This file holds a state-model property test for ReadWriteLock:
// identical operations are applied to a deliberately-simple in-memory
// model of the mode/counter state machine and to the real lock for a
// single owner, and the observable state is compared after every step.
// This is not an on-disk-format test.

type rwModelState struct {
	mode    rwMode
	counter int
}

type rwOp interface{ apply(*rwModelState) error }

type rwOpRead struct{}

func (rwOpRead) apply(s *rwModelState) error {
	if s.counter > 0 && s.mode != rwRead {
		return ErrModeSwitch
	}
	s.counter++
	s.mode = rwRead
	return nil
}

type rwOpWrite struct{}

func (rwOpWrite) apply(s *rwModelState) error {
	if s.counter > 0 && s.mode != rwWrite {
		return ErrModeSwitch
	}
	s.counter++
	s.mode = rwWrite
	return nil
}

type rwOpRelease struct{ force bool }

func (o rwOpRelease) apply(s *rwModelState) error {
	if s.counter == 0 {
		if o.force {
			return nil
		}
		return ErrReleasedTooManyTimes
	}
	if o.force {
		s.counter = 0
	} else {
		s.counter--
	}
	if s.counter == 0 {
		s.mode = rwNone
	}
	return nil
}

func (rwOpRead) String() string      { return "Read()" }
func (rwOpWrite) String() string     { return "Write()" }
func (o rwOpRelease) String() string { return fmt.Sprintf("Release(force=%v)", o.force) }

// observed is the state-model's view of what a real caller can see through
// the public API: IsLocked/LockCounter, plus whether the last op errored and
// which sentinel it matched.
type observed struct {
	Locked      bool
	Counter     int
	ErrIsModeSw bool
	ErrIsNotLk  bool
}

func randRWOp(r *rand.Rand) rwOp {
	switch r.Intn(4) {
	case 0:
		return rwOpRead{}
	case 1:
		return rwOpWrite{}
	case 2:
		return rwOpRelease{force: false}
	default:
		return rwOpRelease{force: true}
	}
}

func applyModelRW(s *rwModelState, op rwOp) observed {
	err := op.apply(s)
	return observed{
		Locked:      s.counter > 0,
		Counter:     s.counter,
		ErrIsModeSw: errors.Is(err, ErrModeSwitch),
		ErrIsNotLk:  errors.Is(err, ErrReleasedTooManyTimes),
	}
}

func applyRealRW(t *testing.T, ctx context.Context, lock *ReadWriteLock, op rwOp) observed {
	t.Helper()

	var err error
	switch o := op.(type) {
	case rwOpRead:
		_, err = lock.Read(ctx, WithAcquireTimeout(0))
	case rwOpWrite:
		_, err = lock.Write(ctx, WithAcquireTimeout(0))
	case rwOpRelease:
		err = lock.Release(ctx, o.force)
	}

	return observed{
		Locked:      lock.IsLocked(ctx),
		Counter:     lock.LockCounter(ctx),
		ErrIsModeSw: errors.Is(err, ErrModeSwitch),
		ErrIsNotLk:  errors.Is(err, ErrReleasedTooManyTimes),
	}
}

func Test_ReadWriteLock_Matches_Model_Property(t *testing.T) {
	t.Parallel()

	const seedCount = 20
	const opsPerSeed = 100

	for i := 0; i < seedCount; i++ {
		seed := int64(i + 1)

		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			t.Parallel()

			lock, err := NewReadWrite(rwPath(t))
			require.NoError(t, err)

			ctx := context.Background()
			model := &rwModelState{}
			rnd := rand.New(rand.NewSource(seed))

			for step := 0; step < opsPerSeed; step++ {
				op := randRWOp(rnd)

				wantObs := applyModelRW(model, op)
				gotObs := applyRealRW(t, ctx, lock, op)

				if diff := cmp.Diff(wantObs, gotObs); diff != "" {
					t.Fatalf("step %d, op %v: model/real mismatch (-want +got):\n%s", step, op, diff)
				}
			}

			// Drain whatever the model thinks is still held so the next
			// subtest's temp file isn't left locked.
			for model.counter > 0 {
				_ = lock.Release(ctx, true)
				model.counter = 0
			}
		})
	}
}
