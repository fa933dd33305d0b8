package filelock

import "github.com/outerlane/filelock/internal/registry"

// deadlockRegistry is the single process-wide self-deadlock table,
// shared by ExclusiveLock and ReadWriteLock: a ReadWriteLock's inner/outer
// locks are engines that register the ReadWriteLock itself as the
// holding instance, so a second ReadWriteLock over the same path taken
// by the same owner (for example a writer nested inside a reader) is
// caught as a self-deadlock. It is also shared with package async (via
// registry.Process) so a sync and an async lock over the same path
// collide correctly too.
var deadlockRegistry = registry.Process

// exclusiveSingletons and rwSingletons are kept separate so a
// ReadWriteLock and an ExclusiveLock over the same path never collide:
// each concrete lock type has its own registry.
var exclusiveSingletons = registry.NewSingleton[ExclusiveLock]()
var rwSingletons = registry.NewSingleton[ReadWriteLock]()

func configsEqualAny(a, b any) bool {
	ac, aok := a.(Config)
	bc, bok := b.(Config)
	if !aok || !bok {
		return false
	}
	return configsEqual(ac, bc)
}
