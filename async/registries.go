package async

import "github.com/outerlane/filelock/internal/registry"

// exclusiveSingletons and rwSingletons are this tier's own singleton
// tables, separate from the synchronous tier's — an async.ExclusiveLock
// and a filelock.ExclusiveLock constructed over the same path are
// different concrete types and never collide. registry.Process (the
// deadlock table) is, by contrast, shared across both tiers; see
// engine.go.
var exclusiveSingletons = registry.NewSingleton[ExclusiveLock]()
var rwSingletons = registry.NewSingleton[ReadWriteLock]()
