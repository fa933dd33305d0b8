package filelock

import (
	"context"

	"github.com/outerlane/filelock/internal/ownerid"
)

// Owner identifies a logical thread of control for reentrancy and
// deadlock-detection purposes. See internal/ownerid's package doc for
// why this is an explicit token rather than goroutine-ID introspection.
type Owner = ownerid.Owner

// NewOwner returns a fresh, globally unique Owner. Callers that model
// independent "threads of control" (goroutines that must not share
// reentrancy state) create one Owner per such thread and attach it to
// every context passed to Acquire/Release/IsLocked for that thread via
// WithOwner.
func NewOwner() Owner { return ownerid.New() }

// WithOwner attaches owner to ctx so that Acquire/Release/IsLocked
// calls made with the returned context are attributed to owner.
// Callers that never call WithOwner share the zero Owner and therefore
// one reentrancy counter, regardless of the instance's own ThreadLocal
// setting, since there is no distinct identity to key on.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	return ownerid.With(ctx, owner)
}
