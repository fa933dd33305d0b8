// Package ownerid provides the explicit "who is asking" identity the
// lock state machine uses for reentrancy, self-deadlock detection, and
// writer pinning.
//
// Go doesn't expose a stable, idiomatic thread/goroutine identity (and
// goroutines migrate across OS threads), so rather than parsing
// runtime.Stack() for a goroutine id, ownership here is an explicit
// token the caller creates once per logical thread of control and
// threads through a context.Context. Callers that never create one
// share a single zero-value Owner and therefore a single reentrancy
// counter.
package ownerid

import (
	"context"
	"sync/atomic"
)

// Owner identifies a logical thread of control for reentrancy and
// deadlock-detection purposes.
type Owner struct {
	id uint64
}

var counter atomic.Uint64

// New returns a fresh, globally unique Owner.
func New() Owner {
	return Owner{id: counter.Add(1)}
}

// Zero is the default Owner used when none was attached to a context.
var Zero = Owner{}

type contextKey struct{}

// With attaches o to ctx.
func With(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, contextKey{}, o)
}

// From extracts the Owner attached to ctx, or Zero if none was attached.
func From(ctx context.Context) Owner {
	if ctx == nil {
		return Zero
	}

	if o, ok := ctx.Value(contextKey{}).(Owner); ok {
		return o
	}

	return Zero
}
