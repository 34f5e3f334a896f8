package kvstore

import (
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// atomicTree publishes *iradix.Tree snapshots via atomic.Value so Get never
// contends with Apply for a lock: each Apply builds the next version in a
// transaction and swaps the published pointer only once it commits.
type atomicTree struct {
	v atomic.Value
}

func (a *atomicTree) store(t *iradix.Tree) {
	a.v.Store(t)
}

func (a *atomicTree) load() *iradix.Tree {
	return a.v.Load().(*iradix.Tree)
}
