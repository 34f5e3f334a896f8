package httpapi

import "errors"

// ErrNotLeader is returned by a Submitter when a write is attempted on a
// node that is not currently the cluster leader.
var ErrNotLeader = errors.New("not leader")
