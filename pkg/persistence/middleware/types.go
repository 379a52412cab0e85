// Package middleware wraps a ports.SnapshotStore to change what reaches the
// backing store: encryption at rest and masking of sensitive keys.
package middleware

import "github.com/aretw0/toolgate/pkg/ports"

// Middleware allows wrapping a SnapshotStore to add behavior.
type Middleware func(ports.SnapshotStore) ports.SnapshotStore

// Wrap applies mws to store. The first middleware is the outermost, so it sees
// a snapshot before the others do.
func Wrap(store ports.SnapshotStore, mws ...Middleware) ports.SnapshotStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
