package main

import (
	"errors"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/twinstore"
)

// ErrTwinStoreNotConfigured is returned by newTwinStore until a concrete
// twinstore.Store is wired in. The property-graph store is an external
// collaborator: this process only ever calls the interface, it never
// implements it, so a deployment must link in its own graph-store client
// before running import/delete jobs.
var ErrTwinStoreNotConfigured = errors.New("jobrunner: no TwinStore implementation configured")

// newTwinStore is the seam a deployment overrides (via its own build of
// this command, or a vendored replacement of this file) to supply a
// twinstore.Store backed by its actual property-graph store.
func newTwinStore(cfg *RuntimeConfig) (twinstore.Store, error) {
	_ = cfg

	return nil, ErrTwinStoreNotConfigured
}
