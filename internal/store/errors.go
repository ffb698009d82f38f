// Package store persists runs, players, daily snapshots and coordination
// locks in MongoDB.
package store

import "errors"

// ErrNotFound is returned when a lookup, update or delete matches no
// document, including when the id is not a valid ObjectID.
var ErrNotFound = errors.New("store: not found")
