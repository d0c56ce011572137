// Package store persists what the node learns between restarts: whether it
// was provisioned and the last status each Light CTL server reported.
package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is the persistence used by the recorder, the web API and scripts.
type Store interface {
	SaveNodeState(state *NodeState) error
	GetNodeState() (*NodeState, error)

	// Status records are keyed by event type and source address; saving
	// replaces the previous record for the pair.
	SaveStatus(rec *StatusRecord) error
	GetStatus(eventType string, src uint16) (*StatusRecord, error)
	ListStatuses() ([]*StatusRecord, error)
	DeleteStatuses() error

	Close() error
}
