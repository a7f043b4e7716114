// Package model defines the typed knowledge-graph entities and the
// message shapes the ingestion engine consumes.
package model

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier shared by every node and edge kind.
type ID string

// NewID returns a freshly generated, process-wide unique ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Empty reports whether id carries no value.
func (id ID) Empty() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}
