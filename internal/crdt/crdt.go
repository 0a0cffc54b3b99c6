// Package crdt describes the document capability the gateway borrows from the
// collaboration engine, and ships a small built-in engine so the gateway can run
// without one.
package crdt

import "errors"

// ErrMalformedUpdate is returned when an update cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed crdt update")

// Document is a replicated document with named text fields.
//
// ApplyUpdate merges an encoded update into the document without loss. Merging is
// associative, commutative and idempotent, so the order in which updates arrive
// does not matter.
type Document interface {
	ApplyUpdate(update []byte) error
	EncodeStateAsUpdate() []byte
	GetText(name string) string
	SetText(name, value string)
}

// Engine creates empty documents.
type Engine interface {
	NewDocument() Document
}

// DefaultEngine builds register documents.
type DefaultEngine struct{}

func (DefaultEngine) NewDocument() Document {
	return NewDoc()
}
