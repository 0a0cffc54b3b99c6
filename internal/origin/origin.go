// Package origin fetches pages from the origin document service's edit resource.
package origin

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound means the origin has no page for the identity. It is an
	// outcome, not a failure.
	ErrNotFound = errors.New("origin page not found")
	// ErrUnavailable covers transport failures, 5xx and 429 responses, an open
	// circuit and an aborted rate-limit wait.
	ErrUnavailable = errors.New("origin unavailable")
	// ErrMalformed means the response or its payload could not be decoded.
	ErrMalformed = errors.New("origin response malformed")
)

// Metadata is the canonical identity of a page as reported by the origin.
type Metadata struct {
	Title    string
	DocID    int64
	ParentID int64
	Draft    bool
}

type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadDraft
	PayloadPublished
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadDraft:
		return "draft"
	case PayloadPublished:
		return "published"
	default:
		return "none"
	}
}

// Payload holds exactly one variant, selected by the page's draft flag.
// Draft is engine update bytes. Published is the legacy page JSON.
type Payload struct {
	Kind      PayloadKind
	Draft     []byte
	Published json.RawMessage
}

type Document struct {
	Metadata Metadata
	Payload  Payload
}
