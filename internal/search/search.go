// Package search keeps a best-effort Meilisearch index of document identity
// metadata so operators can find documents by title.
package search

import (
	"crypto/sha1"
	"encoding/hex"
)

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID           string `json:"id"`
	DocumentName string `json:"documentName"`
	Title        string `json:"title"`
	DocID        int64  `json:"docId"`
	ParentID     int64  `json:"parentId"`
	PageID       string `json:"pageId"`
	SpaceID      string `json:"spaceId"`
	Source       string `json:"source"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	DocumentName string `json:"documentName"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	DocID        int64  `json:"docId"`
	SpaceID      string `json:"spaceId"`
	Source       string `json:"source"`
}

type Query struct {
	Text          string
	FilterSpaceID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results   []Result `json:"results"`
	Total     int      `json:"total"`
	Query     string   `json:"query"`
	Available bool     `json:"available"`
}

// RecordID derives the index primary key from a document name. Names may hold
// characters Meilisearch rejects in ids, so the hex SHA-1 is used instead.
func RecordID(documentName string) string {
	sum := sha1.Sum([]byte(documentName))
	return hex.EncodeToString(sum[:])
}
