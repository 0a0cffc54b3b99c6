// Package normalize converts pages stored in the origin service's legacy
// structured-content schema into collaboration engine updates.
//
// The legacy schema stores a document as flat rows: one ContentNode per block
// node, linked to its parent by id and ordered by orderId, and one TextNode per
// text run attached to its parent block. The root row has the nil uuid as parent.
package normalize

import (
	"github.com/google/uuid"

	"docgate/internal/prosemirror"
)

// Page is a published page as returned by the origin service.
type Page struct {
	Title    string   `json:"title"`
	OwnerID  string   `json:"ownerId"`
	ParentID int64    `json:"parentId"`
	ID       int64    `json:"id"`
	DocID    int64    `json:"docId"`
	SpaceID  string   `json:"spaceId"`
	NodeData NodeData `json:"nodeData"`
}

type NodeData struct {
	Content []ContentNode `json:"content"`
	Text    []TextNode    `json:"text"`
}

type ContentNode struct {
	DocID     int64              `json:"docId"`
	ContentID uuid.UUID          `json:"contentId"`
	ParentID  uuid.UUID          `json:"parentId"`
	OrderID   int64              `json:"orderId"`
	Type      string             `json:"type"`
	Attrs     map[string]any     `json:"attrs"`
	Marks     []prosemirror.Mark `json:"marks"`
}

type TextNode struct {
	DocID    int64              `json:"docId"`
	ParentID uuid.UUID          `json:"parentId"`
	OrderID  int64              `json:"orderId"`
	Text     string             `json:"text"`
	Marks    []prosemirror.Mark `json:"marks"`
}
