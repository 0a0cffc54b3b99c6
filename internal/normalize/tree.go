package normalize

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"docgate/internal/prosemirror"
)

var (
	ErrNoRoot        = errors.New("legacy page has no root node")
	ErrMultipleRoots = errors.New("legacy page has more than one root node")
)

// child is either a block row or a text run, ordered together under one parent.
type child struct {
	order   int64
	content *ContentNode
	text    *TextNode
}

// BuildTree rebuilds the editor tree from flat legacy rows. Rows that are not
// reachable from the root are dropped.
func BuildTree(data NodeData) (prosemirror.Node, error) {
	if len(data.Content) == 0 {
		return prosemirror.Node{Type: "doc"}, nil
	}

	var roots []ContentNode
	children := make(map[uuid.UUID][]child)
	for i := range data.Content {
		node := &data.Content[i]
		if node.ParentID == uuid.Nil {
			roots = append(roots, *node)
			continue
		}
		children[node.ParentID] = append(children[node.ParentID], child{order: node.OrderID, content: node})
	}
	for i := range data.Text {
		node := &data.Text[i]
		children[node.ParentID] = append(children[node.ParentID], child{order: node.OrderID, text: node})
	}

	switch len(roots) {
	case 0:
		return prosemirror.Node{}, ErrNoRoot
	case 1:
	default:
		return prosemirror.Node{}, fmt.Errorf("%w: found %d", ErrMultipleRoots, len(roots))
	}

	for id := range children {
		list := children[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].order < list[j].order })
	}

	visited := make(map[uuid.UUID]bool)
	return buildNode(roots[0], children, visited), nil
}

func buildNode(node ContentNode, children map[uuid.UUID][]child, visited map[uuid.UUID]bool) prosemirror.Node {
	visited[node.ContentID] = true

	attrs := make(map[string]any, len(node.Attrs)+3)
	for k, v := range node.Attrs {
		attrs[k] = v
	}
	attrs["contentId"] = node.ContentID.String()
	attrs["orderId"] = node.OrderID
	attrs["docId"] = node.DocID

	out := prosemirror.Node{
		Type:  node.Type,
		Attrs: attrs,
		Marks: node.Marks,
	}
	for _, c := range children[node.ContentID] {
		if c.text != nil {
			out.Content = append(out.Content, prosemirror.Node{
				Type:  "text",
				Text:  c.text.Text,
				Marks: c.text.Marks,
				Attrs: map[string]any{"orderId": c.text.OrderID, "docId": c.text.DocID},
			})
			continue
		}
		if visited[c.content.ContentID] {
			continue
		}
		out.Content = append(out.Content, buildNode(*c.content, children, visited))
	}
	return out
}

// Flatten is the inverse of BuildTree: a breadth-first walk that assigns every
// node its parent id and its position among its siblings. Nodes without a
// contentId attribute get a fresh one.
func Flatten(docID int64, root prosemirror.Node) NodeData {
	type queued struct {
		node   prosemirror.Node
		order  int64
		parent uuid.UUID
	}

	data := NodeData{Content: []ContentNode{}, Text: []TextNode{}}
	queue := []queued{{node: root}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.node.Type == "text" {
			data.Text = append(data.Text, TextNode{
				DocID:    docID,
				ParentID: current.parent,
				OrderID:  current.order,
				Text:     current.node.Text,
				Marks:    current.node.Marks,
			})
			continue
		}

		id := contentID(current.node.Attrs)
		data.Content = append(data.Content, ContentNode{
			DocID:     docID,
			ContentID: id,
			ParentID:  current.parent,
			OrderID:   current.order,
			Type:      current.node.Type,
			Attrs:     stripIdentity(current.node.Attrs),
			Marks:     current.node.Marks,
		})
		for order, next := range current.node.Content {
			queue = append(queue, queued{node: next, order: int64(order), parent: id})
		}
	}
	return data
}

func contentID(attrs map[string]any) uuid.UUID {
	if raw, ok := attrs["contentId"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
			return id
		}
	}
	return uuid.New()
}

// stripIdentity drops the attributes BuildTree derives from the row itself.
func stripIdentity(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch k {
		case "contentId", "orderId", "docId":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
