// Package prosemirror models editor documents as ProseMirror JSON trees and renders them to HTML.
package prosemirror

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Node represents a node in the ProseMirror document tree
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark represents a text mark (formatting)
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Parse decodes ProseMirror JSON.
func Parse(raw []byte) (Node, error) {
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return Node{}, fmt.Errorf("parse prosemirror json: %w", err)
	}
	return node, nil
}

// ToHTML renders a node and its children to HTML
func ToHTML(node Node) string {
	switch node.Type {
	case "":
		return ""
	case "doc":
		return renderContent(node.Content)
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", renderContent(node.Content))
	case "heading":
		level := headingLevel(node.Attrs)
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, renderContent(node.Content), level)
	case "bulletList":
		return fmt.Sprintf("<ul>\n%s</ul>\n", renderContent(node.Content))
	case "orderedList":
		return fmt.Sprintf("<ol>\n%s</ol>\n", renderContent(node.Content))
	case "listItem":
		return fmt.Sprintf("<li>%s</li>\n", renderContent(node.Content))
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", renderContent(node.Content))
	case "codeBlock":
		// code is escaped once, as plain text
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(plainText(node)))
	case "text":
		return renderTextWithMarks(node.Text, node.Marks)
	case "hardBreak":
		return "<br>"
	case "table":
		return fmt.Sprintf("<table>\n%s</table>\n", renderContent(node.Content))
	case "tableRow":
		return fmt.Sprintf("<tr>\n%s</tr>\n", renderContent(node.Content))
	case "tableCell":
		return fmt.Sprintf("<td>%s</td>\n", renderContent(node.Content))
	case "tableHeader":
		return fmt.Sprintf("<th>%s</th>\n", renderContent(node.Content))
	case "horizontalRule":
		return "<hr>\n"
	default:
		// Unknown node type - render content if any
		return renderContent(node.Content)
	}
}

func headingLevel(attrs map[string]any) int {
	level := 1
	switch v := attrs["level"].(type) {
	case float64:
		level = int(v)
	case int:
		level = v
	case int64:
		level = int(v)
	}
	if level < 1 || level > 6 {
		return 1
	}
	return level
}

func renderContent(content []Node) string {
	var result strings.Builder
	for _, child := range content {
		result.WriteString(ToHTML(child))
	}
	return result.String()
}

// plainText concatenates the text of every descendant.
func plainText(node Node) string {
	if node.Type == "text" {
		return node.Text
	}
	var result strings.Builder
	for _, child := range node.Content {
		result.WriteString(plainText(child))
	}
	return result.String()
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark := marks[i]
		switch mark.Type {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href, _ := mark.Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		}
	}

	return htmlText
}
