package normalize

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"

	"docgate/internal/crdt"
)

// Well-known fields of every document the gateway builds.
const (
	FieldTitle    = "title"
	FieldDocID    = "docId"
	FieldParentID = "parentId"
	FieldContent  = "content"
)

var (
	ErrNotInitialized = errors.New("normalizer not initialized")
	ErrInvalidPage    = errors.New("invalid legacy page")
)

//go:embed schema/page.json
var pageSchema []byte

// Converter turns legacy pages into engine updates. Init must succeed before
// the first Normalize call.
type Converter struct {
	engine       crdt.Engine
	schemaSource []byte
	schema       atomic.Pointer[gojsonschema.Schema]
}

func NewConverter(engine crdt.Engine) *Converter {
	return &Converter{engine: engine, schemaSource: pageSchema}
}

// Init compiles the page schema. Calling it again recompiles.
func (c *Converter) Init() error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(c.schemaSource))
	if err != nil {
		return fmt.Errorf("compile page schema: %w", err)
	}
	c.schema.Store(schema)
	return nil
}

func (c *Converter) Ready() bool {
	return c.schema.Load() != nil
}

// Normalize validates and converts one legacy page JSON into update bytes
// carrying the title, docId, parentId and content fields.
func (c *Converter) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	schema := c.schema.Load()
	if schema == nil {
		return nil, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPage, strings.Join(problems, "; "))
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}

	tree, err := BuildTree(page.NodeData)
	if err != nil {
		return nil, fmt.Errorf("rebuild page %d: %w", page.ID, err)
	}
	content, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode page content: %w", err)
	}

	doc := c.engine.NewDocument()
	doc.SetText(FieldTitle, page.Title)
	doc.SetText(FieldDocID, strconv.FormatInt(page.DocID, 10))
	doc.SetText(FieldParentID, strconv.FormatInt(page.ParentID, 10))
	doc.SetText(FieldContent, string(content))
	return doc.EncodeStateAsUpdate(), nil
}
