package origin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type pageData struct {
	Title    *string         `json:"title"`
	DocID    *int64          `json:"docId"`
	ParentID *int64          `json:"parentId"`
	Draft    flag            `json:"draft"`
	Data     json.RawMessage `json:"data"`
}

// flag accepts true/false as well as the 0/1 the origin stores drafts as.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid draft flag %s", b)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeDocument(body []byte) (Document, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if isNull(env.Data) {
		return Document{}, ErrNotFound
	}

	var page pageData
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc := Document{Metadata: Metadata{Draft: bool(page.Draft)}}
	if page.Title != nil {
		doc.Metadata.Title = *page.Title
	}
	if page.DocID != nil {
		doc.Metadata.DocID = *page.DocID
	}
	if page.ParentID != nil {
		doc.Metadata.ParentID = *page.ParentID
	}

	var err error
	if doc.Metadata.Draft {
		doc.Payload, err = decodeDraft(page.Data)
	} else {
		doc.Payload, err = decodePublished(env.Data, page.Data)
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// decodeDraft unwraps the draft row {id, docId, data} when present, then
// unquotes the stored string (at most twice) and base64 decodes it.
func decodeDraft(raw json.RawMessage) (Payload, error) {
	if isNull(raw) {
		return Payload{Kind: PayloadNone}, nil
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var row struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return Payload{}, fmt.Errorf("%w: draft row: %v", ErrMalformed, err)
		}
		if isNull(row.Data) {
			return Payload{Kind: PayloadNone}, nil
		}
		raw = row.Data
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return Payload{}, fmt.Errorf("%w: draft is not a string: %v", ErrMalformed, err)
	}
	if strings.HasPrefix(strings.TrimSpace(encoded), `"`) {
		var inner string
		if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
			return Payload{}, fmt.Errorf("%w: draft string: %v", ErrMalformed, err)
		}
		encoded = inner
	}
	if strings.TrimSpace(encoded) == "" {
		return Payload{Kind: PayloadNone}, nil
	}

	state, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: draft base64: %v", ErrMalformed, err)
	}
	return Payload{Kind: PayloadDraft, Draft: state}, nil
}

// decodePublished picks the nested page when present, otherwise the data
// object itself carries nodeData.
func decodePublished(outer, inner json.RawMessage) (Payload, error) {
	page := outer
	if !isNull(inner) {
		page = inner
	}

	page = bytes.TrimSpace(page)
	if bytes.HasPrefix(page, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(page, &s); err != nil {
			return Payload{}, fmt.Errorf("%w: published page: %v", ErrMalformed, err)
		}
		page = bytes.TrimSpace([]byte(s))
	}
	if !bytes.HasPrefix(page, []byte("{")) || !json.Valid(page) {
		return Payload{}, fmt.Errorf("%w: published page is not an object", ErrMalformed)
	}
	return Payload{Kind: PayloadPublished, Published: json.RawMessage(page)}, nil
}
