package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docWith(t *testing.T, fields map[string]string) *Doc {
	t.Helper()
	doc := NewDoc()
	for name, value := range fields {
		doc.SetText(name, value)
	}
	return doc
}

func TestEncodeApplyRoundTrip(t *testing.T) {
	src := docWith(t, map[string]string{"title": "Notes", "docId": "42"})

	dst := NewDoc()
	require.NoError(t, dst.ApplyUpdate(src.EncodeStateAsUpdate()))

	assert.Equal(t, "Notes", dst.GetText("title"))
	assert.Equal(t, "42", dst.GetText("docId"))
	assert.Equal(t, []string{"docId", "title"}, dst.Fields())
	assert.Equal(t, src.EncodeStateAsUpdate(), dst.EncodeStateAsUpdate())
}

func TestEmptyDocument(t *testing.T) {
	doc := NewDoc()
	assert.Equal(t, "", doc.GetText("title"))

	other := NewDoc()
	require.NoError(t, other.ApplyUpdate(doc.EncodeStateAsUpdate()))
	require.NoError(t, other.ApplyUpdate(nil))
	assert.Empty(t, other.Fields())
}

func TestMergeIsCommutative(t *testing.T) {
	a := docWith(t, map[string]string{"title": "from a"})
	b := docWith(t, map[string]string{"title": "from b", "parentId": "7"})

	ab := NewDoc()
	require.NoError(t, ab.ApplyUpdate(a.EncodeStateAsUpdate()))
	require.NoError(t, ab.ApplyUpdate(b.EncodeStateAsUpdate()))

	ba := NewDoc()
	require.NoError(t, ba.ApplyUpdate(b.EncodeStateAsUpdate()))
	require.NoError(t, ba.ApplyUpdate(a.EncodeStateAsUpdate()))

	assert.Equal(t, ab.EncodeStateAsUpdate(), ba.EncodeStateAsUpdate())
	assert.Equal(t, "7", ab.GetText("parentId"))
}

func TestMergeIsIdempotent(t *testing.T) {
	src := docWith(t, map[string]string{"title": "Notes"})
	update := src.EncodeStateAsUpdate()

	dst := NewDoc()
	require.NoError(t, dst.ApplyUpdate(update))
	once := dst.EncodeStateAsUpdate()
	require.NoError(t, dst.ApplyUpdate(update))

	assert.Equal(t, once, dst.EncodeStateAsUpdate())
}

func TestMergeIsAssociative(t *testing.T) {
	a := docWith(t, map[string]string{"title": "a"}).EncodeStateAsUpdate()
	b := docWith(t, map[string]string{"title": "b", "docId": "1"}).EncodeStateAsUpdate()
	c := docWith(t, map[string]string{"docId": "2"}).EncodeStateAsUpdate()

	left := NewDoc()
	ab := NewDoc()
	require.NoError(t, ab.ApplyUpdate(a))
	require.NoError(t, ab.ApplyUpdate(b))
	require.NoError(t, left.ApplyUpdate(ab.EncodeStateAsUpdate()))
	require.NoError(t, left.ApplyUpdate(c))

	right := NewDoc()
	bc := NewDoc()
	require.NoError(t, bc.ApplyUpdate(b))
	require.NoError(t, bc.ApplyUpdate(c))
	require.NoError(t, right.ApplyUpdate(a))
	require.NoError(t, right.ApplyUpdate(bc.EncodeStateAsUpdate()))

	assert.Equal(t, left.EncodeStateAsUpdate(), right.EncodeStateAsUpdate())
}

func TestLocalWriteWinsAfterMerge(t *testing.T) {
	remote := docWith(t, map[string]string{"title": "remote"})
	local := NewDoc()
	require.NoError(t, local.ApplyUpdate(remote.EncodeStateAsUpdate()))

	local.SetText("title", "local")
	assert.Equal(t, "local", local.GetText("title"))

	require.NoError(t, local.ApplyUpdate(remote.EncodeStateAsUpdate()))
	assert.Equal(t, "local", local.GetText("title"))
}

func TestApplyMalformedUpdate(t *testing.T) {
	valid := docWith(t, map[string]string{"title": "Notes"}).EncodeStateAsUpdate()

	cases := map[string][]byte{
		"wrong version":  {9, 0},
		"missing count":  {updateVersion},
		"huge count":     {updateVersion, 0xff, 0xff, 0x03},
		"truncated":      valid[:len(valid)-2],
		"trailing bytes": append(append([]byte{}, valid...), 0x01),
	}
	for name, update := range cases {
		t.Run(name, func(t *testing.T) {
			doc := docWith(t, map[string]string{"title": "kept"})
			err := doc.ApplyUpdate(update)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedUpdate))
			assert.Equal(t, "kept", doc.GetText("title"))
		})
	}
}

func TestDefaultEngine(t *testing.T) {
	var engine Engine = DefaultEngine{}
	doc := engine.NewDocument()
	doc.SetText("title", "x")
	assert.Equal(t, "x", doc.GetText("title"))
}
