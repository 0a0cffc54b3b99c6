package crdt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

const updateVersion byte = 1

type entry struct {
	clock  uint64
	client uint64
	value  string
}

// newerThan orders entries by clock, then client id, then value so that every
// replica picks the same winner.
func (e entry) newerThan(other entry) bool {
	if e.clock != other.clock {
		return e.clock > other.clock
	}
	if e.client != other.client {
		return e.client > other.client
	}
	return e.value > other.value
}

// Doc keeps every field as a last-writer-wins text register.
type Doc struct {
	mu     sync.RWMutex
	client uint64
	fields map[string]entry
}

func NewDoc() *Doc {
	return &Doc{
		client: newClientID(),
		fields: make(map[string]entry),
	}
}

func newClientID() uint64 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(uint32(time.Now().UnixNano()))
	}
	return uint64(binary.BigEndian.Uint32(buf[:]))
}

func (d *Doc) GetText(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fields[name].value
}

// SetText records a local write that wins over everything the document has seen.
func (d *Doc) SetText(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var clock uint64
	for _, e := range d.fields {
		if e.clock > clock {
			clock = e.clock
		}
	}
	d.fields[name] = entry{clock: clock + 1, client: d.client, value: value}
}

// Fields returns the field names in sorted order.
func (d *Doc) Fields() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyUpdate decodes the whole update before touching the document, so a
// malformed update leaves the document unchanged.
func (d *Doc) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	incoming, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, e := range incoming {
		if current, ok := d.fields[name]; !ok || e.newerThan(current) {
			d.fields[name] = e
		}
	}
	return nil
}

func (d *Doc) EncodeStateAsUpdate() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []byte{updateVersion}
	out = binary.AppendUvarint(out, uint64(len(names)))
	for _, name := range names {
		e := d.fields[name]
		out = appendString(out, name)
		out = binary.AppendUvarint(out, e.clock)
		out = binary.AppendUvarint(out, e.client)
		out = appendString(out, e.value)
	}
	return out
}

func appendString(out []byte, value string) []byte {
	out = binary.AppendUvarint(out, uint64(len(value)))
	return append(out, value...)
}

func decodeUpdate(update []byte) (map[string]entry, error) {
	r := bytes.NewReader(update)
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if version != updateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedUpdate, version)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read entry count: %v", ErrMalformedUpdate, err)
	}
	// every entry takes at least four bytes
	if count > uint64(r.Len())/4 {
		return nil, fmt.Errorf("%w: entry count %d exceeds payload", ErrMalformedUpdate, count)
	}

	entries := make(map[string]entry, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d name: %v", ErrMalformedUpdate, i, err)
		}
		clock, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d clock: %v", ErrMalformedUpdate, i, err)
		}
		client, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d client: %v", ErrMalformedUpdate, i, err)
		}
		value, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d value: %v", ErrMalformedUpdate, i, err)
		}
		e := entry{clock: clock, client: client, value: value}
		if current, ok := entries[name]; !ok || e.newerThan(current) {
			entries[name] = e
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, r.Len())
	}
	return entries, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
