package protocol

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// Direction hints how a message type participates in an exchange.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
	DirNotification
	DirBidirectional
)

// Entry binds one (protocol, messageType) to its body schema and direction.
type Entry struct {
	Protocol    ID
	MessageType uint16
	Direction   Direction
	// Multipart marks responses that are inherently multipart on this wire
	// version.
	Multipart bool

	codec     *goavro.Codec
	newRecord func() Record
}

// Declare parses the schema once and yields a catalog entry. Schema errors
// are programming errors and panic at build time.
func Declare(p ID, mt uint16, dir Direction, schema string, fn func() Record) *Entry {
	c, err := goavro.NewCodec(schema)
	if err != nil {
		panic(fmt.Sprintf("catalog: %s message %d: %v", p, mt, err))
	}
	return &Entry{Protocol: p, MessageType: mt, Direction: dir, codec: c, newRecord: fn}
}

// AsMultipart marks the entry's response as inherently multipart.
func (e *Entry) AsMultipart() *Entry {
	e.Multipart = true
	return e
}

// New returns a fresh zero record for this entry.
func (e *Entry) New() Record { return e.newRecord() }

// EncodeBinary appends the Avro-binary body to buf.
func (e *Entry) EncodeBinary(buf []byte, r Record) ([]byte, error) {
	return e.codec.BinaryFromNative(buf, r.Native())
}

// DecodeBinary decodes the body from data, returning any trailing bytes.
func (e *Entry) DecodeBinary(data []byte) (Record, []byte, error) {
	native, rest, err := e.codec.NativeFromBinary(data)
	if err != nil {
		return nil, nil, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("body: unexpected native %T", native)
	}
	rec := e.newRecord()
	if err := rec.FromNative(m); err != nil {
		return nil, nil, err
	}
	return rec, rest, nil
}

// EncodeJSON renders the Avro-JSON body element.
func (e *Entry) EncodeJSON(r Record) ([]byte, error) {
	return e.codec.TextualFromNative(nil, r.Native())
}

// DecodeJSON parses one Avro-JSON body element.
func (e *Entry) DecodeJSON(data []byte) (Record, error) {
	native, _, err := e.codec.NativeFromTextual(data)
	if err != nil {
		return nil, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("body: unexpected native %T", native)
	}
	rec := e.newRecord()
	if err := rec.FromNative(m); err != nil {
		return nil, err
	}
	return rec, nil
}

// Catalog is the closed (protocol, messageType) → entry table for one wire
// version. Built once, read-only afterwards.
type Catalog struct {
	version   Version
	entries   map[uint32]*Entry
	protocols map[ID]bool
}

func catalogKey(p ID, mt uint16) uint32 { return uint32(p)<<16 | uint32(mt) }

func NewCatalog(v Version, entries ...*Entry) *Catalog {
	c := &Catalog{
		version:   v,
		entries:   make(map[uint32]*Entry, len(entries)),
		protocols: make(map[ID]bool),
	}
	for _, e := range entries {
		k := catalogKey(e.Protocol, e.MessageType)
		if _, dup := c.entries[k]; dup {
			panic(fmt.Sprintf("catalog %s: duplicate entry %s/%d", v, e.Protocol, e.MessageType))
		}
		c.entries[k] = e
		c.protocols[e.Protocol] = true
	}
	return c
}

func (c *Catalog) Version() Version { return c.version }

// Lookup resolves the entry for a header. ProtocolException and Acknowledge
// are declared once under Core but travel on every protocol id.
func (c *Catalog) Lookup(p ID, mt uint16) (*Entry, bool) {
	if e, ok := c.entries[catalogKey(p, mt)]; ok {
		return e, true
	}
	if mt == MsgProtocolException || mt == MsgAcknowledge {
		e, ok := c.entries[catalogKey(ProtocolCore, mt)]
		return e, ok
	}
	return nil, false
}

func (c *Catalog) HasProtocol(p ID) bool { return c.protocols[p] }

// All returns every entry, for catalog self-checks.
func (c *Catalog) All() []*Entry {
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
