package codec

import (
	"fmt"

	"github.com/hongjun500/etp-go/internal/protocol"
)

// BinaryCodec frames a message as the Avro-binary header immediately
// followed by the Avro-binary body. There is no length prefix between the
// two: the header schema is self-delimiting.
type BinaryCodec struct {
	catalog  *protocol.Catalog
	maxFrame int
}

func NewBinary(cat *protocol.Catalog, maxFrame int) *BinaryCodec {
	return &BinaryCodec{catalog: cat, maxFrame: maxFrame}
}

func (c *BinaryCodec) Name() string       { return "avro-binary" }
func (c *BinaryCodec) BinaryFrames() bool { return true }

func (c *BinaryCodec) Encode(h *protocol.MessageHeader, body protocol.Record) ([]byte, error) {
	entry, err := c.lookup(h)
	if err != nil {
		return nil, err
	}
	buf, err := protocol.EncodeHeaderBinary(nil, h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	buf, err = entry.EncodeBinary(buf, body)
	if err != nil {
		return nil, fmt.Errorf("encode body %s/%d: %w", h.Protocol, h.MessageType, err)
	}
	if err := checkFrameSize(len(buf), c.maxFrame); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *BinaryCodec) DecodeHeader(frame []byte) (*protocol.MessageHeader, []byte, error) {
	if err := checkFrameSize(len(frame), c.maxFrame); err != nil {
		return nil, nil, err
	}
	return protocol.DecodeHeaderBinary(frame)
}

func (c *BinaryCodec) DecodeBody(h *protocol.MessageHeader, rest []byte) (protocol.Record, error) {
	entry, err := c.lookup(h)
	if err != nil {
		return nil, err
	}
	rec, trailing, err := entry.DecodeBinary(rest)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidArgument,
			fmt.Sprintf("malformed %s/%d body: %v", h.Protocol, h.MessageType, err), h.MessageID)
	}
	if len(trailing) > 0 {
		return nil, protocol.NewError(protocol.CodeInvalidArgument,
			fmt.Sprintf("%d trailing bytes after %s/%d body", len(trailing), h.Protocol, h.MessageType), h.MessageID)
	}
	return rec, nil
}
