package codec

import (
	"encoding/json"
	"fmt"

	"github.com/hongjun500/etp-go/internal/protocol"
)

// JSONCodec frames a message as a text frame holding a JSON array of
// exactly two elements: the Avro-JSON header and the Avro-JSON body.
type JSONCodec struct {
	catalog  *protocol.Catalog
	maxFrame int
}

func NewJSON(cat *protocol.Catalog, maxFrame int) *JSONCodec {
	return &JSONCodec{catalog: cat, maxFrame: maxFrame}
}

func (c *JSONCodec) Name() string       { return "avro-json" }
func (c *JSONCodec) BinaryFrames() bool { return false }

func (c *JSONCodec) Encode(h *protocol.MessageHeader, body protocol.Record) ([]byte, error) {
	entry, err := lookup(c.catalog, h)
	if err != nil {
		return nil, err
	}
	hj, err := protocol.EncodeHeaderJSON(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	bj, err := entry.EncodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("encode body %s/%d: %w", h.Protocol, h.MessageType, err)
	}
	frame := make([]byte, 0, len(hj)+len(bj)+3)
	frame = append(frame, '[')
	frame = append(frame, hj...)
	frame = append(frame, ',')
	frame = append(frame, bj...)
	frame = append(frame, ']')
	if err := checkFrameSize(len(frame), c.maxFrame); err != nil {
		return nil, err
	}
	return frame, nil
}

// DecodeHeader splits the outer array and decodes element zero. The raw
// body element is handed back so DecodeBody runs only after the header has
// been inspected.
func (c *JSONCodec) DecodeHeader(frame []byte) (*protocol.MessageHeader, []byte, error) {
	if err := checkFrameSize(len(frame), c.maxFrame); err != nil {
		return nil, nil, err
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("frame array has %d elements, want 2", len(parts))
	}
	h, err := protocol.DecodeHeaderJSON(parts[0])
	if err != nil {
		return nil, nil, err
	}
	return h, parts[1], nil
}

func (c *JSONCodec) DecodeBody(h *protocol.MessageHeader, rest []byte) (protocol.Record, error) {
	entry, err := lookup(c.catalog, h)
	if err != nil {
		return nil, err
	}
	rec, err := entry.DecodeJSON(rest)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidArgument,
			fmt.Sprintf("malformed %s/%d body: %v", h.Protocol, h.MessageType, err), h.MessageID)
	}
	return rec, nil
}
