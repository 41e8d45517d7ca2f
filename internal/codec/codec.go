package codec

import (
	"fmt"

	"github.com/hongjun500/etp-go/internal/protocol"
)

// Encoding values carried in the handshake header.
const (
	EncodingBinary = "etp+binary"
	EncodingJSON   = "etp+json"
)

// Codec turns (header, body) pairs into single transport frames and back.
// Decoding is two-phase: the header must be inspected before the body schema
// can be picked from the catalog.
type Codec interface {
	Name() string
	// BinaryFrames reports which WebSocket frame type this codec rides on.
	BinaryFrames() bool
	Encode(h *protocol.MessageHeader, body protocol.Record) ([]byte, error)
	// DecodeHeader returns the header and the still-encoded body remainder.
	DecodeHeader(frame []byte) (*protocol.MessageHeader, []byte, error)
	DecodeBody(h *protocol.MessageHeader, rest []byte) (protocol.Record, error)
}

// ForEncoding selects the codec for a handshake encoding value. An empty
// value falls back to binary, the protocol default.
func ForEncoding(encoding string, cat *protocol.Catalog, maxFrame int) (Codec, error) {
	switch encoding {
	case "", EncodingBinary:
		return &BinaryCodec{catalog: cat, maxFrame: maxFrame}, nil
	case EncodingJSON:
		return &JSONCodec{catalog: cat, maxFrame: maxFrame}, nil
	default:
		return nil, fmt.Errorf("unknown etp encoding %q", encoding)
	}
}

func (c *BinaryCodec) lookup(h *protocol.MessageHeader) (*protocol.Entry, error) {
	return lookup(c.catalog, h)
}

func lookup(cat *protocol.Catalog, h *protocol.MessageHeader) (*protocol.Entry, error) {
	entry, ok := cat.Lookup(h.Protocol, h.MessageType)
	if !ok {
		if !cat.HasProtocol(h.Protocol) {
			return nil, protocol.NewError(protocol.CodeUnsupportedProtocol,
				fmt.Sprintf("unknown protocol %d", uint16(h.Protocol)), h.MessageID)
		}
		return nil, protocol.NewError(protocol.CodeInvalidMessageType,
			fmt.Sprintf("unknown message type %d on %s", h.MessageType, h.Protocol), h.MessageID)
	}
	return entry, nil
}

func checkFrameSize(n, maxFrame int) error {
	if maxFrame > 0 && n > maxFrame {
		return protocol.NewError(protocol.CodeInvalidArgument,
			fmt.Sprintf("frame of %d bytes exceeds limit %d", n, maxFrame), 0)
	}
	return nil
}
