package protocol

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// MessageFlags is the header bitfield.
type MessageFlags int32

const (
	FlagMultiPart MessageFlags = 0x1
	FlagFinalPart MessageFlags = 0x2
	FlagNoData    MessageFlags = 0x4
	FlagCompressed MessageFlags = 0x8

	FlagMultiPartAndFinalPart = FlagMultiPart | FlagFinalPart
)

// MessageHeader is the uniform envelope carried before every message body.
type MessageHeader struct {
	Protocol      ID
	MessageType   uint16
	MessageID     int64
	CorrelationID int64
	MessageFlags  MessageFlags
}

const headerSchema = `{
  "type": "record",
  "name": "MessageHeader",
  "fields": [
    {"name": "protocol", "type": "int"},
    {"name": "messageType", "type": "int"},
    {"name": "messageId", "type": "long"},
    {"name": "correlationId", "type": "long"},
    {"name": "messageFlags", "type": "int"}
  ]
}`

var headerCodec = mustCodec(headerSchema)

func mustCodec(schema string) *goavro.Codec {
	c, err := goavro.NewCodec(schema)
	if err != nil {
		panic(fmt.Sprintf("protocol: bad schema: %v", err))
	}
	return c
}

func (h *MessageHeader) IsMultiPart() bool { return h.MessageFlags&FlagMultiPart != 0 }
func (h *MessageHeader) IsFinalPart() bool { return h.MessageFlags&FlagFinalPart != 0 }

// IsRequest reports whether the message initiates an exchange.
func (h *MessageHeader) IsRequest() bool { return h.CorrelationID == 0 }

func (h *MessageHeader) native() map[string]any {
	return map[string]any{
		"protocol":      int32(h.Protocol),
		"messageType":   int32(h.MessageType),
		"messageId":     h.MessageID,
		"correlationId": h.CorrelationID,
		"messageFlags":  int32(h.MessageFlags),
	}
}

func headerFromNative(m map[string]any) *MessageHeader {
	return &MessageHeader{
		Protocol:      ID(ni32(m, "protocol")),
		MessageType:   uint16(ni32(m, "messageType")),
		MessageID:     ni64(m, "messageId"),
		CorrelationID: ni64(m, "correlationId"),
		MessageFlags:  MessageFlags(ni32(m, "messageFlags")),
	}
}

// EncodeHeaderBinary appends the Avro-binary header to buf.
func EncodeHeaderBinary(buf []byte, h *MessageHeader) ([]byte, error) {
	return headerCodec.BinaryFromNative(buf, h.native())
}

// DecodeHeaderBinary reads the header from the front of frame and returns the
// unconsumed remainder, which is the body encoding.
func DecodeHeaderBinary(frame []byte) (*MessageHeader, []byte, error) {
	native, rest, err := headerCodec.NativeFromBinary(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("decode header: unexpected native %T", native)
	}
	return headerFromNative(m), rest, nil
}

// EncodeHeaderJSON renders the Avro-JSON encoding of the header.
func EncodeHeaderJSON(h *MessageHeader) ([]byte, error) {
	return headerCodec.TextualFromNative(nil, h.native())
}

// DecodeHeaderJSON parses one Avro-JSON header element.
func DecodeHeaderJSON(data []byte) (*MessageHeader, error) {
	native, _, err := headerCodec.NativeFromTextual(data)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode header: unexpected native %T", native)
	}
	return headerFromNative(m), nil
}
