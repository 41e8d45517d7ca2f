package protocol

import "fmt"

// ErrorCode is the closed set of wire-visible ProtocolException codes.
type ErrorCode int32

const (
	CodeInvalidMessageType  ErrorCode = 3
	CodeUnsupportedProtocol ErrorCode = 4
	CodeInvalidArgument     ErrorCode = 5
	CodePermissionDenied    ErrorCode = 6
	CodeNotSupported        ErrorCode = 7
	CodeInvalidState        ErrorCode = 8
	CodeInvalidURI          ErrorCode = 9
	CodeExpired             ErrorCode = 10
	CodeTimeout             ErrorCode = 11
	CodeRequestDenied       ErrorCode = 12
)

func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidMessageType:
		return "InvalidMessageType"
	case CodeUnsupportedProtocol:
		return "UnsupportedProtocol"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeNotSupported:
		return "NotSupported"
	case CodeInvalidState:
		return "InvalidState"
	case CodeInvalidURI:
		return "InvalidUri"
	case CodeExpired:
		return "Expired"
	case CodeTimeout:
		return "Timeout"
	case CodeRequestDenied:
		return "RequestDenied"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
}

// Error is a protocol-level failure. It travels on the wire as a
// ProtocolException body and locally as a plain error value.
type Error struct {
	Code        ErrorCode
	Message     string
	Correlation int64
}

func (e *Error) Error() string {
	if e.Correlation != 0 {
		return fmt.Sprintf("etp error %d (%s): %s (correlation %d)", int32(e.Code), e.Code, e.Message, e.Correlation)
	}
	return fmt.Sprintf("etp error %d (%s): %s", int32(e.Code), e.Code, e.Message)
}

func NewError(code ErrorCode, message string, correlation int64) *Error {
	return &Error{Code: code, Message: message, Correlation: correlation}
}
