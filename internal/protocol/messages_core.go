package protocol

// Core protocol (id 0) message type ids.
const (
	MsgRequestSession    uint16 = 1
	MsgOpenSession       uint16 = 2
	MsgCloseSession      uint16 = 5
	MsgProtocolException uint16 = 1000
	MsgAcknowledge       uint16 = 1001
)

const supportedProtocolSchema = `{
  "type": "record",
  "name": "SupportedProtocol",
  "fields": [
    {"name": "protocol", "type": "int"},
    {"name": "version", "type": {"type": "record", "name": "Version", "fields": [
      {"name": "major", "type": "int"},
      {"name": "minor", "type": "int"}
    ]}},
    {"name": "role", "type": "string"},
    {"name": "capabilities", "type": {"type": "map", "values": "long"}}
  ]
}`

const requestSessionSchema = `{
  "type": "record",
  "name": "RequestSession",
  "fields": [
    {"name": "applicationName", "type": "string"},
    {"name": "applicationVersion", "type": "string"},
    {"name": "requestedProtocols", "type": {"type": "array", "items": ` + supportedProtocolSchema + `}}
  ]
}`

const openSessionSchema = `{
  "type": "record",
  "name": "OpenSession",
  "fields": [
    {"name": "sessionId", "type": "string"},
    {"name": "supportedProtocols", "type": {"type": "array", "items": ` + supportedProtocolSchema + `}}
  ]
}`

const closeSessionSchema = `{
  "type": "record",
  "name": "CloseSession",
  "fields": [
    {"name": "reason", "type": "string"}
  ]
}`

const protocolExceptionSchema = `{
  "type": "record",
  "name": "ProtocolException",
  "fields": [
    {"name": "errorCode", "type": "int"},
    {"name": "errorMessage", "type": "string"}
  ]
}`

// v1.2 adds a per-request error collection keyed by sub-id.
const protocolExceptionSchema12 = `{
  "type": "record",
  "name": "ProtocolException",
  "fields": [
    {"name": "errorCode", "type": "int"},
    {"name": "errorMessage", "type": "string"},
    {"name": "errors", "type": {"type": "map", "values": {"type": "record", "name": "ErrorInfo", "fields": [
      {"name": "errorCode", "type": "int"},
      {"name": "errorMessage", "type": "string"}
    ]}}}
  ]
}`

const acknowledgeSchema = `{
  "type": "record",
  "name": "Acknowledge",
  "fields": []
}`

type RequestSession struct {
	ApplicationName    string
	ApplicationVersion string
	RequestedProtocols []SupportedProtocol
}

func (r *RequestSession) Native() map[string]any {
	return map[string]any{
		"applicationName":    r.ApplicationName,
		"applicationVersion": r.ApplicationVersion,
		"requestedProtocols": supportedListNative(r.RequestedProtocols),
	}
}

func (r *RequestSession) FromNative(m map[string]any) error {
	r.ApplicationName = nstr(m, "applicationName")
	r.ApplicationVersion = nstr(m, "applicationVersion")
	r.RequestedProtocols = supportedListFromNative(m["requestedProtocols"])
	return nil
}

type OpenSession struct {
	SessionID          string
	SupportedProtocols []SupportedProtocol
}

func (r *OpenSession) Native() map[string]any {
	return map[string]any{
		"sessionId":          r.SessionID,
		"supportedProtocols": supportedListNative(r.SupportedProtocols),
	}
}

func (r *OpenSession) FromNative(m map[string]any) error {
	r.SessionID = nstr(m, "sessionId")
	r.SupportedProtocols = supportedListFromNative(m["supportedProtocols"])
	return nil
}

type CloseSession struct {
	Reason string
}

func (r *CloseSession) Native() map[string]any {
	return map[string]any{"reason": r.Reason}
}

func (r *CloseSession) FromNative(m map[string]any) error {
	r.Reason = nstr(m, "reason")
	return nil
}

// ErrorInfo is one entry of the v1.2 per-request error collection.
type ErrorInfo struct {
	Code    ErrorCode
	Message string
}

type ProtocolException struct {
	Code    ErrorCode
	Message string
	// Errors is only carried on the v1.2 wire; the v1.1 schema has no field
	// for it and the codec drops the key.
	Errors map[string]ErrorInfo
}

func (r *ProtocolException) Native() map[string]any {
	errs := make(map[string]any, len(r.Errors))
	for k, e := range r.Errors {
		errs[k] = map[string]any{
			"errorCode":    int32(e.Code),
			"errorMessage": e.Message,
		}
	}
	return map[string]any{
		"errorCode":    int32(r.Code),
		"errorMessage": r.Message,
		"errors":       errs,
	}
}

func (r *ProtocolException) FromNative(m map[string]any) error {
	r.Code = ErrorCode(ni32(m, "errorCode"))
	r.Message = nstr(m, "errorMessage")
	if errs := nmap(m, "errors"); len(errs) > 0 {
		r.Errors = make(map[string]ErrorInfo, len(errs))
		for k, v := range errs {
			if em, ok := v.(map[string]any); ok {
				r.Errors[k] = ErrorInfo{
					Code:    ErrorCode(ni32(em, "errorCode")),
					Message: nstr(em, "errorMessage"),
				}
			}
		}
	}
	return nil
}

// Err converts the exception body to the local error form.
func (r *ProtocolException) Err(correlation int64) *Error {
	return NewError(r.Code, r.Message, correlation)
}

type Acknowledge struct{}

func (r *Acknowledge) Native() map[string]any           { return map[string]any{} }
func (r *Acknowledge) FromNative(m map[string]any) error { return nil }
