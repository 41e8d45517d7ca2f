package protocol

// Record is a typed message body selected by (protocol, messageType).
// Native and FromNative bridge to the Avro codec's generic representation.
type Record interface {
	Native() map[string]any
	FromNative(m map[string]any) error
}

// native accessors tolerate the integer widths goavro hands back.

func nstr(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func ni32(m map[string]any, k string) int32 {
	switch v := m[k].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func ni64(m map[string]any, k string) int64 {
	switch v := m[k].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func nf64(m map[string]any, k string) float64 {
	switch v := m[k].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}

func nbytes(m map[string]any, k string) []byte {
	b, _ := m[k].([]byte)
	return b
}

func nmap(m map[string]any, k string) map[string]any {
	mm, _ := m[k].(map[string]any)
	return mm
}

func nslice(m map[string]any, k string) []any {
	s, _ := m[k].([]any)
	return s
}
