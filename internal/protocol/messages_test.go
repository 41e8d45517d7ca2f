package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderBinaryRoundTrip(t *testing.T) {
	h := &MessageHeader{
		Protocol:      ProtocolStore,
		MessageType:   MsgGetObject,
		MessageID:     42,
		CorrelationID: 7,
		MessageFlags:  FlagMultiPartAndFinalPart,
	}
	buf, err := EncodeHeaderBinary(nil, h)
	require.NoError(t, err)

	// Trailing bytes are the body; the self-delimiting header must hand
	// them back untouched.
	tail := []byte{0xde, 0xad}
	got, rest, err := DecodeHeaderBinary(append(buf, tail...))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, tail, rest)
}

func TestHeaderFlagPredicates(t *testing.T) {
	tests := []struct {
		name      string
		flags     MessageFlags
		multi     bool
		final     bool
	}{
		{"none", 0, false, false},
		{"multi", FlagMultiPart, true, false},
		{"final", FlagFinalPart, false, true},
		{"both", FlagMultiPartAndFinalPart, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &MessageHeader{MessageFlags: tt.flags}
			assert.Equal(t, tt.multi, h.IsMultiPart())
			assert.Equal(t, tt.final, h.IsFinalPart())
		})
	}
}

func roundTripBinary(t *testing.T, cat *Catalog, p ID, mt uint16, rec Record) Record {
	t.Helper()
	e, ok := cat.Lookup(p, mt)
	require.True(t, ok)
	buf, err := e.EncodeBinary(nil, rec)
	require.NoError(t, err)
	got, rest, err := e.DecodeBinary(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	return got
}

func roundTripJSON(t *testing.T, cat *Catalog, p ID, mt uint16, rec Record) Record {
	t.Helper()
	e, ok := cat.Lookup(p, mt)
	require.True(t, ok)
	buf, err := e.EncodeJSON(rec)
	require.NoError(t, err)
	got, err := e.DecodeJSON(buf)
	require.NoError(t, err)
	return got
}

func TestRequestSessionRoundTrip(t *testing.T) {
	rec := &RequestSession{
		ApplicationName:    "etp-go",
		ApplicationVersion: "0.1.0",
		RequestedProtocols: []SupportedProtocol{
			{Protocol: ProtocolStore, Version: V11, Role: RoleCustomer,
				Capabilities: map[string]int64{CapMaxResponseCount: 100}},
			{Protocol: ProtocolGrowingObject, Version: V11, Role: RoleCustomer},
		},
	}
	got := roundTripBinary(t, CatalogV11(), ProtocolCore, MsgRequestSession, rec)
	assert.Equal(t, rec, got)

	got = roundTripJSON(t, CatalogV11(), ProtocolCore, MsgRequestSession, rec)
	assert.Equal(t, rec, got)
}

func TestIndexValueUnionRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value IndexValue
	}{
		{"long", IndexValue{Kind: IndexLong, Long: 1500, Uom: "m", DepthDatum: "KB"}},
		{"double", IndexValue{Kind: IndexDouble, Double: 1500.25, Uom: "ft", DepthDatum: "DF"}},
		{"time", IndexValue{Kind: IndexTime, Time: 1700000000000, Uom: "ms", DepthDatum: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &GetRange{URI: "eml://well/1/log", StartIndex: tt.value, EndIndex: tt.value}
			got := roundTripBinary(t, CatalogV11(), ProtocolGrowingObject, MsgGetRange, rec)
			// uom and depth datum annotations must survive the wire
			assert.Equal(t, rec, got)

			got = roundTripJSON(t, CatalogV11(), ProtocolGrowingObject, MsgGetRange, rec)
			assert.Equal(t, rec, got)
		})
	}
}

func TestGrowingGetOptionalStart(t *testing.T) {
	with := &GrowingObjectGet{
		URI:        "eml://well/1/log",
		StartIndex: &IndexValue{Kind: IndexLong, Long: 10, Uom: "m"},
	}
	got := roundTripBinary(t, CatalogV11(), ProtocolGrowingObject, MsgGrowingGet, with)
	assert.Equal(t, with, got)

	without := &GrowingObjectGet{URI: "eml://well/1/log"}
	got = roundTripBinary(t, CatalogV11(), ProtocolGrowingObject, MsgGrowingGet, without)
	assert.Equal(t, without, got)
}

func TestReplacePartsByRangeRoundTrip(t *testing.T) {
	rec := &ReplacePartsByRange{
		URI:        "eml://well/1/log",
		StartIndex: IndexValue{Kind: IndexLong, Long: 0, Uom: "m"},
		EndIndex:   IndexValue{Kind: IndexLong, Long: 100, Uom: "m"},
		Parts: []Part{
			{UID: "p1", ContentType: "application/x-witsml", Data: []byte("one")},
			{UID: "p2", ContentType: "application/x-witsml", Data: []byte("two")},
		},
	}
	got := roundTripBinary(t, CatalogV12(), ProtocolGrowingObject, MsgReplacePartsByRange, rec)
	assert.Equal(t, rec, got)
}

func TestProtocolExceptionVersions(t *testing.T) {
	rec := &ProtocolException{
		Code:    CodeInvalidURI,
		Message: "bad uri",
		Errors: map[string]ErrorInfo{
			"1": {Code: CodeInvalidArgument, Message: "sub"},
		},
	}

	// v1.1 has no per-request error collection; the codec drops it.
	got := roundTripBinary(t, CatalogV11(), ProtocolCore, MsgProtocolException, rec).(*ProtocolException)
	assert.Equal(t, rec.Code, got.Code)
	assert.Equal(t, rec.Message, got.Message)
	assert.Nil(t, got.Errors)

	// v1.2 carries it.
	got = roundTripBinary(t, CatalogV12(), ProtocolCore, MsgProtocolException, rec).(*ProtocolException)
	assert.Equal(t, rec.Errors, got.Errors)
}

func TestSupportedProtocolDedup(t *testing.T) {
	list := []SupportedProtocol{
		{Protocol: ProtocolStore, Version: V11, Role: RoleCustomer},
		{Protocol: ProtocolStore, Version: V12, Role: RoleCustomer}, // same (protocol, role)
		{Protocol: ProtocolStore, Version: V11, Role: RoleStore},
	}
	out := Dedup(list)
	require.Len(t, out, 2)
	assert.Equal(t, V11, out[0].Version, "first occurrence wins")
}

func TestErrorCodeStrings(t *testing.T) {
	assert.Equal(t, "UnsupportedProtocol", CodeUnsupportedProtocol.String())
	assert.Equal(t, "Timeout", CodeTimeout.String())
	assert.Contains(t, NewError(CodeInvalidState, "boom", 3).Error(), "correlation 3")
}
