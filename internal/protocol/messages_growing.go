package protocol

import "fmt"

// GrowingObject protocol (id 6) message type ids.
const (
	MsgGrowingGet           uint16 = 1
	MsgGetRange             uint16 = 2
	MsgPutPart              uint16 = 5
	MsgDeletePart           uint16 = 6
	MsgDeleteRange          uint16 = 7
	MsgObjectFragment       uint16 = 8
	MsgReplacePartsByRange  uint16 = 9
)

// IndexKind discriminates a range endpoint value.
type IndexKind int

const (
	IndexLong IndexKind = iota
	IndexDouble
	IndexTime
)

// IndexValue is a range endpoint: a long, double, or timestamp, annotated
// with unit of measure and depth datum, all preserved on the wire.
type IndexValue struct {
	Kind       IndexKind
	Long       int64
	Double     float64
	Time       int64 // epoch millis
	Uom        string
	DepthDatum string
}

// indexValueSchema defines the tagged union for the endpoint item. Named
// records referenced more than once in a schema use the name alone.
const indexValueSchema = `{
  "type": "record",
  "name": "IndexValue",
  "fields": [
    {"name": "item", "type": ["long", "double", {"type": "record", "name": "Timestamp", "fields": [
      {"name": "time", "type": "long"}
    ]}]},
    {"name": "uom", "type": "string"},
    {"name": "depthDatum", "type": "string"}
  ]
}`

func (v IndexValue) native() map[string]any {
	var item map[string]any
	switch v.Kind {
	case IndexDouble:
		item = map[string]any{"double": v.Double}
	case IndexTime:
		item = map[string]any{"Timestamp": map[string]any{"time": v.Time}}
	default:
		item = map[string]any{"long": v.Long}
	}
	return map[string]any{"item": item, "uom": v.Uom, "depthDatum": v.DepthDatum}
}

func indexFromNative(m map[string]any) (IndexValue, error) {
	v := IndexValue{Uom: nstr(m, "uom"), DepthDatum: nstr(m, "depthDatum")}
	item := nmap(m, "item")
	if item == nil {
		return v, fmt.Errorf("index value missing item")
	}
	for key, raw := range item {
		switch key {
		case "long":
			v.Kind = IndexLong
			v.Long, _ = raw.(int64)
		case "double":
			v.Kind = IndexDouble
			v.Double, _ = raw.(float64)
		case "Timestamp":
			v.Kind = IndexTime
			if tm, ok := raw.(map[string]any); ok {
				v.Time = ni64(tm, "time")
			}
		default:
			return v, fmt.Errorf("index value: unknown union branch %q", key)
		}
	}
	return v, nil
}

const growingGetSchema = `{
  "type": "record",
  "name": "GrowingObjectGet",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "startIndex", "type": ["null", ` + indexValueSchema + `]}
  ]
}`

const getRangeSchema = `{
  "type": "record",
  "name": "GetRange",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "startIndex", "type": ` + indexValueSchema + `},
    {"name": "endIndex", "type": "IndexValue"}
  ]
}`

const putPartSchema = `{
  "type": "record",
  "name": "PutPart",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "uid", "type": "string"},
    {"name": "contentType", "type": "string"},
    {"name": "data", "type": "bytes"}
  ]
}`

const deletePartSchema = `{
  "type": "record",
  "name": "DeletePart",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "uid", "type": "string"}
  ]
}`

const deleteRangeSchema = `{
  "type": "record",
  "name": "DeleteRange",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "startIndex", "type": ` + indexValueSchema + `},
    {"name": "endIndex", "type": "IndexValue"}
  ]
}`

const objectFragmentSchema = `{
  "type": "record",
  "name": "ObjectFragment",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "uid", "type": "string"},
    {"name": "contentType", "type": "string"},
    {"name": "data", "type": "bytes"}
  ]
}`

const replacePartsByRangeSchema = `{
  "type": "record",
  "name": "ReplacePartsByRange",
  "fields": [
    {"name": "uri", "type": "string"},
    {"name": "startIndex", "type": ` + indexValueSchema + `},
    {"name": "endIndex", "type": "IndexValue"},
    {"name": "parts", "type": {"type": "array", "items": {"type": "record", "name": "PartRecord", "fields": [
      {"name": "uid", "type": "string"},
      {"name": "contentType", "type": "string"},
      {"name": "data", "type": "bytes"}
    ]}}}
  ]
}`

type GrowingObjectGet struct {
	URI        string
	StartIndex *IndexValue
}

func (r *GrowingObjectGet) Native() map[string]any {
	m := map[string]any{"uri": r.URI}
	if r.StartIndex != nil {
		m["startIndex"] = map[string]any{"IndexValue": r.StartIndex.native()}
	} else {
		m["startIndex"] = nil
	}
	return m
}

func (r *GrowingObjectGet) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	r.StartIndex = nil
	if u := nmap(m, "startIndex"); u != nil {
		if iv := nmap(u, "IndexValue"); iv != nil {
			v, err := indexFromNative(iv)
			if err != nil {
				return err
			}
			r.StartIndex = &v
		}
	}
	return nil
}

type GetRange struct {
	URI        string
	StartIndex IndexValue
	EndIndex   IndexValue
}

func (r *GetRange) Native() map[string]any {
	return map[string]any{
		"uri":        r.URI,
		"startIndex": r.StartIndex.native(),
		"endIndex":   r.EndIndex.native(),
	}
}

func (r *GetRange) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	var err error
	if r.StartIndex, err = indexFromNative(nmap(m, "startIndex")); err != nil {
		return err
	}
	r.EndIndex, err = indexFromNative(nmap(m, "endIndex"))
	return err
}

// Part is one list element of a growing object.
type Part struct {
	UID         string
	ContentType string
	Data        []byte
}

func (p Part) native() map[string]any {
	return map[string]any{"uid": p.UID, "contentType": p.ContentType, "data": byteseq(p.Data)}
}

func partFromNative(m map[string]any) Part {
	return Part{UID: nstr(m, "uid"), ContentType: nstr(m, "contentType"), Data: nbytes(m, "data")}
}

type PutPart struct {
	URI  string
	Part Part
}

func (r *PutPart) Native() map[string]any {
	m := r.Part.native()
	m["uri"] = r.URI
	return m
}

func (r *PutPart) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	r.Part = partFromNative(m)
	return nil
}

type DeletePart struct {
	URI string
	UID string
}

func (r *DeletePart) Native() map[string]any {
	return map[string]any{"uri": r.URI, "uid": r.UID}
}

func (r *DeletePart) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	r.UID = nstr(m, "uid")
	return nil
}

type DeleteRange struct {
	URI        string
	StartIndex IndexValue
	EndIndex   IndexValue
}

func (r *DeleteRange) Native() map[string]any {
	return map[string]any{
		"uri":        r.URI,
		"startIndex": r.StartIndex.native(),
		"endIndex":   r.EndIndex.native(),
	}
}

func (r *DeleteRange) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	var err error
	if r.StartIndex, err = indexFromNative(nmap(m, "startIndex")); err != nil {
		return err
	}
	r.EndIndex, err = indexFromNative(nmap(m, "endIndex"))
	return err
}

type ObjectFragment struct {
	URI  string
	Part Part
}

func (r *ObjectFragment) Native() map[string]any {
	m := r.Part.native()
	m["uri"] = r.URI
	return m
}

func (r *ObjectFragment) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	r.Part = partFromNative(m)
	return nil
}

// ReplacePartsByRange is v1.2 only: delete the range, then insert parts.
type ReplacePartsByRange struct {
	URI        string
	StartIndex IndexValue
	EndIndex   IndexValue
	Parts      []Part
}

func (r *ReplacePartsByRange) Native() map[string]any {
	parts := make([]any, 0, len(r.Parts))
	for _, p := range r.Parts {
		parts = append(parts, p.native())
	}
	return map[string]any{
		"uri":        r.URI,
		"startIndex": r.StartIndex.native(),
		"endIndex":   r.EndIndex.native(),
		"parts":      parts,
	}
}

func (r *ReplacePartsByRange) FromNative(m map[string]any) error {
	r.URI = nstr(m, "uri")
	var err error
	if r.StartIndex, err = indexFromNative(nmap(m, "startIndex")); err != nil {
		return err
	}
	if r.EndIndex, err = indexFromNative(nmap(m, "endIndex")); err != nil {
		return err
	}
	r.Parts = r.Parts[:0]
	for _, it := range nslice(m, "parts") {
		if pm, ok := it.(map[string]any); ok {
			r.Parts = append(r.Parts, partFromNative(pm))
		}
	}
	return nil
}
