package protocol

import "sync"

// Each protocol contributes its entries from one declaration site; the two
// wire versions assemble different pictures from them.

func coreEntries(v Version) []*Entry {
	exceptionSchema := protocolExceptionSchema
	if v == V12 {
		exceptionSchema = protocolExceptionSchema12
	}
	return []*Entry{
		Declare(ProtocolCore, MsgRequestSession, DirRequest, requestSessionSchema, func() Record { return &RequestSession{} }),
		Declare(ProtocolCore, MsgOpenSession, DirResponse, openSessionSchema, func() Record { return &OpenSession{} }),
		Declare(ProtocolCore, MsgCloseSession, DirNotification, closeSessionSchema, func() Record { return &CloseSession{} }),
		Declare(ProtocolCore, MsgProtocolException, DirResponse, exceptionSchema, func() Record { return &ProtocolException{} }),
		Declare(ProtocolCore, MsgAcknowledge, DirResponse, acknowledgeSchema, func() Record { return &Acknowledge{} }),
	}
}

func storeEntries(v Version) []*Entry {
	object := Declare(ProtocolStore, MsgObject, DirResponse, objectSchema, func() Record { return &Object{} })
	if v == V12 {
		// v1.2 GetObject responses are inherently multipart.
		object.AsMultipart()
	}
	return []*Entry{
		Declare(ProtocolStore, MsgGetObject, DirRequest, getObjectSchema, func() Record { return &GetObject{} }),
		Declare(ProtocolStore, MsgPutObject, DirRequest, putObjectSchema, func() Record { return &PutObject{} }),
		Declare(ProtocolStore, MsgDeleteObject, DirRequest, deleteObjectSchema, func() Record { return &DeleteObject{} }),
		object,
	}
}

func growingEntries(v Version) []*Entry {
	entries := []*Entry{
		Declare(ProtocolGrowingObject, MsgGrowingGet, DirRequest, growingGetSchema, func() Record { return &GrowingObjectGet{} }),
		Declare(ProtocolGrowingObject, MsgGetRange, DirRequest, getRangeSchema, func() Record { return &GetRange{} }),
		Declare(ProtocolGrowingObject, MsgPutPart, DirRequest, putPartSchema, func() Record { return &PutPart{} }),
		Declare(ProtocolGrowingObject, MsgDeletePart, DirRequest, deletePartSchema, func() Record { return &DeletePart{} }),
		Declare(ProtocolGrowingObject, MsgDeleteRange, DirRequest, deleteRangeSchema, func() Record { return &DeleteRange{} }),
		Declare(ProtocolGrowingObject, MsgObjectFragment, DirResponse, objectFragmentSchema, func() Record { return &ObjectFragment{} }).AsMultipart(),
	}
	if v == V12 {
		entries = append(entries,
			Declare(ProtocolGrowingObject, MsgReplacePartsByRange, DirRequest, replacePartsByRangeSchema, func() Record { return &ReplacePartsByRange{} }))
	}
	return entries
}

func buildCatalog(v Version) *Catalog {
	var entries []*Entry
	entries = append(entries, coreEntries(v)...)
	entries = append(entries, storeEntries(v)...)
	entries = append(entries, growingEntries(v)...)
	return NewCatalog(v, entries...)
}

var (
	catalogOnce sync.Once
	catalogV11  *Catalog
	catalogV12  *Catalog
)

func buildCatalogs() {
	catalogV11 = buildCatalog(V11)
	catalogV12 = buildCatalog(V12)
}

// CatalogV11 returns the shared 1.1 message catalog.
func CatalogV11() *Catalog {
	catalogOnce.Do(buildCatalogs)
	return catalogV11
}

// CatalogV12 returns the shared 1.2 message catalog.
func CatalogV12() *Catalog {
	catalogOnce.Do(buildCatalogs)
	return catalogV12
}

// CatalogFor picks the catalog for a negotiated version, defaulting to 1.1.
func CatalogFor(v Version) *Catalog {
	if v == V12 {
		return CatalogV12()
	}
	return CatalogV11()
}
