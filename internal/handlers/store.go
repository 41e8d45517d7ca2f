package handlers

import (
	"errors"
	"time"

	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
)

// Contract tags for the Store protocol.
const (
	ContractStoreCustomer = "store.customer"
	ContractStoreStore    = "store.store"
)

// ObjectEvent delivers one Object reply part to subscribers.
type ObjectEvent struct {
	Header *protocol.MessageHeader
	Object *protocol.Object
}

// StoreCustomer issues object requests against a remote store. Replies
// arrive as OnObject events; a GetObject may be answered by one or more
// Object messages ending in a FinalPart.
type StoreCustomer struct {
	*session.Base

	OnObject    session.Event[ObjectEvent]
	OnException session.Event[*protocol.Error]
}

func NewStoreCustomer() *StoreCustomer {
	c := &StoreCustomer{
		Base: session.NewBase(ContractStoreCustomer, protocol.ProtocolStore, protocol.RoleCustomer),
	}
	c.Handle(protocol.MsgObject, c.onObject)
	c.Handle(protocol.MsgProtocolException, c.onException)
	return c
}

func (c *StoreCustomer) onObject(h *protocol.MessageHeader, body protocol.Record) error {
	c.OnObject.Emit(ObjectEvent{Header: h, Object: body.(*protocol.Object)})
	return nil
}

func (c *StoreCustomer) onException(h *protocol.MessageHeader, body protocol.Record) error {
	pe := body.(*protocol.ProtocolException)
	c.OnException.Emit(pe.Err(h.CorrelationID))
	return nil
}

// GetObject requests the object at uri and returns the allocated messageId.
// Reply parts surface as OnObject events.
func (c *StoreCustomer) GetObject(uri string) (int64, error) {
	_, id, err := c.Request(protocol.MsgGetObject, &protocol.GetObject{URI: uri},
		[]uint16{protocol.MsgObject}, c.Session().Config().RequestTimeout)
	return id, err
}

// GetObjectAwait requests the object at uri and blocks for the assembled
// reply set. A zero timeout uses the session default.
func (c *StoreCustomer) GetObjectAwait(uri string, timeout time.Duration) ([]*protocol.Object, error) {
	if timeout <= 0 {
		timeout = c.Session().Config().RequestTimeout
	}
	pending, _, err := c.Request(protocol.MsgGetObject, &protocol.GetObject{URI: uri},
		[]uint16{protocol.MsgObject}, timeout)
	if err != nil {
		return nil, err
	}
	outcome := <-pending.Done()
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	objs := make([]*protocol.Object, 0, len(outcome.Parts))
	for _, p := range outcome.Parts {
		if o, ok := p.(*protocol.Object); ok {
			objs = append(objs, o)
		}
	}
	return objs, nil
}

// PutObject stores an object.
func (c *StoreCustomer) PutObject(uri, contentType string, data []byte) (int64, error) {
	return c.Send(protocol.MsgPutObject, &protocol.PutObject{URI: uri, ContentType: contentType, Data: data})
}

// DeleteObject removes the object at uri.
func (c *StoreCustomer) DeleteObject(uri string) (int64, error) {
	return c.Send(protocol.MsgDeleteObject, &protocol.DeleteObject{URI: uri})
}

// StoreBackend is the application-side storage the store role serves from.
// Returning a *protocol.Error picks the wire error code; any other error
// maps to InvalidState.
type StoreBackend interface {
	GetObject(uri string) ([]protocol.Object, error)
	PutObject(obj protocol.PutObject) error
	DeleteObject(uri string) error
}

// StoreStore serves GetObject/PutObject/DeleteObject from a StoreBackend.
type StoreStore struct {
	*session.Base
	backend StoreBackend
}

func NewStoreStore(backend StoreBackend) *StoreStore {
	s := &StoreStore{
		Base:    session.NewBase(ContractStoreStore, protocol.ProtocolStore, protocol.RoleStore),
		backend: backend,
	}
	s.Handle(protocol.MsgGetObject, s.onGetObject)
	s.Handle(protocol.MsgPutObject, s.onPutObject)
	s.Handle(protocol.MsgDeleteObject, s.onDeleteObject)
	return s
}

func (s *StoreStore) onGetObject(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.GetObject)
	objs, err := s.backend.GetObject(req.URI)
	if err != nil {
		return backendError(err, h.MessageID)
	}
	if len(objs) == 0 {
		return protocol.NewError(protocol.CodeInvalidURI, "no object at "+req.URI, h.MessageID)
	}
	bodies := make([]protocol.Record, 0, len(objs))
	for i := range objs {
		bodies = append(bodies, &objs[i])
	}
	_, err = s.ReplyMultipart(protocol.MsgObject, h.MessageID, bodies)
	return err
}

func (s *StoreStore) onPutObject(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.PutObject)
	if err := s.backend.PutObject(*req); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}

func (s *StoreStore) onDeleteObject(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.DeleteObject)
	if err := s.backend.DeleteObject(req.URI); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}

func backendError(err error, correlation int64) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		if pe.Correlation == 0 {
			pe.Correlation = correlation
		}
		return pe
	}
	return protocol.NewError(protocol.CodeInvalidState, err.Error(), correlation)
}
