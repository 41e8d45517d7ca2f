package handlers

import (
	"time"

	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
)

// Contract tags for the GrowingObject protocol.
const (
	ContractGrowingCustomer = "growing.customer"
	ContractGrowingStore    = "growing.store"
)

// FragmentEvent delivers one ObjectFragment reply part to subscribers.
type FragmentEvent struct {
	Header   *protocol.MessageHeader
	Fragment *protocol.ObjectFragment
}

// GrowingCustomer issues part and range operations against a remote store.
type GrowingCustomer struct {
	*session.Base

	OnFragment  session.Event[FragmentEvent]
	OnException session.Event[*protocol.Error]
}

func NewGrowingCustomer() *GrowingCustomer {
	c := &GrowingCustomer{
		Base: session.NewBase(ContractGrowingCustomer, protocol.ProtocolGrowingObject, protocol.RoleCustomer),
	}
	c.Handle(protocol.MsgObjectFragment, c.onFragment)
	c.Handle(protocol.MsgProtocolException, c.onException)
	return c
}

func (c *GrowingCustomer) onFragment(h *protocol.MessageHeader, body protocol.Record) error {
	c.OnFragment.Emit(FragmentEvent{Header: h, Fragment: body.(*protocol.ObjectFragment)})
	return nil
}

func (c *GrowingCustomer) onException(h *protocol.MessageHeader, body protocol.Record) error {
	pe := body.(*protocol.ProtocolException)
	c.OnException.Emit(pe.Err(h.CorrelationID))
	return nil
}

// Get requests parts of the object at uri, optionally from startIndex on.
// Fragments surface as OnFragment events.
func (c *GrowingCustomer) Get(uri string, startIndex *protocol.IndexValue) (int64, error) {
	_, id, err := c.Request(protocol.MsgGrowingGet,
		&protocol.GrowingObjectGet{URI: uri, StartIndex: startIndex},
		[]uint16{protocol.MsgObjectFragment}, c.Session().Config().RequestTimeout)
	return id, err
}

// GetRange requests the parts between two endpoints.
func (c *GrowingCustomer) GetRange(uri string, start, end protocol.IndexValue) (int64, error) {
	_, id, err := c.Request(protocol.MsgGetRange,
		&protocol.GetRange{URI: uri, StartIndex: start, EndIndex: end},
		[]uint16{protocol.MsgObjectFragment}, c.Session().Config().RequestTimeout)
	return id, err
}

// GetRangeAwait requests a range and blocks for the assembled fragments.
func (c *GrowingCustomer) GetRangeAwait(uri string, start, end protocol.IndexValue, timeout time.Duration) ([]*protocol.ObjectFragment, error) {
	if timeout <= 0 {
		timeout = c.Session().Config().RequestTimeout
	}
	pending, _, err := c.Request(protocol.MsgGetRange,
		&protocol.GetRange{URI: uri, StartIndex: start, EndIndex: end},
		[]uint16{protocol.MsgObjectFragment}, timeout)
	if err != nil {
		return nil, err
	}
	outcome := <-pending.Done()
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	frags := make([]*protocol.ObjectFragment, 0, len(outcome.Parts))
	for _, p := range outcome.Parts {
		if f, ok := p.(*protocol.ObjectFragment); ok {
			frags = append(frags, f)
		}
	}
	return frags, nil
}

// PutPart appends or replaces one part.
func (c *GrowingCustomer) PutPart(uri string, part protocol.Part) (int64, error) {
	return c.Send(protocol.MsgPutPart, &protocol.PutPart{URI: uri, Part: part})
}

// DeletePart removes one part by uid.
func (c *GrowingCustomer) DeletePart(uri, uid string) (int64, error) {
	return c.Send(protocol.MsgDeletePart, &protocol.DeletePart{URI: uri, UID: uid})
}

// DeleteRange removes the parts between two endpoints.
func (c *GrowingCustomer) DeleteRange(uri string, start, end protocol.IndexValue) (int64, error) {
	return c.Send(protocol.MsgDeleteRange, &protocol.DeleteRange{URI: uri, StartIndex: start, EndIndex: end})
}

// ReplacePartsByRange deletes a range then inserts parts. Only available on
// wire version 1.2; on 1.1 it fails locally without wire traffic.
func (c *GrowingCustomer) ReplacePartsByRange(uri string, start, end protocol.IndexValue, parts []protocol.Part) (int64, error) {
	if _, ok := c.Session().Catalog().Lookup(protocol.ProtocolGrowingObject, protocol.MsgReplacePartsByRange); !ok {
		return 0, protocol.NewError(protocol.CodeNotSupported,
			"ReplacePartsByRange requires wire version 1.2", 0)
	}
	return c.Send(protocol.MsgReplacePartsByRange,
		&protocol.ReplacePartsByRange{URI: uri, StartIndex: start, EndIndex: end, Parts: parts})
}

// GrowingBackend is the application-side storage the store role serves
// growing objects from.
type GrowingBackend interface {
	Get(uri string, startIndex *protocol.IndexValue) ([]protocol.Part, error)
	GetRange(uri string, start, end protocol.IndexValue) ([]protocol.Part, error)
	PutPart(uri string, part protocol.Part) error
	DeletePart(uri, uid string) error
	DeleteRange(uri string, start, end protocol.IndexValue) error
	ReplaceRange(uri string, start, end protocol.IndexValue, parts []protocol.Part) error
}

// GrowingStore serves part and range operations from a GrowingBackend.
type GrowingStore struct {
	*session.Base
	backend GrowingBackend
}

func NewGrowingStore(backend GrowingBackend) *GrowingStore {
	s := &GrowingStore{
		Base:    session.NewBase(ContractGrowingStore, protocol.ProtocolGrowingObject, protocol.RoleStore),
		backend: backend,
	}
	s.Handle(protocol.MsgGrowingGet, s.onGet)
	s.Handle(protocol.MsgGetRange, s.onGetRange)
	s.Handle(protocol.MsgPutPart, s.onPutPart)
	s.Handle(protocol.MsgDeletePart, s.onDeletePart)
	s.Handle(protocol.MsgDeleteRange, s.onDeleteRange)
	s.Handle(protocol.MsgReplacePartsByRange, s.onReplaceRange)
	return s
}

func (s *GrowingStore) onGet(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.GrowingObjectGet)
	parts, err := s.backend.Get(req.URI, req.StartIndex)
	if err != nil {
		return backendError(err, h.MessageID)
	}
	return s.replyFragments(h.MessageID, req.URI, parts)
}

func (s *GrowingStore) onGetRange(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.GetRange)
	parts, err := s.backend.GetRange(req.URI, req.StartIndex, req.EndIndex)
	if err != nil {
		return backendError(err, h.MessageID)
	}
	return s.replyFragments(h.MessageID, req.URI, parts)
}

func (s *GrowingStore) replyFragments(correlation int64, uri string, parts []protocol.Part) error {
	if len(parts) == 0 {
		return protocol.NewError(protocol.CodeInvalidURI, "no parts at "+uri, correlation)
	}
	bodies := make([]protocol.Record, 0, len(parts))
	for _, p := range parts {
		bodies = append(bodies, &protocol.ObjectFragment{URI: uri, Part: p})
	}
	_, err := s.ReplyMultipart(protocol.MsgObjectFragment, correlation, bodies)
	return err
}

func (s *GrowingStore) onPutPart(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.PutPart)
	if err := s.backend.PutPart(req.URI, req.Part); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}

func (s *GrowingStore) onDeletePart(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.DeletePart)
	if err := s.backend.DeletePart(req.URI, req.UID); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}

func (s *GrowingStore) onDeleteRange(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.DeleteRange)
	if err := s.backend.DeleteRange(req.URI, req.StartIndex, req.EndIndex); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}

func (s *GrowingStore) onReplaceRange(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.ReplacePartsByRange)
	if err := s.backend.ReplaceRange(req.URI, req.StartIndex, req.EndIndex, req.Parts); err != nil {
		return backendError(err, h.MessageID)
	}
	_, err := s.Reply(protocol.MsgAcknowledge, h.MessageID, protocol.FlagFinalPart, &protocol.Acknowledge{})
	return err
}
