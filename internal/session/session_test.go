package session

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/etp-go/internal/codec"
	"github.com/hongjun500/etp-go/internal/protocol"
)

// fakeConn is an in-memory transport end: frames pushed to in are read by
// the session, frames the session writes land on out.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() (bool, []byte, error) {
	select {
	case frame := <-f.in:
		return true, frame, nil
	case <-f.closed:
		return false, nil, errors.New("fake conn closed")
	}
}

func (f *fakeConn) WriteFrame(binary bool, payload []byte) error {
	select {
	case f.out <- payload:
		return nil
	case <-f.closed:
		return errors.New("fake conn closed")
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func newTestSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s, err := New(protocol.RoleClient, conn, protocol.CatalogV11(), nil, Config{RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return s, conn
}

func readFrame(t *testing.T, conn *fakeConn) (*protocol.MessageHeader, protocol.Record) {
	t.Helper()
	select {
	case frame := <-conn.out:
		c := codec.NewBinary(protocol.CatalogV11(), 0)
		h, rest, err := c.DecodeHeader(frame)
		if err != nil {
			t.Fatalf("decode header: %v", err)
		}
		body, err := c.DecodeBody(h, rest)
		if err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return h, body
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame written")
		return nil, nil
	}
}

func encodeFrame(t *testing.T, h *protocol.MessageHeader, body protocol.Record) []byte {
	t.Helper()
	frame, err := codec.NewBinary(protocol.CatalogV11(), 0).Encode(h, body)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

// Ten concurrent senders must produce ids 1..10, unique, and monotonically
// increasing in wire order.
func TestSendOrderingUnderContention(t *testing.T) {
	s, conn := newTestSession(t)
	store := NewBase("store.customer", protocol.ProtocolStore, protocol.RoleCustomer)
	if err := s.Register(store); err != nil {
		t.Fatalf("register: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Send(protocol.MsgGetObject, &protocol.GetObject{URI: "eml://well/1"})
			if err != nil {
				t.Errorf("send: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	allocated := make([]int64, 0, n)
	for id := range ids {
		allocated = append(allocated, id)
	}
	sort.Slice(allocated, func(i, j int) bool { return allocated[i] < allocated[j] })
	for i, id := range allocated {
		if id != int64(i+1) {
			t.Fatalf("allocated ids not contiguous: %v", allocated)
		}
	}

	var last int64
	for i := 0; i < n; i++ {
		h, _ := readFrame(t, conn)
		if h.MessageID <= last {
			t.Fatalf("wire ids not increasing: %d after %d", h.MessageID, last)
		}
		if h.CorrelationID != 0 {
			t.Fatalf("request must carry correlationId 0")
		}
		last = h.MessageID
	}
}

// An inbound message for an unregistered protocol is dropped and answered
// with UnsupportedProtocol on Core, echoing the offending messageId.
func TestUnknownProtocolReply(t *testing.T) {
	s, conn := newTestSession(t)
	s.Start()

	hdr := &protocol.MessageHeader{Protocol: 99, MessageType: 1, MessageID: 7}
	raw, err := protocol.EncodeHeaderBinary(nil, hdr)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	conn.in <- raw

	h, body := readFrame(t, conn)
	if h.Protocol != protocol.ProtocolCore || h.MessageType != protocol.MsgProtocolException {
		t.Fatalf("expected ProtocolException on Core, got %s/%d", h.Protocol, h.MessageType)
	}
	if h.CorrelationID != 7 {
		t.Fatalf("expected correlation 7, got %d", h.CorrelationID)
	}
	pe := body.(*protocol.ProtocolException)
	if pe.Code != protocol.CodeUnsupportedProtocol {
		t.Fatalf("expected UnsupportedProtocol, got %s", pe.Code)
	}
}

// A handler failure becomes InvalidState on the same protocol; the session
// stays up and keeps dispatching.
func TestHandlerFailureBecomesInvalidState(t *testing.T) {
	s, conn := newTestSession(t)
	store := NewBase("store.store", protocol.ProtocolStore, protocol.RoleStore)
	calls := 0
	store.Handle(protocol.MsgGetObject, func(h *protocol.MessageHeader, body protocol.Record) error {
		calls++
		if calls == 1 {
			return errors.New("backend exploded")
		}
		return nil
	})
	if err := s.Register(store); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()

	conn.in <- encodeFrame(t, &protocol.MessageHeader{
		Protocol: protocol.ProtocolStore, MessageType: protocol.MsgGetObject, MessageID: 3,
	}, &protocol.GetObject{URI: "eml://well/1"})

	h, body := readFrame(t, conn)
	if h.Protocol != protocol.ProtocolStore || h.CorrelationID != 3 {
		t.Fatalf("expected exception on Store correlated to 3, got %s corr %d", h.Protocol, h.CorrelationID)
	}
	if pe := body.(*protocol.ProtocolException); pe.Code != protocol.CodeInvalidState {
		t.Fatalf("expected InvalidState, got %s", pe.Code)
	}
	if s.State() >= StateClosing {
		t.Fatalf("session must stay up after a handler failure")
	}

	// next message dispatches normally
	conn.in <- encodeFrame(t, &protocol.MessageHeader{
		Protocol: protocol.ProtocolStore, MessageType: protocol.MsgGetObject, MessageID: 4,
	}, &protocol.GetObject{URI: "eml://well/2"})

	deadline := time.Now().Add(2 * time.Second)
	for calls < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second dispatch never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A panicking handler is caught the same way.
func TestHandlerPanicCaught(t *testing.T) {
	s, conn := newTestSession(t)
	store := NewBase("store.store", protocol.ProtocolStore, protocol.RoleStore)
	store.Handle(protocol.MsgGetObject, func(h *protocol.MessageHeader, body protocol.Record) error {
		panic("boom")
	})
	if err := s.Register(store); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()

	conn.in <- encodeFrame(t, &protocol.MessageHeader{
		Protocol: protocol.ProtocolStore, MessageType: protocol.MsgGetObject, MessageID: 9,
	}, &protocol.GetObject{URI: "eml://well/1"})

	h, body := readFrame(t, conn)
	if pe := body.(*protocol.ProtocolException); pe.Code != protocol.CodeInvalidState || h.CorrelationID != 9 {
		t.Fatalf("expected InvalidState correlated to 9")
	}
}

// Multipart replies surface one dispatch per part, then the correlation
// entry is reclaimed.
func TestMultipartAssemblyThroughSession(t *testing.T) {
	s, conn := newTestSession(t)
	growing := NewBase("growing.customer", protocol.ProtocolGrowingObject, protocol.RoleCustomer)
	frags := make(chan *protocol.ObjectFragment, 8)
	growing.Handle(protocol.MsgObjectFragment, func(h *protocol.MessageHeader, body protocol.Record) error {
		frags <- body.(*protocol.ObjectFragment)
		return nil
	})
	if err := s.Register(growing); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()

	pending, id, err := growing.Request(protocol.MsgGrowingGet,
		&protocol.GrowingObjectGet{URI: "eml://well/1/log"},
		[]uint16{protocol.MsgObjectFragment}, 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	readFrame(t, conn) // drain the request itself

	flags := []protocol.MessageFlags{
		protocol.FlagMultiPart,
		protocol.FlagMultiPart,
		protocol.FlagMultiPartAndFinalPart,
	}
	for i, f := range flags {
		conn.in <- encodeFrame(t, &protocol.MessageHeader{
			Protocol:      protocol.ProtocolGrowingObject,
			MessageType:   protocol.MsgObjectFragment,
			MessageID:     int64(50 + i),
			CorrelationID: id,
			MessageFlags:  f,
		}, &protocol.ObjectFragment{URI: "eml://well/1/log", Part: protocol.Part{UID: "p"}})
	}

	outcome := <-pending.Done()
	if outcome.Err != nil || len(outcome.Parts) != 3 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-frags:
		case <-time.After(2 * time.Second):
			t.Fatalf("fragment event %d never fired", i)
		}
	}
	if s.tracker.Len() != 0 {
		t.Fatalf("correlation entry not reclaimed")
	}
}

// An uncorrelated reply with no tracker entry is dropped without dispatch.
func TestOrphanReplyDropped(t *testing.T) {
	s, conn := newTestSession(t)
	store := NewBase("store.customer", protocol.ProtocolStore, protocol.RoleCustomer)
	dispatched := make(chan struct{}, 1)
	store.Handle(protocol.MsgObject, func(h *protocol.MessageHeader, body protocol.Record) error {
		dispatched <- struct{}{}
		return nil
	})
	if err := s.Register(store); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()

	conn.in <- encodeFrame(t, &protocol.MessageHeader{
		Protocol:      protocol.ProtocolStore,
		MessageType:   protocol.MsgObject,
		MessageID:     11,
		CorrelationID: 999,
		MessageFlags:  protocol.FlagFinalPart,
	}, &protocol.Object{URI: "eml://well/1"})

	select {
	case <-dispatched:
		t.Fatalf("orphan reply must not dispatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, conn := newTestSession(t)
	s.Start()

	if err := s.Close("done"); err != nil {
		t.Fatalf("close: %v", err)
	}
	h, _ := readFrame(t, conn)
	if h.Protocol != protocol.ProtocolCore || h.MessageType != protocol.MsgCloseSession {
		t.Fatalf("expected CloseSession, got %s/%d", h.Protocol, h.MessageType)
	}

	if err := s.Close("again"); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case frame := <-conn.out:
		t.Fatalf("second close produced wire traffic: %d bytes", len(frame))
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := s.Send(&protocol.MessageHeader{
		Protocol: protocol.ProtocolStore, MessageType: protocol.MsgGetObject,
	}, &protocol.GetObject{}, nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

// Outstanding correlations complete with SessionClosed when the session
// goes down.
func TestCloseFailsOutstandingCorrelations(t *testing.T) {
	s, conn := newTestSession(t)
	store := NewBase("store.customer", protocol.ProtocolStore, protocol.RoleCustomer)
	if err := s.Register(store); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()

	pending, _, err := store.Request(protocol.MsgGetObject, &protocol.GetObject{URI: "eml://well/1"},
		[]uint16{protocol.MsgObject}, 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	readFrame(t, conn)

	_ = s.Close("shutting down")
	outcome := <-pending.Done()
	if !errors.Is(outcome.Err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", outcome.Err)
	}
}
