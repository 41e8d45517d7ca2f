package session

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hongjun500/etp-go/internal/codec"
	"github.com/hongjun500/etp-go/internal/observe"
	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// ErrSessionClosed fails local sends and outstanding correlations once the
// session is past Open.
var ErrSessionClosed = errors.New("etp: session closed")

// State is the session lifecycle. Terminal states discard all pending
// correlations.
type State int32

const (
	StateNegotiating State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn is the single-reader, single-writer transport under a session. The
// writer side is serialized by the session send lock.
type Conn interface {
	// ReadFrame blocks for the next whole frame. binary distinguishes
	// WebSocket binary frames from text frames.
	ReadFrame() (binary bool, payload []byte, err error)
	WriteFrame(binary bool, payload []byte) error
	Close() error
	RemoteAddr() string
}

// Config is per-session construction input. The encoding header name is
// configuration, not process-wide state.
type Config struct {
	ApplicationName    string
	ApplicationVersion string
	EncodingHeaderName string
	MaxFrameSize       int
	RequestTimeout     time.Duration
	CloseTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.EncodingHeaderName == "" {
		c.EncodingHeaderName = "etp-encoding"
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	return c
}

// Session owns the transport, the message-id allocator, send serialization,
// the receive loop, and negotiation. One per WebSocket connection.
type Session struct {
	role    protocol.Role
	conn    Conn
	codec   codec.Codec
	catalog *protocol.Catalog
	cfg     Config
	headers http.Header

	registry *Registry
	tracker  *Tracker

	// sendMu serializes header-stamping + encode + transport write for one
	// message; this is what makes messageIds contiguous in wire order.
	sendMu        sync.Mutex
	nextMessageID atomic.Int64

	state     atomic.Int32
	idMu      sync.Mutex
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New builds a session over conn. The codec is latched for the session
// lifetime from the encoding header captured at construction.
func New(role protocol.Role, conn Conn, cat *protocol.Catalog, headers http.Header, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if headers == nil {
		headers = http.Header{}
	}
	c, err := codec.ForEncoding(headers.Get(cfg.EncodingHeaderName), cat, cfg.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	s := &Session{
		role:     role,
		conn:     conn,
		codec:    c,
		catalog:  cat,
		cfg:      cfg,
		headers:  headers,
		registry: NewRegistry(),
		tracker:  NewTracker(),
		closed:   make(chan struct{}),
	}
	s.state.Store(int32(StateNegotiating))
	return s, nil
}

func (s *Session) State() State              { return State(s.state.Load()) }
func (s *Session) Catalog() *protocol.Catalog { return s.catalog }
func (s *Session) Config() Config            { return s.cfg }
func (s *Session) Headers() http.Header      { return s.headers }
func (s *Session) Done() <-chan struct{}     { return s.closed }

func (s *Session) SessionID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.sessionID
}

// Register attaches a handler. Only legal before the session opens.
func (s *Session) Register(h Handler) error {
	if s.State() != StateNegotiating {
		return fmt.Errorf("register %s: session is %s", h.Contract(), s.State())
	}
	return s.registry.Register(s, h)
}

// Handler fetches a registered handler by contract tag.
func (s *Session) Handler(contract string) (Handler, error) {
	h, ok := s.registry.ByContract(contract)
	if !ok {
		return nil, protocol.NewError(protocol.CodeNotSupported,
			fmt.Sprintf("contract %q not supported on this session", contract), 0)
	}
	return h, nil
}

func (s *Session) CanHandle(contract string) bool {
	_, ok := s.registry.ByContract(contract)
	return ok
}

func (s *Session) handlerFor(p protocol.ID) Handler {
	h, _ := s.registry.ByProtocol(p)
	return h
}

// Supported lists the non-Core protocols this session's handlers cover,
// with their advertised capabilities.
func (s *Session) Supported() []protocol.SupportedProtocol {
	var out []protocol.SupportedProtocol
	for _, h := range s.registry.Handlers() {
		if h.Protocol() == protocol.ProtocolCore {
			continue
		}
		sp := protocol.SupportedProtocol{
			Protocol: h.Protocol(),
			Version:  s.catalog.Version(),
			Role:     h.Role(),
		}
		if adv, ok := h.(CapabilityAdvertiser); ok {
			sp.Capabilities = adv.Capabilities()
		}
		out = append(out, sp)
	}
	return protocol.Dedup(out)
}

// Send stamps the next messageId, invokes onBeforeSend while still holding
// the send lock (so callers can record correlation before bytes hit the
// wire), encodes, and writes. On encode or transport failure the exception
// reply is emitted under the same lock, keeping its id contiguous with the
// failing send; the already-allocated id is returned either way.
func (s *Session) Send(h *protocol.MessageHeader, body protocol.Record, onBeforeSend func(*protocol.MessageHeader)) (int64, error) {
	if s.State() >= StateClosing {
		return 0, ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(h, body, onBeforeSend)
}

func (s *Session) sendLocked(h *protocol.MessageHeader, body protocol.Record, onBeforeSend func(*protocol.MessageHeader)) (int64, error) {
	h.MessageID = s.nextMessageID.Add(1)
	if onBeforeSend != nil {
		onBeforeSend(h)
	}
	frame, err := s.codec.Encode(h, body)
	if err != nil {
		logger.L().Sugar().Errorw("encode_failed", "protocol", h.Protocol, "messageType", h.MessageType, "err", err)
		s.exceptionLocked(h.Protocol, protocol.NewError(protocol.CodeInvalidState, err.Error(), h.MessageID))
		return h.MessageID, err
	}
	if err := s.conn.WriteFrame(s.codec.BinaryFrames(), frame); err != nil {
		logger.L().Sugar().Errorw("write_failed", "protocol", h.Protocol, "err", err)
		s.exceptionLocked(h.Protocol, protocol.NewError(protocol.CodeInvalidState, err.Error(), h.MessageID))
		return h.MessageID, err
	}
	observe.IncMessage("out", h.Protocol.String())
	return h.MessageID, nil
}

// exceptionLocked writes a ProtocolException while the caller holds the
// send lock. Best effort: a dead transport drops it.
func (s *Session) exceptionLocked(p protocol.ID, e *protocol.Error) {
	h := &protocol.MessageHeader{
		Protocol:      p,
		MessageType:   protocol.MsgProtocolException,
		CorrelationID: e.Correlation,
		MessageFlags:  protocol.FlagFinalPart,
	}
	h.MessageID = s.nextMessageID.Add(1)
	body := &protocol.ProtocolException{Code: e.Code, Message: e.Message}
	frame, err := s.codec.Encode(h, body)
	if err != nil {
		logger.L().Sugar().Errorw("exception_encode_failed", "code", e.Code.String(), "err", err)
		return
	}
	if err := s.conn.WriteFrame(s.codec.BinaryFrames(), frame); err != nil {
		logger.L().Sugar().Warnw("exception_write_failed", "code", e.Code.String(), "err", err)
		return
	}
	observe.IncProtocolError(e.Code.String())
	observe.IncMessage("out", p.String())
}

// SendException reports a protocol-level failure to the peer.
func (s *Session) SendException(p protocol.ID, e *protocol.Error) (int64, error) {
	if s.State() >= StateClosing {
		return 0, ErrSessionClosed
	}
	h := &protocol.MessageHeader{
		Protocol:      p,
		MessageType:   protocol.MsgProtocolException,
		CorrelationID: e.Correlation,
		MessageFlags:  protocol.FlagFinalPart,
	}
	id, err := s.Send(h, &protocol.ProtocolException{Code: e.Code, Message: e.Message}, nil)
	if err == nil {
		observe.IncProtocolError(e.Code.String())
	}
	return id, err
}

// Start launches the receive loop.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.serve()
}

func (s *Session) serve() {
	defer s.wg.Done()
	for {
		_, frame, err := s.conn.ReadFrame()
		if err != nil {
			if s.State() < StateClosing {
				logger.L().Sugar().Infow("transport_lost", "remote", s.conn.RemoteAddr(), "err", err)
			}
			s.shutdown("transport lost", false)
			return
		}
		s.dispatchFrame(frame)
	}
}

// dispatchFrame routes one inbound frame: decode header, find the handler,
// decode the body, resolve correlation, dispatch. Messages are dispatched in
// the order they are received; the core never reorders.
func (s *Session) dispatchFrame(frame []byte) {
	h, rest, err := s.codec.DecodeHeader(frame)
	if err != nil {
		logger.L().Sugar().Warnw("malformed_frame", "err", err)
		s.exception(protocol.ProtocolCore, protocol.NewError(protocol.CodeInvalidArgument, err.Error(), 0))
		return
	}
	observe.IncMessage("in", h.Protocol.String())

	handler, ok := s.registry.ByProtocol(h.Protocol)
	if !ok {
		// Unknown protocol: the reply rides Core, echoing the offending
		// messageId as correlation. The inbound message is dropped.
		s.exception(protocol.ProtocolCore, protocol.NewError(protocol.CodeUnsupportedProtocol,
			fmt.Sprintf("no handler for protocol %d", uint16(h.Protocol)), h.MessageID))
		return
	}

	body, err := s.codec.DecodeBody(h, rest)
	if err != nil {
		var pe *protocol.Error
		if !errors.As(err, &pe) {
			pe = protocol.NewError(protocol.CodeInvalidArgument, err.Error(), h.MessageID)
		}
		logger.L().Sugar().Warnw("body_decode_failed", "protocol", h.Protocol, "messageType", h.MessageType, "err", err)
		s.exception(h.Protocol, pe)
		return
	}

	if h.CorrelationID != 0 {
		target, tracked := s.tracker.Observe(h, body)
		if !tracked {
			logger.L().Sugar().Debugw("orphan_reply", "correlation", h.CorrelationID, "protocol", h.Protocol)
			observe.IncOrphan()
			return
		}
		if target != nil {
			handler = target
		}
	}

	s.safeDispatch(handler, h, body)
}

// safeDispatch runs handler code; failures become ProtocolException replies
// and the session stays open.
func (s *Session) safeDispatch(handler Handler, h *protocol.MessageHeader, body protocol.Record) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = handler.HandleMessage(h, body)
	}()
	if err == nil {
		return
	}
	logger.L().Sugar().Errorw("handler_failed",
		"protocol", h.Protocol, "messageType", h.MessageType, "messageId", h.MessageID, "err", err)
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		pe = protocol.NewError(protocol.CodeInvalidState, err.Error(), h.MessageID)
	}
	if pe.Correlation == 0 {
		pe.Correlation = h.MessageID
	}
	s.exception(h.Protocol, pe)
}

func (s *Session) exception(p protocol.ID, e *protocol.Error) {
	if s.State() >= StateClosing {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.exceptionLocked(p, e)
}

// Open performs client-side negotiation: the registered Core handler sends
// RequestSession and completes the session when OpenSession arrives.
func (s *Session) Open(requested []protocol.SupportedProtocol) error {
	if s.role != protocol.RoleClient {
		return fmt.Errorf("open: session role is %s, want %s", s.role, protocol.RoleClient)
	}
	core, ok := s.registry.ByProtocol(protocol.ProtocolCore)
	if !ok {
		return errors.New("open: no Core handler registered")
	}
	neg, ok := core.(Negotiator)
	if !ok {
		return errors.New("open: Core handler cannot negotiate")
	}
	s.Start()
	if err := neg.Negotiate(requested, s.cfg.RequestTimeout); err != nil {
		return err
	}
	return nil
}

// CompleteOpen is called by the Core handler once negotiation concludes:
// prune handlers outside the negotiated set, transition to Open, then fire
// OnSessionOpened in registration order with both lists.
func (s *Session) CompleteOpen(sessionID string, requested, negotiated []protocol.SupportedProtocol) {
	s.idMu.Lock()
	s.sessionID = sessionID
	s.idMu.Unlock()

	s.registry.UnregisterUnsupported(negotiated)
	s.state.Store(int32(StateOpen))
	observe.AddOpenSessions(1)
	logger.L().Sugar().Infow("session_open",
		"sessionId", sessionID, "role", s.role, "codec", s.codec.Name(), "remote", s.conn.RemoteAddr())

	for _, h := range s.registry.Handlers() {
		h.OnSessionOpened(requested, negotiated)
	}
}

// Close sends Core CloseSession, waits (bounded) for in-flight sends,
// closes the transport, fails outstanding correlations, and notifies every
// handler. Calling it twice behaves as once.
func (s *Session) Close(reason string) error {
	s.shutdown(reason, true)
	return nil
}

// PeerClosed is called by the Core handler on an inbound CloseSession.
func (s *Session) PeerClosed(reason string) {
	logger.L().Sugar().Infow("peer_closed_session", "reason", reason)
	s.shutdown(reason, false)
}

func (s *Session) shutdown(reason string, sendClose bool) {
	s.closeOnce.Do(func() {
		wasOpen := s.State() == StateOpen
		s.state.Store(int32(StateClosing))

		if sendClose {
			// The lock acquisition is the bounded wait for in-flight sends.
			done := make(chan struct{})
			go func() {
				s.sendMu.Lock()
				defer s.sendMu.Unlock()
				h := &protocol.MessageHeader{Protocol: protocol.ProtocolCore, MessageType: protocol.MsgCloseSession}
				_, _ = s.sendLocked(h, &protocol.CloseSession{Reason: reason}, nil)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(s.cfg.CloseTimeout):
				logger.L().Sugar().Warnw("close_send_timeout", "reason", reason)
			}
		}

		s.state.Store(int32(StateClosed))
		_ = s.conn.Close()
		s.tracker.FailAll(ErrSessionClosed)
		for _, h := range s.registry.Handlers() {
			h.OnSessionClosed()
		}
		if wasOpen {
			observe.AddOpenSessions(-1)
		}
		close(s.closed)
	})
}
