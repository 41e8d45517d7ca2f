package session

import (
	"time"

	"github.com/hongjun500/etp-go/internal/protocol"
)

// Handler is per-protocol state attached to one session.
type Handler interface {
	// Contract is the stable tag application code fetches the handler by.
	Contract() string
	Protocol() protocol.ID
	// Role is the side this handler plays locally.
	Role() protocol.Role

	Bind(s *Session)
	OnRegistered()
	OnSessionOpened(requested, negotiated []protocol.SupportedProtocol)
	OnSessionClosed()

	// HandleMessage dispatches one inbound message. Returned errors are
	// converted by the session into a ProtocolException reply.
	HandleMessage(h *protocol.MessageHeader, body protocol.Record) error
}

// CapabilityAdvertiser is implemented by handlers that publish capability
// records at negotiation.
type CapabilityAdvertiser interface {
	Capabilities() map[string]int64
}

// Negotiator is implemented by the Core client handler; Session.Open
// delegates the RequestSession/OpenSession exchange to it.
type Negotiator interface {
	Negotiate(requested []protocol.SupportedProtocol, timeout time.Duration) error
}

type dispatchFunc func(h *protocol.MessageHeader, body protocol.Record) error

// Base carries the plumbing every concrete handler embeds: identity, the
// bound session, and the per-message-type dispatch table built at handler
// construction.
type Base struct {
	contract string
	proto    protocol.ID
	role     protocol.Role
	sess     *Session
	dispatch map[uint16]dispatchFunc

	// OnOpened and OnClosed multicast the session lifecycle to subscribers.
	OnOpened Event[OpenedEvent]
	OnClosed Event[struct{}]
}

// OpenedEvent carries both protocol lists observed at session open.
type OpenedEvent struct {
	Requested  []protocol.SupportedProtocol
	Negotiated []protocol.SupportedProtocol
}

func NewBase(contract string, p protocol.ID, role protocol.Role) *Base {
	return &Base{
		contract: contract,
		proto:    p,
		role:     role,
		dispatch: make(map[uint16]dispatchFunc),
	}
}

func (b *Base) Contract() string      { return b.contract }
func (b *Base) Protocol() protocol.ID { return b.proto }
func (b *Base) Role() protocol.Role   { return b.role }

func (b *Base) Bind(s *Session)   { b.sess = s }
func (b *Base) Session() *Session { return b.sess }

func (b *Base) OnRegistered() {}

func (b *Base) OnSessionOpened(requested, negotiated []protocol.SupportedProtocol) {
	b.OnOpened.Emit(OpenedEvent{Requested: requested, Negotiated: negotiated})
}

func (b *Base) OnSessionClosed() {
	b.OnClosed.Emit(struct{}{})
}

// Handle installs the decode+dispatch closure for one message type. Called
// at construction only.
func (b *Base) Handle(mt uint16, fn dispatchFunc) { b.dispatch[mt] = fn }

func (b *Base) HandleMessage(h *protocol.MessageHeader, body protocol.Record) error {
	fn, ok := b.dispatch[h.MessageType]
	if !ok {
		// Never answer an exception or ack with another exception.
		if h.MessageType == protocol.MsgProtocolException || h.MessageType == protocol.MsgAcknowledge {
			return nil
		}
		return protocol.NewError(protocol.CodeInvalidMessageType,
			"unhandled message type", h.MessageID)
	}
	return fn(h, body)
}

// Send sends an exchange-initiating message (correlationId 0) on this
// handler's protocol and returns the allocated messageId.
func (b *Base) Send(mt uint16, body protocol.Record) (int64, error) {
	h := &protocol.MessageHeader{Protocol: b.proto, MessageType: mt}
	return b.sess.Send(h, body, nil)
}

// Reply sends a message correlated to an inbound request.
func (b *Base) Reply(mt uint16, correlation int64, flags protocol.MessageFlags, body protocol.Record) (int64, error) {
	h := &protocol.MessageHeader{
		Protocol:      b.proto,
		MessageType:   mt,
		CorrelationID: correlation,
		MessageFlags:  flags,
	}
	return b.sess.Send(h, body, nil)
}

// Request sends an initiating message and registers a correlation entry
// before the frame reaches the wire, so the reply can never race the
// tracker. A zero timeout disables the deadline.
func (b *Base) Request(mt uint16, body protocol.Record, expect []uint16, timeout time.Duration) (*Pending, int64, error) {
	h := &protocol.MessageHeader{Protocol: b.proto, MessageType: mt}
	var pending *Pending
	id, err := b.sess.Send(h, body, func(stamped *protocol.MessageHeader) {
		pending = b.sess.tracker.Track(stamped.MessageID, b.sess.handlerFor(b.proto), expect, timeout)
	})
	if err != nil {
		if pending != nil {
			b.sess.tracker.drop(id)
		}
		return nil, id, err
	}
	return pending, id, nil
}

// ReplyMultipart sends a correlated response set. A single body carries
// FinalPart alone; otherwise every part carries MultiPart and exactly the
// last one adds FinalPart.
func (b *Base) ReplyMultipart(mt uint16, correlation int64, bodies []protocol.Record) ([]int64, error) {
	ids := make([]int64, 0, len(bodies))
	for i, body := range bodies {
		flags := protocol.FlagFinalPart
		if len(bodies) > 1 {
			flags = protocol.FlagMultiPart
			if i == len(bodies)-1 {
				flags = protocol.FlagMultiPartAndFinalPart
			}
		}
		id, err := b.Reply(mt, correlation, flags, body)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SendException reports a protocol-level failure to the peer on this
// handler's protocol.
func (b *Base) SendException(e *protocol.Error) (int64, error) {
	return b.sess.SendException(b.proto, e)
}
