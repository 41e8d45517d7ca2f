package handlers

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// Contract tags for the Core protocol.
const (
	ContractCoreClient = "core.client"
	ContractCoreServer = "core.server"
)

// AckEvent reports an inbound Acknowledge.
type AckEvent struct {
	CorrelationID int64
}

// CoreClient drives the customer side of the Core protocol: it owns the
// RequestSession/OpenSession exchange and reacts to CloseSession.
type CoreClient struct {
	*session.Base

	OnAcknowledge session.Event[AckEvent]
	OnException   session.Event[*protocol.Error]
}

func NewCoreClient() *CoreClient {
	c := &CoreClient{
		Base: session.NewBase(ContractCoreClient, protocol.ProtocolCore, protocol.RoleClient),
	}
	c.Handle(protocol.MsgOpenSession, c.onOpenSession)
	c.Handle(protocol.MsgCloseSession, c.onCloseSession)
	c.Handle(protocol.MsgProtocolException, c.onException)
	c.Handle(protocol.MsgAcknowledge, c.onAcknowledge)
	return c
}

// Negotiate sends RequestSession and blocks until OpenSession (or a
// ProtocolException, timeout, or session loss) resolves the exchange.
func (c *CoreClient) Negotiate(requested []protocol.SupportedProtocol, timeout time.Duration) error {
	requested = protocol.Dedup(requested)
	cfg := c.Session().Config()
	req := &protocol.RequestSession{
		ApplicationName:    cfg.ApplicationName,
		ApplicationVersion: cfg.ApplicationVersion,
		RequestedProtocols: requested,
	}
	pending, _, err := c.Request(protocol.MsgRequestSession, req,
		[]uint16{protocol.MsgOpenSession}, timeout)
	if err != nil {
		return fmt.Errorf("request session: %w", err)
	}
	outcome := <-pending.Done()
	if outcome.Err != nil {
		return fmt.Errorf("negotiation failed: %w", outcome.Err)
	}
	if len(outcome.Parts) == 0 {
		return fmt.Errorf("negotiation: empty reply")
	}
	open, ok := outcome.Parts[0].(*protocol.OpenSession)
	if !ok {
		return fmt.Errorf("negotiation: unexpected reply %T", outcome.Parts[0])
	}
	c.Session().CompleteOpen(open.SessionID, requested, open.SupportedProtocols)
	return nil
}

func (c *CoreClient) onOpenSession(h *protocol.MessageHeader, body protocol.Record) error {
	// Completion happens through the correlation tracker in Negotiate; an
	// uncorrelated OpenSession is a peer bug.
	if h.CorrelationID == 0 {
		logger.L().Sugar().Warnw("unsolicited_open_session", "messageId", h.MessageID)
	}
	return nil
}

func (c *CoreClient) onCloseSession(h *protocol.MessageHeader, body protocol.Record) error {
	cs := body.(*protocol.CloseSession)
	c.Session().PeerClosed(cs.Reason)
	return nil
}

func (c *CoreClient) onException(h *protocol.MessageHeader, body protocol.Record) error {
	pe := body.(*protocol.ProtocolException)
	c.OnException.Emit(pe.Err(h.CorrelationID))
	return nil
}

func (c *CoreClient) onAcknowledge(h *protocol.MessageHeader, body protocol.Record) error {
	c.OnAcknowledge.Emit(AckEvent{CorrelationID: h.CorrelationID})
	return nil
}

// CloseSession asks the peer to end the session.
func (c *CoreClient) CloseSession(reason string) error {
	return c.Session().Close(reason)
}

// CoreServer answers RequestSession with the intersection of the peer's
// requested protocols and the locally registered handlers, then opens the
// session.
type CoreServer struct {
	*session.Base

	OnAcknowledge session.Event[AckEvent]
}

func NewCoreServer() *CoreServer {
	s := &CoreServer{
		Base: session.NewBase(ContractCoreServer, protocol.ProtocolCore, protocol.RoleServer),
	}
	s.Handle(protocol.MsgRequestSession, s.onRequestSession)
	s.Handle(protocol.MsgCloseSession, s.onCloseSession)
	s.Handle(protocol.MsgProtocolException, s.onException)
	s.Handle(protocol.MsgAcknowledge, s.onAcknowledge)
	return s
}

func (s *CoreServer) onRequestSession(h *protocol.MessageHeader, body protocol.Record) error {
	req := body.(*protocol.RequestSession)
	requested := protocol.Dedup(req.RequestedProtocols)
	supported := s.intersect(requested)
	if len(supported) == 0 {
		return protocol.NewError(protocol.CodeRequestDenied, "no mutually supported protocols", h.MessageID)
	}
	sessionID := uuid.New().String()
	open := &protocol.OpenSession{SessionID: sessionID, SupportedProtocols: supported}
	if _, err := s.Reply(protocol.MsgOpenSession, h.MessageID, protocol.FlagFinalPart, open); err != nil {
		return err
	}
	logger.L().Sugar().Infow("session_negotiated",
		"sessionId", sessionID, "application", req.ApplicationName, "version", req.ApplicationVersion,
		"supported", len(supported))
	s.Session().CompleteOpen(sessionID, requested, supported)
	return nil
}

// intersect keeps each locally supported (protocol, version, role) tuple
// whose counter-role the peer requested.
func (s *CoreServer) intersect(requested []protocol.SupportedProtocol) []protocol.SupportedProtocol {
	var out []protocol.SupportedProtocol
	for _, local := range s.Session().Supported() {
		for _, r := range requested {
			if r.Protocol == local.Protocol && r.Version == local.Version &&
				r.Role == protocol.CounterRole(local.Role) {
				out = append(out, local)
				break
			}
		}
	}
	return out
}

func (s *CoreServer) onCloseSession(h *protocol.MessageHeader, body protocol.Record) error {
	cs := body.(*protocol.CloseSession)
	s.Session().PeerClosed(cs.Reason)
	return nil
}

func (s *CoreServer) onException(h *protocol.MessageHeader, body protocol.Record) error {
	pe := body.(*protocol.ProtocolException)
	logger.L().Sugar().Warnw("peer_exception",
		"code", pe.Code.String(), "message", pe.Message, "correlation", h.CorrelationID)
	return nil
}

func (s *CoreServer) onAcknowledge(h *protocol.MessageHeader, body protocol.Record) error {
	s.OnAcknowledge.Emit(AckEvent{CorrelationID: h.CorrelationID})
	return nil
}
