package session

import (
	"fmt"
	"sync"

	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// Registry holds per-protocol handlers under two keys: the contract tag used
// by application code and the numeric protocol id used by the receive path.
// Registration happens before the session opens; negotiation may still prune
// entries while the receive loop is live, so reads share an RWMutex.
type Registry struct {
	mu         sync.RWMutex
	byProtocol map[protocol.ID]Handler
	byContract map[string]protocol.ID
	order      []protocol.ID
}

func NewRegistry() *Registry {
	return &Registry{
		byProtocol: make(map[protocol.ID]Handler),
		byContract: make(map[string]protocol.ID),
	}
}

// Register inserts h under both keys, binds it to s, and fires OnRegistered.
// A duplicate contract replaces the previous handler with a warning; a
// duplicate protocol id is rejected.
func (r *Registry) Register(s *Session, h Handler) error {
	r.mu.Lock()
	if pid, ok := r.byContract[h.Contract()]; ok {
		logger.L().Sugar().Warnw("handler_replaced", "contract", h.Contract(), "protocol", pid)
		r.removeLocked(pid)
	}
	if _, dup := r.byProtocol[h.Protocol()]; dup {
		r.mu.Unlock()
		return fmt.Errorf("protocol %s already has a handler", h.Protocol())
	}
	r.byProtocol[h.Protocol()] = h
	r.byContract[h.Contract()] = h.Protocol()
	r.order = append(r.order, h.Protocol())
	r.mu.Unlock()

	h.Bind(s)
	h.OnRegistered()
	return nil
}

func (r *Registry) removeLocked(pid protocol.ID) {
	h, ok := r.byProtocol[pid]
	if !ok {
		return
	}
	delete(r.byProtocol, pid)
	delete(r.byContract, h.Contract())
	for i, id := range r.order {
		if id == pid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) ByProtocol(id protocol.ID) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byProtocol[id]
	return h, ok
}

func (r *Registry) ByContract(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.byContract[tag]
	if !ok {
		return nil, false
	}
	h, ok := r.byProtocol[pid]
	return h, ok
}

// Handlers returns the registered handlers in insertion order. The order is
// observable through OnSessionOpened.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byProtocol[id])
	}
	return out
}

// UnregisterUnsupported removes every handler whose (protocol, role) — or
// its counter-role, since the peer advertises its own side — is absent from
// the negotiated set. Core is never removed. Returns the removed handlers.
func (r *Registry) UnregisterUnsupported(supported []protocol.SupportedProtocol) []Handler {
	keep := make(map[protocol.ProtocolRole]bool, 2*len(supported))
	for _, sp := range supported {
		keep[sp.Key()] = true
		keep[protocol.ProtocolRole{Protocol: sp.Protocol, Role: protocol.CounterRole(sp.Role)}] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Handler
	for _, h := range r.byProtocol {
		if h.Protocol() == protocol.ProtocolCore {
			continue
		}
		if !keep[protocol.ProtocolRole{Protocol: h.Protocol(), Role: h.Role()}] {
			removed = append(removed, h)
		}
	}
	for _, h := range removed {
		logger.L().Sugar().Infow("handler_unregistered", "contract", h.Contract(), "protocol", h.Protocol())
		r.removeLocked(h.Protocol())
	}
	return removed
}
