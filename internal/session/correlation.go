package session

import (
	"sync"
	"time"

	"github.com/hongjun500/etp-go/internal/observe"
	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// Outcome is the terminal result of a tracked request: the assembled reply
// parts, or the error that ended it.
type Outcome struct {
	Parts []protocol.Record
	Err   error
}

// Pending is the caller's view of one in-flight request.
type Pending struct {
	id   int64
	done chan Outcome
}

func (p *Pending) ID() int64             { return p.id }
func (p *Pending) Done() <-chan Outcome  { return p.done }

// Tracker correlates inbound replies with the requests this peer initiated,
// keyed by the request's messageId. It is guarded by its own mutex, disjoint
// from the session send lock.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]*tracked
}

type tracked struct {
	pending *Pending
	handler Handler
	expect  []uint16
	parts   []protocol.Record
	timer   *time.Timer
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[int64]*tracked)}
}

// Track registers an in-flight request. Callers invoke this from the send
// lock's onBeforeSend hook so the entry exists before bytes hit the wire.
// A zero timeout disables the deadline.
func (t *Tracker) Track(id int64, h Handler, expect []uint16, timeout time.Duration) *Pending {
	p := &Pending{id: id, done: make(chan Outcome, 1)}
	e := &tracked{pending: p, handler: h, expect: expect}
	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() { t.expire(id) })
	}
	return p
}

// expire completes the correlation with Timeout. Nothing is sent on the
// wire; a late reply becomes an orphan.
func (t *Tracker) expire(id int64) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	observe.IncCorrelationTimeout()
	e.pending.done <- Outcome{Err: protocol.NewError(protocol.CodeTimeout, "request timed out", id)}
}

// drop removes an entry without completing it. Used when the send that
// created it never reached the wire.
func (t *Tracker) drop(id int64) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		e.stopTimer()
	}
}

// Observe routes one inbound reply. It returns the target handler of the
// tracked request and whether a matching entry existed; callers drop
// orphans. A ProtocolException body or a final part removes the entry in
// O(1) and completes the caller.
func (t *Tracker) Observe(h *protocol.MessageHeader, body protocol.Record) (Handler, bool) {
	t.mu.Lock()
	e, ok := t.entries[h.CorrelationID]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}

	if pe, isExc := body.(*protocol.ProtocolException); isExc {
		delete(t.entries, h.CorrelationID)
		t.mu.Unlock()
		e.stopTimer()
		e.pending.done <- Outcome{Parts: e.parts, Err: pe.Err(h.CorrelationID)}
		return e.handler, true
	}

	if len(e.expect) > 0 && !contains(e.expect, h.MessageType) {
		logger.L().Sugar().Warnw("unexpected_reply_type",
			"correlation", h.CorrelationID, "messageType", h.MessageType)
	}
	e.parts = append(e.parts, body)

	if h.IsFinalPart() || !h.IsMultiPart() {
		delete(t.entries, h.CorrelationID)
		t.mu.Unlock()
		e.stopTimer()
		observe.IncAssembly()
		e.pending.done <- Outcome{Parts: e.parts}
		return e.handler, true
	}
	t.mu.Unlock()
	return e.handler, true
}

// FailAll completes every outstanding correlation with err. Used on session
// close.
func (t *Tracker) FailAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[int64]*tracked)
	t.mu.Unlock()
	for _, e := range entries {
		e.stopTimer()
		e.pending.done <- Outcome{Parts: e.parts, Err: err}
	}
}

// Len reports outstanding entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (e *tracked) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
