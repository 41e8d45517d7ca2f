package session

import (
	"errors"
	"testing"
	"time"

	"github.com/hongjun500/etp-go/internal/protocol"
)

func TestTrackerMultipartAssembly(t *testing.T) {
	tr := NewTracker()
	h := newTestHandler("store.customer", protocol.ProtocolStore, protocol.RoleCustomer)
	pending := tr.Track(42, h, []uint16{protocol.MsgObject}, 0)

	flags := []protocol.MessageFlags{
		protocol.FlagMultiPart,
		protocol.FlagMultiPart,
		protocol.FlagMultiPartAndFinalPart,
	}
	for i, f := range flags {
		hdr := &protocol.MessageHeader{
			Protocol:      protocol.ProtocolStore,
			MessageType:   protocol.MsgObject,
			MessageID:     int64(100 + i),
			CorrelationID: 42,
			MessageFlags:  f,
		}
		target, ok := tr.Observe(hdr, &protocol.Object{URI: "eml://well/1"})
		if !ok {
			t.Fatalf("part %d: entry should exist", i)
		}
		if target != Handler(h) {
			t.Fatalf("part %d: wrong target handler", i)
		}
	}

	select {
	case outcome := <-pending.Done():
		if outcome.Err != nil {
			t.Fatalf("unexpected error: %v", outcome.Err)
		}
		if len(outcome.Parts) != 3 {
			t.Fatalf("expected 3 parts, got %d", len(outcome.Parts))
		}
	default:
		t.Fatalf("final part should have completed the correlation")
	}

	// entry must be reclaimed after FinalPart
	if tr.Len() != 0 {
		t.Fatalf("expected empty tracker, got %d entries", tr.Len())
	}
}

func TestTrackerSingleReplyCompletes(t *testing.T) {
	tr := NewTracker()
	pending := tr.Track(7, nil, nil, 0)

	hdr := &protocol.MessageHeader{CorrelationID: 7, MessageFlags: protocol.FlagFinalPart}
	if _, ok := tr.Observe(hdr, &protocol.Acknowledge{}); !ok {
		t.Fatalf("entry should exist")
	}
	outcome := <-pending.Done()
	if outcome.Err != nil || len(outcome.Parts) != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestTrackerOrphanReply(t *testing.T) {
	tr := NewTracker()
	hdr := &protocol.MessageHeader{CorrelationID: 999, MessageFlags: protocol.FlagFinalPart}
	if _, ok := tr.Observe(hdr, &protocol.Object{}); ok {
		t.Fatalf("orphan should not match")
	}
}

func TestTrackerExceptionCompletesWithError(t *testing.T) {
	tr := NewTracker()
	pending := tr.Track(5, nil, nil, 0)

	hdr := &protocol.MessageHeader{CorrelationID: 5, MessageFlags: protocol.FlagFinalPart}
	exc := &protocol.ProtocolException{Code: protocol.CodeInvalidURI, Message: "no such object"}
	if _, ok := tr.Observe(hdr, exc); !ok {
		t.Fatalf("entry should exist")
	}

	outcome := <-pending.Done()
	var pe *protocol.Error
	if !errors.As(outcome.Err, &pe) || pe.Code != protocol.CodeInvalidURI {
		t.Fatalf("expected InvalidUri error, got %v", outcome.Err)
	}
	if tr.Len() != 0 {
		t.Fatalf("entry should be reclaimed")
	}
}

func TestTrackerTimeout(t *testing.T) {
	tr := NewTracker()
	pending := tr.Track(3, nil, nil, 20*time.Millisecond)

	select {
	case outcome := <-pending.Done():
		var pe *protocol.Error
		if !errors.As(outcome.Err, &pe) || pe.Code != protocol.CodeTimeout {
			t.Fatalf("expected Timeout, got %v", outcome.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("deadline never fired")
	}

	// a late reply is now an orphan
	hdr := &protocol.MessageHeader{CorrelationID: 3, MessageFlags: protocol.FlagFinalPart}
	if _, ok := tr.Observe(hdr, &protocol.Object{}); ok {
		t.Fatalf("late reply should be orphaned")
	}
}

func TestTrackerFailAll(t *testing.T) {
	tr := NewTracker()
	p1 := tr.Track(1, nil, nil, 0)
	p2 := tr.Track(2, nil, nil, 0)

	tr.FailAll(ErrSessionClosed)

	for _, p := range []*Pending{p1, p2} {
		outcome := <-p.Done()
		if !errors.Is(outcome.Err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", outcome.Err)
		}
	}
	if tr.Len() != 0 {
		t.Fatalf("tracker should be empty")
	}
}
