package session

import "testing"

func TestEventSubscribeUnsubscribe(t *testing.T) {
	var ev Event[int]
	var got []int

	t1 := ev.Subscribe(func(v int) { got = append(got, v) })
	t2 := ev.Subscribe(func(v int) { got = append(got, v*10) })

	ev.Emit(1)
	if len(got) != 2 || got[0] != 1 || got[1] != 10 {
		t.Fatalf("delivery order broken: %v", got)
	}

	ev.Unsubscribe(t1)
	got = nil
	ev.Emit(2)
	if len(got) != 1 || got[0] != 20 {
		t.Fatalf("unsubscribe failed: %v", got)
	}

	ev.Unsubscribe(t2)
	got = nil
	ev.Emit(3)
	if len(got) != 0 {
		t.Fatalf("expected no delivery, got %v", got)
	}
}
