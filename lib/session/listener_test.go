package session

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type recordingListener struct {
	events []Event
	closed int
	panic  bool
}

func (r *recordingListener) SessionEvent(_ *Session, event Event) {
	if r.panic {
		panic("listener failure")
	}
	r.events = append(r.events, event)
}

func (r *recordingListener) SessionClosed(*Session) {
	r.closed++
}

func TestListenerSet_AddRemove(t *testing.T) {
	var ls listenerSet[Listener]
	a := &recordingListener{}
	b := &recordingListener{}

	if !ls.add(a) || !ls.add(b) {
		t.Fatal("add failed")
	}
	if ls.add(a) {
		t.Fatal("duplicate add accepted")
	}
	if !ls.remove(a) {
		t.Fatal("remove failed")
	}
	if ls.remove(a) {
		t.Fatal("second remove succeeded")
	}
	if got := len(ls.snapshot()); got != 1 {
		t.Fatalf("snapshot size = %d, want 1", got)
	}
}

func TestListenerSet_SealRejectsRegistration(t *testing.T) {
	var ls listenerSet[Listener]
	ls.add(&recordingListener{})

	final := ls.seal()
	if len(final) != 1 {
		t.Fatalf("seal returned %d listeners", len(final))
	}
	if ls.add(&recordingListener{}) {
		t.Fatal("registration accepted after seal")
	}
	if len(ls.snapshot()) != 0 {
		t.Fatal("snapshot not empty after seal")
	}
}

func TestDispatch_PanicDoesNotAbortRemaining(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := log.WithField("test", true)

	bad := &recordingListener{panic: true}
	good := &recordingListener{}

	dispatch(entry, []Listener{bad, good}, func(l Listener) {
		l.SessionEvent(nil, EventKexCompleted)
	})

	if len(good.events) != 1 || good.events[0] != EventKexCompleted {
		t.Fatalf("surviving listener events = %v", good.events)
	}
}

func TestEvent_String(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{EventKexCompleted, "KexCompleted"},
		{EventKeyEstablished, "KeyEstablished"},
		{EventAuthenticated, "Authenticated"},
		{Event(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.event.String(); got != tt.want {
			t.Errorf("Event(%d).String() = %q, want %q", tt.event, got, tt.want)
		}
	}
}
