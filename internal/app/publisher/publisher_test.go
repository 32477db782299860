package publisher

import (
	"errors"
	"testing"
	"time"

	"possync/internal/core/domain"
)

func sub(id, collection string) domain.Subscription {
	return domain.Subscription{ID: id, Path: domain.CollectionPath(collection), Status: domain.SubscriptionActive}
}

func recv[T any](t *testing.T, o *Observer[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-o.C():
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event[T]{}
}

func assertClosed[T any](t *testing.T, o *Observer[T]) {
	t.Helper()
	select {
	case _, ok := <-o.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestLateObserverGetsLatest(t *testing.T) {
	p := New[int]()
	s := sub("s1", "menus")
	p.Open(s)
	p.Publish(s, 1)
	p.Publish(s, 2)

	o := p.Observe(s)
	if ev := recv(t, o); ev.Value != 2 {
		t.Fatalf("replayed %d, want 2", ev.Value)
	}
	latest, ok := p.Latest(s.Path)
	if !ok || latest.Value != 2 {
		t.Fatalf("latest = %+v, %v", latest, ok)
	}
}

func TestLastValueWins(t *testing.T) {
	p := New[int]()
	s := sub("s1", "menus")
	p.Open(s)
	o := p.Observe(s)
	for i := 1; i <= 5; i++ {
		p.Publish(s, i)
	}
	if ev := recv(t, o); ev.Value != 5 {
		t.Fatalf("got %d, want 5", ev.Value)
	}
}

func TestBufferedOrder(t *testing.T) {
	p := New[int](WithBuffer(8))
	s := sub("s1", "menus")
	p.Open(s)
	observers := []*Observer[int]{p.Observe(s), p.Observe(s)}
	for i := 1; i <= 5; i++ {
		p.Publish(s, i)
	}
	for n, o := range observers {
		for i := 1; i <= 5; i++ {
			if ev := recv(t, o); ev.Value != i {
				t.Fatalf("observer %d position %d got %d", n, i, ev.Value)
			}
		}
	}
}

func TestCollectionAndDocumentTopicsAreSeparate(t *testing.T) {
	p := New[string]()
	doc := domain.Subscription{ID: "d", Path: domain.DocumentPath("a", "b")}
	col := domain.Subscription{ID: "c", Path: domain.CollectionPath("a/b")}
	p.Open(doc)
	p.Open(col)
	p.Publish(doc, "doc")
	p.Publish(col, "col")

	if v, ok := p.Latest(doc.Path); !ok || v.Value != "doc" {
		t.Fatalf("doc latest = %+v, %v", v, ok)
	}
	if v, ok := p.Latest(col.Path); !ok || v.Value != "col" {
		t.Fatalf("collection latest = %+v, %v", v, ok)
	}
}

func TestReceivedAtMonotonic(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute)}
	i := 0
	p := New[int](WithClock(func() time.Time {
		t := times[i]
		i++
		return t
	}))
	s := sub("s1", "menus")
	p.Open(s)
	p.Publish(s, 1)
	p.Publish(s, 2)
	latest, _ := p.Latest(s.Path)
	if !latest.ReceivedAt.Equal(base) {
		t.Fatalf("ReceivedAt went backwards: %v", latest.ReceivedAt)
	}
}

func TestPathsAreIndependent(t *testing.T) {
	p := New[string]()
	a, b := sub("a", "menus"), sub("b", "staff")
	p.Open(a)
	p.Open(b)
	oa, ob := p.Observe(a), p.Observe(b)
	p.Publish(a, "menu")
	if ev := recv(t, oa); ev.Value != "menu" {
		t.Fatalf("got %q", ev.Value)
	}
	select {
	case ev := <-ob.C():
		t.Fatalf("unexpected delivery on other path: %+v", ev)
	default:
	}
	p.Fail(a, errors.New("gone"))
	p.Publish(b, "staff")
	if ev := recv(t, ob); ev.Value != "staff" {
		t.Fatalf("got %q", ev.Value)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	p := New[int]()
	s := sub("s1", "menus")
	p.Open(s)
	o := p.Observe(s)
	if p.ObserverCount(s.Path) != 1 {
		t.Fatal("observer not registered")
	}
	o.Cancel()
	o.Cancel()
	assertClosed(t, o)
	if p.ObserverCount(s.Path) != 0 {
		t.Fatal("observer not removed")
	}
	p.Publish(s, 1)
}

func TestFailIsTerminalAndSticky(t *testing.T) {
	p := New[int]()
	s := sub("s1", "menus")
	p.Open(s)
	p.Publish(s, 1)
	o := p.Observe(s)
	recv(t, o)

	boom := errors.New("boom")
	p.Fail(s, boom)
	if ev := recv(t, o); !errors.Is(ev.Err, boom) {
		t.Fatalf("expected terminal error, got %+v", ev)
	}
	assertClosed(t, o)

	late := p.Observe(s)
	if ev := recv(t, late); !errors.Is(ev.Err, boom) {
		t.Fatalf("late observer should see the error, got %+v", ev)
	}
	assertClosed(t, late)

	if _, ok := p.Latest(s.Path); ok {
		t.Fatal("failed topic must not expose a cached value")
	}
	p.Publish(s, 2)
}

func TestDropClosesWithoutError(t *testing.T) {
	p := New[int]()
	s := sub("s1", "menus")
	p.Open(s)
	o := p.Observe(s)
	p.Drop(s)
	assertClosed(t, o)
	if o2 := p.Observe(s); o2 != nil {
		assertClosed(t, o2)
	}
}

func TestReopenSupersedes(t *testing.T) {
	p := New[int]()
	first := sub("s1", "menus")
	p.Open(first)
	old := p.Observe(first)
	p.Publish(first, 1)
	recv(t, old)

	second := sub("s2", "menus")
	p.Open(second)
	assertClosed(t, old)

	p.Publish(first, 99)
	if _, ok := p.Latest(second.Path); ok {
		t.Fatal("stale subscription published into the new topic")
	}
	o := p.Observe(second)
	p.Publish(second, 2)
	if ev := recv(t, o); ev.Value != 2 {
		t.Fatalf("got %d", ev.Value)
	}
	p.Drop(first)
	if p.ObserverCount(second.Path) != 1 {
		t.Fatal("dropping the old subscription removed the new topic")
	}
}
