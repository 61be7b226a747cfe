package realtime

import (
	"testing"
	"time"
)

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("theme_id=eq.abc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Column != "theme_id" || f.Value != "abc" {
		t.Fatalf("unexpected filter %+v", f)
	}
	if f.String() != "theme_id=eq.abc" {
		t.Fatalf("string = %q", f.String())
	}
	if _, err := ParseFilter("theme_id=gt.3"); err == nil {
		t.Fatal("expected unsupported operator error")
	}
	if f, err := ParseFilter(""); err != nil || f.Column != "" {
		t.Fatalf("empty filter: %+v %v", f, err)
	}
}

func TestBrokerDeliversOnlyMatchingChanges(t *testing.T) {
	b := NewBroker(4)
	themeSub := b.Subscribe("tags", Eq("theme_id", "t1"))
	defer themeSub.Close()
	allSub := b.Subscribe("tags", Filter{})
	defer allSub.Close()
	otherTable := b.Subscribe("statuses", Filter{})
	defer otherTable.Close()

	b.Publish(Change{Table: "tags", Op: OpInsert, ID: "x", Columns: map[string]string{"theme_id": "t2"}})
	b.Publish(Change{Table: "tags", Op: OpUpdate, ID: "y", Columns: map[string]string{"theme_id": "t1"}})

	select {
	case c := <-themeSub.C:
		if c.ID != "y" {
			t.Fatalf("filtered subscriber got %q", c.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	select {
	case c := <-themeSub.C:
		t.Fatalf("filtered subscriber got extra change %+v", c)
	default:
	}

	if n := len(allSub.C); n != 2 {
		t.Fatalf("unfiltered subscriber queued %d changes, want 2", n)
	}
	if n := len(otherTable.C); n != 0 {
		t.Fatalf("other table subscriber queued %d changes", n)
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker(1)
	s := b.Subscribe("characters", Filter{})
	for i := 0; i < 5; i++ {
		b.Publish(Change{Table: "characters", Op: OpUpdate, ID: "c"})
	}
	if len(s.C) != 1 {
		t.Fatalf("expected one buffered change, got %d", len(s.C))
	}
	s.Close()
	s.Close()
	if b.Len() != 0 {
		t.Fatalf("expected no subscriptions after close, got %d", b.Len())
	}
}

func TestIDFilter(t *testing.T) {
	f := Eq("id", "a1")
	if !f.Match(Change{ID: "a1"}) || f.Match(Change{ID: "a2"}) {
		t.Fatal("id filter should match on change id")
	}
}
