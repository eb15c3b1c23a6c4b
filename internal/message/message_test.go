package message

import "testing"

func TestNew_UniqueIDs(t *testing.T) {
	a := New(RoleUser, "hi")
	b := New(RoleUser, "hi")
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %q", a.ID)
	}
	if a.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestDedupe_FirstOccurrenceWins(t *testing.T) {
	first := NewWithID("a", RoleUser, "first")
	dup := NewWithID("a", RoleUser, "second")
	other := NewWithID("b", RoleAssistant, "reply")

	out := Dedupe([]Message{first, dup, other, dup})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Content != "first" {
		t.Fatalf("expected first occurrence kept, got %q", out[0].Content)
	}
	if out[1].ID != "b" {
		t.Fatalf("expected order preserved, got id %q", out[1].ID)
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	msgs := []Message{
		NewWithID("1", RoleAssistant, "hello"),
		NewWithID("2", RoleUser, "hi"),
		NewWithID("2", RoleUser, "hi again"),
		NewWithID("3", RoleAssistant, "ok"),
	}
	once := Dedupe(msgs)
	twice := Dedupe(once)
	if len(once) != len(twice) {
		t.Fatalf("dedupe not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("dedupe not idempotent at %d: %q vs %q", i, once[i].ID, twice[i].ID)
		}
	}
	seen := map[string]bool{}
	for _, m := range once {
		if seen[m.ID] {
			t.Fatalf("duplicate id %q survived dedupe", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestTail(t *testing.T) {
	msgs := []Message{
		NewWithID("1", RoleUser, "a"),
		NewWithID("2", RoleUser, "b"),
		NewWithID("3", RoleUser, "c"),
	}
	out := Tail(msgs, 2)
	if len(out) != 2 || out[0].ID != "2" {
		t.Fatalf("unexpected tail: %+v", out)
	}
	if got := Tail(msgs, 10); len(got) != 3 {
		t.Fatalf("expected full slice when n exceeds len, got %d", len(got))
	}
	if got := Tail(msgs, 0); len(got) != 0 {
		t.Fatalf("expected nothing for n=0, got %d", len(got))
	}
	if got := Tail(msgs, -1); len(got) != 0 {
		t.Fatalf("expected nothing for negative n, got %d", len(got))
	}
}

func TestGreeting(t *testing.T) {
	g := Greeting("welcome back")
	if g.ID != GreetingID || g.Role != RoleAssistant {
		t.Fatalf("unexpected greeting: %+v", g)
	}
}
