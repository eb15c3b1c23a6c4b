package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/solace-app/coachsync/internal/message"
)

func history(n int) []message.Message {
	msgs := make([]message.Message, 0, n)
	for i := 0; i < n; i++ {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		msgs = append(msgs, message.NewWithID(fmt.Sprintf("m%d", i), role, fmt.Sprintf("msg %d", i)))
	}
	return msgs
}

func TestWindow_InitialSuffix(t *testing.T) {
	w := New(30, 0)
	w.Init(history(500))

	got := w.Displayed()
	if len(got) != 30 {
		t.Fatalf("expected 30 displayed, got %d", len(got))
	}
	if got[len(got)-1].ID != "m499" || got[0].ID != "m470" {
		t.Fatalf("expected the last 30 messages, got %s..%s", got[0].ID, got[len(got)-1].ID)
	}
	if !w.HasMore() {
		t.Fatalf("expected more history")
	}
}

func TestWindow_LoadMoreAndThrottle(t *testing.T) {
	w := New(30, 300*time.Millisecond)
	now := time.Unix(1000, 0)
	w.now = func() time.Time { return now }
	w.Init(history(500))

	got, ok := w.LoadMore(100)
	if !ok || len(got) != 130 {
		t.Fatalf("expected 130 displayed after loadMore, got %d ok=%v", len(got), ok)
	}

	// a second trigger inside the throttle interval is a no-op
	now = now.Add(100 * time.Millisecond)
	if _, ok := w.LoadMore(100); ok {
		t.Fatalf("expected throttled loadMore to be a no-op")
	}
	if w.DisplayedCount() != 130 {
		t.Fatalf("displayed count changed on throttled call: %d", w.DisplayedCount())
	}

	// past the interval it works again, capped at the history length
	now = now.Add(time.Second)
	if _, ok := w.LoadMore(1000); !ok {
		t.Fatalf("expected loadMore past throttle to proceed")
	}
	if w.DisplayedCount() != 500 || w.HasMore() {
		t.Fatalf("expected full history displayed, got %d", w.DisplayedCount())
	}
	if _, ok := w.LoadMore(10); ok {
		t.Fatalf("expected loadMore with nothing left to be a no-op")
	}
}

func TestWindow_SuffixInvariant(t *testing.T) {
	w := New(10, 0)
	full := history(137)
	w.Init(full)

	for i := 0; i < 20; i++ {
		w.LoadMore(7)
		d := w.Displayed()
		n := w.DisplayedCount()
		if n > len(full) {
			t.Fatalf("displayed %d exceeds history %d", n, len(full))
		}
		if len(d) != n {
			t.Fatalf("displayed slice length %d != count %d", len(d), n)
		}
		for j := range d {
			if d[j].ID != full[len(full)-n+j].ID {
				t.Fatalf("displayed is not the history suffix at %d", j)
			}
		}
	}
}

func TestWindow_AppendKeepsTailVisible(t *testing.T) {
	w := New(5, 0)
	w.Init(history(100))

	m := message.New(message.RoleUser, "new")
	w.Append(m)

	got := w.Displayed()
	if len(got) != 6 {
		t.Fatalf("expected displayed to grow with tail append, got %d", len(got))
	}
	if got[len(got)-1].ID != m.ID {
		t.Fatalf("expected newest message visible")
	}
	if got[0].ID != "m95" {
		t.Fatalf("tail append hid an already-revealed message: first is %s", got[0].ID)
	}
}

func TestWindow_Empty(t *testing.T) {
	w := New(30, 0)
	w.Init(nil)
	if w.HasMore() {
		t.Fatalf("empty history cannot have more")
	}
	if len(w.Displayed()) != 0 {
		t.Fatalf("expected empty displayed slice")
	}
	if _, ok := w.LoadMore(10); ok {
		t.Fatalf("loadMore on empty history must be a no-op")
	}
}

func TestWindow_ReplacePreservesPlace(t *testing.T) {
	w := New(30, 0)
	w.Init(history(500))
	w.LoadMore(100) // 130 displayed

	w.Replace(history(502))
	if w.DisplayedCount() != 130 {
		t.Fatalf("expected displayed count preserved, got %d", w.DisplayedCount())
	}

	// shrunken remote history caps the count
	w.Replace(history(40))
	if w.DisplayedCount() != 40 {
		t.Fatalf("expected count capped to history length, got %d", w.DisplayedCount())
	}
}
