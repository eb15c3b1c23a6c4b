package window

import (
	"sync"
	"time"

	"github.com/solace-app/coachsync/internal/message"
)

// Window exposes a growable suffix of the full message history. The
// displayed suffix only ever grows (loadMore, tail appends) until Reset;
// it is always fullHistory[len-displayed:].
type Window struct {
	mu        sync.Mutex
	full      []message.Message
	displayed int
	initial   int
	throttle  time.Duration
	lastLoad  time.Time
	now       func() time.Time // test hook
}

func New(initial int, throttle time.Duration) *Window {
	if initial <= 0 {
		initial = 30
	}
	return &Window{initial: initial, throttle: throttle, now: time.Now}
}

func (w *Window) Init(full []message.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.full = message.Clone(full)
	w.displayed = min(w.initial, len(w.full))
	w.lastLoad = time.Time{}
}

// Replace swaps in a reconciled remote snapshot. The displayed count is
// kept (never shrunk below the initial window) and capped at the new
// history length, so a scrolled-back user does not lose their place.
func (w *Window) Replace(full []message.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.full = message.Clone(full)
	d := max(w.displayed, w.initial)
	w.displayed = min(d, len(w.full))
}

// Append adds a message at the tail and grows the displayed suffix by
// one so the newest message stays visible. Tail growth never hides an
// already-revealed older message.
func (w *Window) Append(m message.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.full = append(w.full, m)
	w.displayed++
}

// Update mutates the message with the given id in place. Only content
// and the error flag may change; id, role and position are fixed.
func (w *Window) Update(id string, fn func(m *message.Message)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.full {
		if w.full[i].ID == id {
			fn(&w.full[i])
			return true
		}
	}
	return false
}

func (w *Window) Get(id string) (message.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.full {
		if w.full[i].ID == id {
			return w.full[i], true
		}
	}
	return message.Message{}, false
}

// LoadMore reveals up to page older messages. Calls are serialized by
// the window lock; a trailing call within the throttle interval of the
// previous load (one continuous scroll gesture firing repeatedly, or a
// load still settling) is a no-op.
func (w *Window) LoadMore(page int) ([]message.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if page <= 0 || w.displayed >= len(w.full) {
		return nil, false
	}
	if !w.lastLoad.IsZero() && w.now().Sub(w.lastLoad) < w.throttle {
		return nil, false
	}
	w.lastLoad = w.now()
	w.displayed = min(w.displayed+page, len(w.full))
	return w.displayedLocked(), true
}

func (w *Window) Displayed() []message.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.displayedLocked()
}

func (w *Window) displayedLocked() []message.Message {
	return message.Clone(w.full[len(w.full)-w.displayed:])
}

func (w *Window) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.displayed < len(w.full)
}

func (w *Window) Full() []message.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return message.Clone(w.full)
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.full)
}

func (w *Window) DisplayedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.displayed
}

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.full = nil
	w.displayed = 0
	w.lastLoad = time.Time{}
}
