package persist

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/solace-app/coachsync/internal/message"
)

// Target routes a write to its destination document. It is captured at
// Schedule time, so switching the active session afterwards cannot
// redirect an already-scheduled payload.
type Target struct {
	Kind  string
	DocID string
}

// Sink receives the coalesced write. The engine routes it to the remote
// session store and mirrors it into the local cache.
type Sink interface {
	Persist(ctx context.Context, userID uint64, tgt Target, msgs []message.Message) error
}

// Queue coalesces rapid local mutations into infrequent remote writes.
// Every Schedule call resets the user's countdown; only the last payload
// inside a quiet period is written. Writes for one user never overlap.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	delay time.Duration
	sink  Sink
	users map[uint64]*userState
}

type userState struct {
	timer   *time.Timer
	pending []message.Message
	target  Target
	dirty   bool   // pending newer than the last write attempt
	writing bool   // in-flight marker
	lastFP  string // fingerprint of the last completed write
}

func NewQueue(sink Sink, delay time.Duration) *Queue {
	if delay <= 0 {
		delay = time.Second
	}
	q := &Queue{delay: delay, sink: sink, users: make(map[uint64]*userState)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Schedule records msgs as the latest desired state of the tgt document
// for userID and (re)starts the quiet-period countdown.
func (q *Queue) Schedule(userID uint64, tgt Target, msgs []message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.users[userID]
	if st == nil {
		st = &userState{}
		q.users[userID] = st
	}
	st.pending = message.Clone(msgs)
	st.target = tgt
	st.dirty = true
	if st.timer != nil {
		st.timer.Reset(q.delay)
		return
	}
	st.timer = time.AfterFunc(q.delay, func() { q.fire(userID) })
}

// Flush runs any pending write for userID immediately. Used at session
// teardown so a quiet-period payload is not lost.
func (q *Queue) Flush(userID uint64) {
	q.mu.Lock()
	st := q.users[userID]
	if st == nil || !st.dirty {
		q.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	q.mu.Unlock()
	q.fire(userID)
}

// Invalidate clears the last-write fingerprint for userID. The
// fingerprint only sees count and tail id, so callers mutating message
// content in place (retry, marker flips) invalidate before scheduling.
func (q *Queue) Invalidate(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st := q.users[userID]; st != nil {
		st.lastFP = ""
	}
}

// Cancel drops any pending write and timer for userID. An in-flight
// write is allowed to complete; its result is simply the last word.
func (q *Queue) Cancel(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.users[userID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.pending = nil
	st.dirty = false
}

// Drain cancels pending work like Cancel and then blocks until any
// in-flight write for userID has completed. Callers about to destroy
// the destination (reset) drain first so a concurrent write cannot
// recreate it afterwards.
func (q *Queue) Drain(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.users[userID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.pending = nil
	st.dirty = false
	for st.writing {
		q.cond.Wait()
	}
}

func (q *Queue) fire(userID uint64) {
	q.mu.Lock()
	st := q.users[userID]
	if st == nil || !st.dirty {
		q.mu.Unlock()
		return
	}
	if st.writing {
		// wait for the in-flight write; completion re-fires for us
		q.mu.Unlock()
		return
	}
	msgs := message.Clone(st.pending)
	tgt := st.target
	st.dirty = false

	if greetingOnly(msgs) {
		// nothing real to persist yet; sessions are created lazily on
		// the first user message
		q.mu.Unlock()
		return
	}

	fp := fingerprint(userID, tgt, msgs)
	if fp == st.lastFP {
		q.mu.Unlock()
		return
	}

	st.writing = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := q.sink.Persist(ctx, userID, tgt, msgs)
	cancel()

	q.mu.Lock()
	st.writing = false
	q.cond.Broadcast()
	if err != nil {
		// local state already reflects the intended outcome; the next
		// scheduled cycle retries
		log.Printf("[persist] write failed user=%d count=%d err=%v", userID, len(msgs), err)
	} else {
		st.lastFP = fp
	}
	rearm := st.dirty
	q.mu.Unlock()

	if rearm {
		q.fire(userID)
	}
}

func greetingOnly(msgs []message.Message) bool {
	return len(msgs) == 1 &&
		msgs[0].Role == message.RoleAssistant &&
		msgs[0].ID == message.GreetingID
}

// fingerprint is a cheap identity for a write: a trigger that converges
// to the same state and destination as the last completed write is
// skipped.
func fingerprint(userID uint64, tgt Target, msgs []message.Message) string {
	return fmt.Sprintf("%d|%s|%s|%d|%s", userID, tgt.Kind, tgt.DocID, len(msgs), message.LastID(msgs))
}
