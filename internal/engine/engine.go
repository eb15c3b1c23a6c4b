package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/solace-app/coachsync/internal/feed"
	"github.com/solace-app/coachsync/internal/message"
	"github.com/solace-app/coachsync/internal/persist"
	"github.com/solace-app/coachsync/internal/producer"
	"github.com/solace-app/coachsync/internal/session"
	"github.com/solace-app/coachsync/internal/window"
)

// Pagination and persistence tuning. Fixed by design, not environment.
const (
	InitialWindow    = 30
	PageSize         = 100
	LoadMoreThrottle = 300 * time.Millisecond
	CacheLimit       = 300
	DebounceDelay    = time.Second
	ContextWindow    = 20
)

const defaultGreeting = "Hi, I'm your coach. What's on your mind today?"

var (
	ErrNotOpen      = errors.New("conversation not open")
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrNotFound     = errors.New("message not found")
	ErrNotRetryable = errors.New("message is not a failed assistant turn")
	ErrNoMarker     = errors.New("marker occurrence or field not found")
)

// Cache is the per-user local snapshot store. All methods are
// best-effort by contract; the engine never checks them for errors.
type Cache interface {
	Save(ctx context.Context, userID uint64, msgs []message.Message)
	Load(ctx context.Context, userID uint64) []message.Message
	Clear(ctx context.Context, userID uint64)
}

type convState int

const (
	stateUninitialized convState = iota
	stateInitializing
	stateReady
)

// conversation is the per-user sync state: one active session (default
// or breakout) per user at a time.
type conversation struct {
	state       convState
	kind        session.Kind
	docID       string
	window      *window.Window
	turnActive  bool
	unsubscribe func()
}

// target snapshots the write destination. Callers hold e.mu; the
// snapshot travels with the scheduled payload so a later session switch
// cannot redirect it.
func (c *conversation) target() persist.Target {
	return persist.Target{Kind: string(c.kind), DocID: c.docID}
}

// Engine orchestrates the local cache, the remote session store, the
// pagination window and the debounced persistence queue across session
// lifecycle boundaries.
type Engine struct {
	mu    sync.Mutex
	repo  *session.Repo
	cache Cache
	feed  feed.Subscriber
	prod  producer.Producer
	queue *persist.Queue

	greeting string
	throttle time.Duration
	ctxWin   int

	convs map[uint64]*conversation
}

type Config struct {
	Greeting      string
	Debounce      time.Duration // 0 means DebounceDelay
	Throttle      time.Duration // 0 means LoadMoreThrottle
	ContextWindow int           // 0 means ContextWindow
}

func New(repo *session.Repo, cache Cache, sub feed.Subscriber, prod producer.Producer, cfg Config) *Engine {
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DebounceDelay
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = LoadMoreThrottle
	}
	if cfg.ContextWindow <= 0 || cfg.ContextWindow > 100 {
		cfg.ContextWindow = ContextWindow
	}
	e := &Engine{
		repo:     repo,
		cache:    cache,
		feed:     sub,
		prod:     prod,
		greeting: cfg.Greeting,
		throttle: cfg.Throttle,
		ctxWin:   cfg.ContextWindow,
		convs:    make(map[uint64]*conversation),
	}
	e.queue = persist.NewQueue(e, cfg.Debounce)
	return e
}

type OpenResult struct {
	// Cached is the local snapshot, returned so the UI can paint before
	// trusting Messages. It is never authoritative.
	Cached   []message.Message
	Messages []message.Message
	HasMore  bool
	Greeted  bool
	Pending  bool // an open for this user is already initializing
}

// Open brings the user's default session to ready: cache preview first,
// then the remote store as the source of truth; a missing session seeds
// a synthesized greeting that is never persisted. Re-entrant opens
// while initializing are no-ops.
func (e *Engine) Open(ctx context.Context, userID uint64) (*OpenResult, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c != nil {
		switch c.state {
		case stateInitializing:
			e.mu.Unlock()
			return &OpenResult{Pending: true, Cached: e.cache.Load(ctx, userID)}, nil
		case stateReady:
			w := c.window
			e.mu.Unlock()
			return &OpenResult{Messages: w.Displayed(), HasMore: w.HasMore()}, nil
		}
	}
	c = &conversation{
		state:  stateInitializing,
		kind:   session.KindDefault,
		window: window.New(InitialWindow, e.throttle),
	}
	e.convs[userID] = c
	e.mu.Unlock()

	cached := e.cache.Load(ctx, userID)

	var (
		full    []message.Message
		docID   string
		greeted bool
	)
	doc, exists, err := e.repo.Fetch(ctx, userID)
	if err != nil {
		// degrade to "no session": the user still gets a greeting and
		// local writes are retried by the queue later
		log.Printf("[engine] fetch session user=%d err=%v", userID, err)
		exists = false
	}
	if exists {
		msgs, derr := doc.DecodeMessages()
		if derr != nil {
			log.Printf("[engine] decode session user=%d doc=%s err=%v", userID, doc.DocID, derr)
		}
		full = message.Dedupe(msgs)
		docID = doc.DocID
	}
	if len(full) == 0 {
		full = []message.Message{message.Greeting(e.greeting)}
		greeted = true
	}
	c.window.Init(full)
	if !greeted {
		e.cache.Save(ctx, userID, full)
	}

	unsub := e.subscribe(userID)

	e.mu.Lock()
	if e.convs[userID] != c {
		// closed while initializing; release the fresh subscription
		e.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return nil, ErrNotOpen
	}
	c.state = stateReady
	c.docID = docID
	c.unsubscribe = unsub
	e.mu.Unlock()

	return &OpenResult{
		Cached:   cached,
		Messages: c.window.Displayed(),
		HasMore:  c.window.HasMore(),
		Greeted:  greeted,
	}, nil
}

// OpenBreakout spawns a breakout session derived from parentDocID and
// makes it the user's active conversation, tearing down the previous
// listener first.
func (e *Engine) OpenBreakout(ctx context.Context, userID uint64, parentDocID string) (*OpenResult, error) {
	if _, ok, err := e.repo.FetchByDocID(ctx, userID, parentDocID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}

	doc, err := e.repo.CreateBreakout(ctx, userID, parentDocID, nil)
	if err != nil {
		return nil, err
	}

	// the conversation is fully built before it is published; every
	// field Close reads is assigned under e.mu
	w := window.New(InitialWindow, e.throttle)
	w.Init([]message.Message{message.Greeting(e.greeting)})
	unsub := e.subscribe(userID)

	e.mu.Lock()
	if prev := e.convs[userID]; prev != nil && prev.unsubscribe != nil {
		prev.unsubscribe()
	}
	c := &conversation{
		state:       stateReady,
		kind:        session.KindBreakout,
		docID:       doc.DocID,
		window:      w,
		unsubscribe: unsub,
	}
	e.convs[userID] = c
	e.mu.Unlock()

	e.queue.Cancel(userID)

	return &OpenResult{
		Messages: c.window.Displayed(),
		Greeted:  true,
	}, nil
}

func (e *Engine) subscribe(userID uint64) func() {
	unsub, err := e.feed.Subscribe(func(ev feed.Event) {
		e.onRemoteChange(userID, ev)
	})
	if err != nil {
		log.Printf("[engine] subscribe user=%d err=%v", userID, err)
		return nil
	}
	return unsub
}

type TurnResult struct {
	User      message.Message
	Assistant message.Message
	Messages  []message.Message
}

// Send appends the user's message optimistically, asks the producer for
// the assistant reply (streamed into the log when supported), and
// schedules debounced persistence. The remote listener is suppressed
// for the duration of the turn.
func (e *Engine) Send(ctx context.Context, userID uint64, content string) (*TurnResult, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady {
		e.mu.Unlock()
		return nil, ErrNotOpen
	}
	if c.turnActive {
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	c.turnActive = true
	tgt := c.target()
	e.mu.Unlock()
	defer e.endTurn(c)

	userMsg := message.New(message.RoleUser, content)
	c.window.Append(userMsg)
	// the user message is worth persisting even if the reply takes
	// longer than a debounce cycle
	e.queue.Schedule(userID, tgt, c.window.Full())

	asst := message.New(message.RoleAssistant, "")
	c.window.Append(asst)

	history := message.Tail(c.window.Full(), e.ctxWin)
	// the assistant placeholder itself is not part of the prompt
	history = history[:len(history)-1]

	reply, err := e.produce(ctx, c.window, history, asst.ID)
	c.window.Update(asst.ID, func(m *message.Message) {
		m.Content = reply
		m.IsError = err != nil
	})
	if err != nil {
		log.Printf("[engine] produce reply user=%d msg=%s err=%v", userID, asst.ID, err)
	}

	e.queue.Schedule(userID, tgt, c.window.Full())

	final, _ := c.window.Get(asst.ID)
	return &TurnResult{
		User:      userMsg,
		Assistant: final,
		Messages:  c.window.Displayed(),
	}, nil
}

// produce runs the content producer, streaming chunks into the message
// in place when the backend supports it.
func (e *Engine) produce(ctx context.Context, w *window.Window, history []message.Message, msgID string) (string, error) {
	if sp, ok := e.prod.(producer.StreamProducer); ok {
		chunks, errs := sp.StreamReply(ctx, history)
		var out string
		for ch := range chunks {
			out += ch
			partial := out
			w.Update(msgID, func(m *message.Message) { m.Content = partial })
		}
		if err := <-errs; err != nil {
			return out, err
		}
		return out, nil
	}
	return e.prod.Reply(ctx, history)
}

func (e *Engine) endTurn(c *conversation) {
	e.mu.Lock()
	c.turnActive = false
	e.mu.Unlock()
}

// Retry regenerates content for one failed assistant turn, preserving
// its id and position.
func (e *Engine) Retry(ctx context.Context, userID uint64, messageID string) (*TurnResult, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady {
		e.mu.Unlock()
		return nil, ErrNotOpen
	}
	if c.turnActive {
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	target, ok := c.window.Get(messageID)
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if target.Role != message.RoleAssistant || !target.IsError {
		e.mu.Unlock()
		return nil, ErrNotRetryable
	}
	c.turnActive = true
	tgt := c.target()
	e.mu.Unlock()
	defer e.endTurn(c)

	// prompt from the history strictly before the failed turn
	full := c.window.Full()
	var history []message.Message
	for i := range full {
		if full[i].ID == messageID {
			history = message.Tail(full[:i], e.ctxWin)
			break
		}
	}

	reply, err := e.produce(ctx, c.window, history, messageID)
	c.window.Update(messageID, func(m *message.Message) {
		m.Content = reply
		m.IsError = err != nil
	})
	if err != nil {
		log.Printf("[engine] retry produce user=%d msg=%s err=%v", userID, messageID, err)
	}

	// in-place edit: the write fingerprint cannot see it
	e.queue.Invalidate(userID)
	e.queue.Schedule(userID, tgt, c.window.Full())

	final, _ := c.window.Get(messageID)
	return &TurnResult{Assistant: final, Messages: c.window.Displayed()}, nil
}

// RewriteMarker flips one marker occurrence inside a message (e.g. a
// suggestion's accepted/rejected state) and schedules persistence. All
// other content bytes are left untouched.
func (e *Engine) RewriteMarker(userID uint64, messageID string, occurrence int, key, value string) (message.Message, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady {
		e.mu.Unlock()
		return message.Message{}, ErrNotOpen
	}
	tgt := c.target()
	e.mu.Unlock()

	rewritten := false
	found := c.window.Update(messageID, func(m *message.Message) {
		if out, ok := message.RewriteMarkerField(m.Content, occurrence, key, value); ok {
			m.Content = out
			rewritten = true
		}
	})
	if !found {
		return message.Message{}, ErrNotFound
	}
	if !rewritten {
		return message.Message{}, ErrNoMarker
	}

	// in-place edit: the write fingerprint cannot see it
	e.queue.Invalidate(userID)
	e.queue.Schedule(userID, tgt, c.window.Full())
	m, _ := c.window.Get(messageID)
	return m, nil
}

func (e *Engine) LoadMore(userID uint64) ([]message.Message, bool, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady {
		e.mu.Unlock()
		return nil, false, ErrNotOpen
	}
	e.mu.Unlock()
	msgs, ok := c.window.LoadMore(PageSize)
	if !ok {
		return c.window.Displayed(), false, nil
	}
	return msgs, true, nil
}

func (e *Engine) Displayed(userID uint64) ([]message.Message, bool, error) {
	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady {
		e.mu.Unlock()
		return nil, false, ErrNotOpen
	}
	e.mu.Unlock()
	return c.window.Displayed(), c.window.HasMore(), nil
}

// onRemoteChange is the reconciliation listener: remote snapshots merge
// into local state unless a local turn is in flight, in which case local
// state stays authoritative until the turn completes.
func (e *Engine) onRemoteChange(userID uint64, ev feed.Event) {
	if ev.UserID != userID {
		return
	}

	e.mu.Lock()
	c := e.convs[userID]
	if c == nil || c.state != stateReady || c.turnActive {
		e.mu.Unlock()
		return
	}
	kind, docID := c.kind, c.docID
	e.mu.Unlock()

	if ev.Kind != string(kind) {
		return
	}
	if kind == session.KindBreakout && ev.DocID != docID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		doc    *session.Document
		exists bool
		err    error
	)
	if kind == session.KindDefault {
		doc, exists, err = e.repo.Fetch(ctx, userID)
	} else {
		doc, exists, err = e.repo.FetchByDocID(ctx, userID, docID)
	}
	if err != nil || !exists {
		if err != nil {
			log.Printf("[engine] reconcile fetch user=%d err=%v", userID, err)
		}
		return
	}

	msgs, err := doc.DecodeMessages()
	if err != nil {
		log.Printf("[engine] reconcile decode user=%d doc=%s err=%v", userID, doc.DocID, err)
		return
	}
	incoming := message.Dedupe(msgs)

	current := c.window.Full()
	if len(incoming) == len(current) && message.LastID(incoming) == message.LastID(current) {
		return
	}

	e.mu.Lock()
	if c.turnActive || c.state != stateReady {
		// a turn started while we were fetching: drop the snapshot
		e.mu.Unlock()
		return
	}
	if c.docID == "" {
		c.docID = doc.DocID
	}
	e.mu.Unlock()

	c.window.Replace(incoming)
}

// Persist routes the queue's coalesced write to the remote store and
// mirrors it into the local cache. The destination was bound when the
// write was scheduled, so a session switch in the meantime cannot leak
// one session's history into another's document.
func (e *Engine) Persist(ctx context.Context, userID uint64, tgt persist.Target, msgs []message.Message) error {
	if tgt.Kind == string(session.KindBreakout) {
		if err := e.repo.SaveDoc(ctx, userID, tgt.DocID, msgs); err != nil {
			return err
		}
	} else {
		doc, err := e.repo.UpsertDefault(ctx, userID, msgs)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if c := e.convs[userID]; c != nil && c.kind == session.KindDefault && c.docID == "" {
			c.docID = doc.DocID
		}
		e.mu.Unlock()
	}

	e.cache.Save(ctx, userID, msgs)
	return nil
}

// Close tears the user's session down: listener unsubscribed, pending
// debounce dropped, local cache cleared. Used on user switch and logout.
func (e *Engine) Close(ctx context.Context, userID uint64) {
	e.mu.Lock()
	c := e.convs[userID]
	delete(e.convs, userID)
	e.mu.Unlock()

	e.queue.Cancel(userID)
	if c != nil && c.unsubscribe != nil {
		c.unsubscribe()
	}
	e.cache.Clear(ctx, userID)
}

// Reset deletes the user's remote default document and local cache and
// returns the session to the synthesized-greeting state. The queue is
// drained first: a write that slipped past a plain cancel would re-query
// after the delete and recreate the document.
func (e *Engine) Reset(ctx context.Context, userID uint64) (*OpenResult, error) {
	e.queue.Drain(userID)
	e.queue.Invalidate(userID)

	if err := e.repo.DeleteDefault(ctx, userID); err != nil {
		return nil, err
	}
	e.cache.Clear(ctx, userID)

	e.mu.Lock()
	c := e.convs[userID]
	if c != nil {
		c.kind = session.KindDefault
		c.docID = ""
		c.turnActive = false
	}
	e.mu.Unlock()

	if c == nil {
		return &OpenResult{Greeted: true}, nil
	}

	c.window.Reset()
	c.window.Init([]message.Message{message.Greeting(e.greeting)})
	return &OpenResult{
		Messages: c.window.Displayed(),
		Greeted:  true,
	}, nil
}

// Shutdown flushes pending writes and drops every listener. Unlike
// Close it leaves local caches in place: a restart is not a logout.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	convs := e.convs
	e.convs = make(map[uint64]*conversation)
	e.mu.Unlock()

	for id, c := range convs {
		e.queue.Flush(id)
		e.queue.Cancel(id)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	}
}
