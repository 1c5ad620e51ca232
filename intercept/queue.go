package intercept

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Windscribe/goproxy-intercept"
)

// Validator checks content before it is released.
type Validator func(content []byte) error

// TimeoutAction is the resolution applied when an exchange waits too long.
type TimeoutAction int

const (
	TimeoutRelease TimeoutAction = iota
	TimeoutDrop
)

// ParseTimeoutAction accepts "release" and "drop".
func ParseTimeoutAction(s string) (TimeoutAction, error) {
	switch s {
	case "release", "forward":
		return TimeoutRelease, nil
	case "drop":
		return TimeoutDrop, nil
	}
	return TimeoutRelease, fmt.Errorf("unknown timeout action %q", s)
}

// Observer is told about queue transitions. It is called from the queue
// goroutine and must return quickly.
type Observer interface {
	ExchangeQueued(x Exchange)
	ExchangeResolved(x Exchange, state State, err error)
}

type entry struct {
	x        Exchange
	validate Validator
	outcome  chan Outcome
	timer    *time.Timer
}

// Queue holds the exchanges waiting for the operator. A single goroutine owns
// the entries, every operation is a message to it.
type Queue struct {
	ops       chan func()
	closing   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	timeout  time.Duration
	action   TimeoutAction
	observer Observer
	logger   goproxy.Logger

	// owned by the loop goroutine
	nextID      int
	entries     map[int]*entry
	order       []int
	resolved    map[int]State
	waiters     map[int][]chan State
	arrivals    []chan Exchange
	subscribers map[chan Exchange]struct{}

	// copy of the pending ids for completion, never blocks readers
	ids atomic.Pointer[[]int]
}

type QueueOption func(*Queue)

// WithTimeout resolves exchanges left pending for d with action.
func WithTimeout(d time.Duration, action TimeoutAction) QueueOption {
	return func(q *Queue) {
		q.timeout = d
		q.action = action
	}
}

func WithObserver(o Observer) QueueOption {
	return func(q *Queue) {
		q.observer = o
	}
}

func WithLogger(l goproxy.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		ops:         make(chan func()),
		closing:     make(chan struct{}),
		closed:      make(chan struct{}),
		logger:      goproxy.NopLogger{},
		entries:     make(map[int]*entry),
		resolved:    make(map[int]State),
		waiters:     make(map[int][]chan State),
		subscribers: make(map[chan Exchange]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ids.Store(&[]int{})
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.closed)
	for {
		select {
		case op := <-q.ops:
			op()
		case <-q.closing:
			for _, id := range append([]int(nil), q.order...) {
				q.resolve(id, StateDropped, nil, ErrQueueClosed)
			}
			for ch := range q.subscribers {
				close(ch)
			}
			return
		}
	}
}

// do runs op on the loop goroutine and waits for it.
func (q *Queue) do(op func()) error {
	done := make(chan struct{})
	select {
	case q.ops <- func() { op(); close(done) }:
	case <-q.closing:
		return ErrQueueClosed
	}
	<-done
	return nil
}

// Close drops every pending exchange with ErrQueueClosed and stops the queue.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closing) })
	<-q.closed
}

// Enqueue parks x as pending. The caller waits on the returned ticket.
func (q *Queue) Enqueue(x Exchange, validate Validator) (*Ticket, error) {
	var t *Ticket
	err := q.do(func() {
		q.nextID++
		x.ID = q.nextID
		x.State = StatePending
		if x.Created.IsZero() {
			x.Created = time.Now()
		}
		e := &entry{x: x, validate: validate, outcome: make(chan Outcome, 1)}
		if q.timeout > 0 {
			id := x.ID
			e.timer = time.AfterFunc(q.timeout, func() { q.expire(id) })
		}
		q.entries[x.ID] = e
		q.order = append(q.order, x.ID)
		q.publishIDs()

		snapshot := e.snapshot()
		for _, ch := range q.arrivals {
			ch <- snapshot
		}
		q.arrivals = nil
		for ch := range q.subscribers {
			select {
			case ch <- snapshot:
			default:
				q.logger.Warnf(0, "Queue subscriber is full, skipping exchange %d", x.ID)
			}
		}
		if q.observer != nil {
			q.observer.ExchangeQueued(snapshot)
		}
		t = &Ticket{ID: x.ID, outcome: e.outcome}
	})
	return t, err
}

func (e *entry) snapshot() Exchange {
	x := e.x
	x.Content = append([]byte(nil), e.x.Content...)
	return x
}

func (q *Queue) publishIDs() {
	ids := append([]int(nil), q.order...)
	q.ids.Store(&ids)
}

// lookup finds a live entry, or explains why there is none.
func (q *Queue) lookup(op string, id int) (*entry, error) {
	if e, ok := q.entries[id]; ok {
		return e, nil
	}
	return nil, &ResolutionError{ID: id, Op: op, State: q.resolved[id]}
}

// resolve moves a live entry to a terminal state and wakes its network task.
func (q *Queue) resolve(id int, state State, content []byte, err error) {
	e := q.entries[id]
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(q.entries, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.resolved[id] = state
	q.publishIDs()

	if content == nil {
		content = e.x.Content
	}
	e.x.State = state
	e.x.Content = content
	e.outcome <- Outcome{State: state, Content: content, Err: err}

	for _, ch := range q.waiters[id] {
		ch <- state
	}
	delete(q.waiters, id)
	if q.observer != nil {
		q.observer.ExchangeResolved(e.snapshot(), state, err)
	}
}

// List returns the live exchanges in arrival order.
func (q *Queue) List() []Exchange {
	var list []Exchange
	_ = q.do(func() {
		list = make([]Exchange, 0, len(q.order))
		for _, id := range q.order {
			list = append(list, q.entries[id].snapshot())
		}
	})
	return list
}

// PendingIDs returns the live ids without waiting for the queue goroutine.
func (q *Queue) PendingIDs() []int {
	return *q.ids.Load()
}

func (q *Queue) Get(id int) (Exchange, error) {
	var (
		x   Exchange
		err error
	)
	if qerr := q.do(func() {
		var e *entry
		if e, err = q.lookup("get", id); err == nil {
			x = e.snapshot()
		}
	}); qerr != nil {
		return x, qerr
	}
	return x, err
}

// BeginEdit marks an exchange as being edited. Its network task stays suspended.
func (q *Queue) BeginEdit(id int) (Exchange, error) {
	var (
		x   Exchange
		err error
	)
	if qerr := q.do(func() {
		var e *entry
		if e, err = q.lookup("edit", id); err == nil {
			e.x.State = StateEditing
			x = e.snapshot()
		}
	}); qerr != nil {
		return x, qerr
	}
	return x, err
}

// Update replaces the content of a live exchange, which is then in the editing state.
func (q *Queue) Update(id int, content []byte) error {
	var err error
	if qerr := q.do(func() {
		var e *entry
		if e, err = q.lookup("update", id); err == nil {
			e.x.State = StateEditing
			e.x.Content = append([]byte(nil), content...)
		}
	}); qerr != nil {
		return qerr
	}
	return err
}

// Release lets an exchange continue with content, or with its current content
// when content is nil. Content the validator rejects drops the exchange and
// ErrMalformedContent is returned.
func (q *Queue) Release(id int, content []byte) error {
	var err error
	if qerr := q.do(func() {
		var e *entry
		if e, err = q.lookup("release", id); err != nil {
			return
		}
		err = q.release(e, content, nil)
	}); qerr != nil {
		return qerr
	}
	return err
}

func (q *Queue) release(e *entry, content []byte, annotation error) error {
	if content == nil {
		content = e.x.Content
	} else {
		content = append([]byte(nil), content...)
	}
	if e.validate != nil {
		if verr := e.validate(content); verr != nil {
			err := fmt.Errorf("%w: %v", ErrMalformedContent, verr)
			q.logger.Warnf(0, "Dropping exchange %d: %v", e.x.ID, err)
			q.resolve(e.x.ID, StateDropped, content, err)
			return err
		}
	}
	q.resolve(e.x.ID, StateReleased, content, annotation)
	return nil
}

// Drop terminates an exchange. reason is handed to the network task, ErrDropped when nil.
func (q *Queue) Drop(id int, reason error) error {
	if reason == nil {
		reason = ErrDropped
	}
	var err error
	if qerr := q.do(func() {
		if _, err = q.lookup("drop", id); err == nil {
			q.resolve(id, StateDropped, nil, reason)
		}
	}); qerr != nil {
		return qerr
	}
	return err
}

func (q *Queue) expire(id int) {
	_ = q.do(func() {
		e, ok := q.entries[id]
		if !ok {
			return
		}
		q.logger.Infof(0, "Exchange %d timed out", id)
		if q.action == TimeoutDrop {
			q.resolve(id, StateDropped, nil, ErrTimeout)
			return
		}
		_ = q.release(e, nil, ErrTimeout)
	})
}

// Await blocks until the exchange reaches a terminal state, which is returned.
func (q *Queue) Await(ctx context.Context, id int) (State, error) {
	var (
		state State
		err   error
		ch    = make(chan State, 1)
	)
	if qerr := q.do(func() {
		if s, ok := q.resolved[id]; ok {
			state = s
			return
		}
		if _, ok := q.entries[id]; !ok {
			err = &ResolutionError{ID: id, Op: "wait", State: StateUnknown}
			return
		}
		q.waiters[id] = append(q.waiters[id], ch)
	}); qerr != nil {
		return StateUnknown, qerr
	}
	if err != nil || state != StateUnknown {
		return state, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return StateUnknown, ctx.Err()
	case <-q.closed:
		return StateDropped, nil
	}
}

// Next blocks until an exchange is enqueued after the call and returns it.
func (q *Queue) Next(ctx context.Context) (Exchange, error) {
	ch := make(chan Exchange, 1)
	if err := q.do(func() { q.arrivals = append(q.arrivals, ch) }); err != nil {
		return Exchange{}, err
	}
	select {
	case x := <-ch:
		return x, nil
	case <-ctx.Done():
		return Exchange{}, ctx.Err()
	case <-q.closed:
		return Exchange{}, ErrQueueClosed
	}
}

// Subscribe delivers every new exchange until cancel is called or the queue
// closes. A subscriber that falls behind misses exchanges.
func (q *Queue) Subscribe(buffer int) (<-chan Exchange, func(), error) {
	ch := make(chan Exchange, buffer)
	if err := q.do(func() { q.subscribers[ch] = struct{}{} }); err != nil {
		return nil, nil, err
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = q.do(func() {
				if _, ok := q.subscribers[ch]; ok {
					delete(q.subscribers, ch)
					close(ch)
				}
			})
		})
	}
	return ch, cancel, nil
}
