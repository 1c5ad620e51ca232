package intercept

import (
	"time"
)

type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	if d == DirectionResponse {
		return "response"
	}
	return "request"
}

type State int

const (
	StateUnknown State = iota
	StatePending
	StateEditing
	StateReleased
	StateDropped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEditing:
		return "editing"
	case StateReleased:
		return "released"
	case StateDropped:
		return "dropped"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateDropped
}

// Exchange is a snapshot of one intercepted message.
// Content holds the raw HTTP/1.1 message, headers and body.
type Exchange struct {
	ID        int
	Direction Direction
	Host      string
	Method    string
	URL       string
	Content   []byte
	State     State
	Created   time.Time
}

// Outcome is delivered exactly once to the network task waiting on an exchange.
type Outcome struct {
	State   State
	Content []byte
	// Err says why an exchange was dropped, or that a timeout resolved it.
	Err error
}

// Ticket is held by the network task that enqueued an exchange.
type Ticket struct {
	ID      int
	outcome chan Outcome
}

// C delivers the outcome. It is buffered, the queue never blocks on it.
func (t *Ticket) C() <-chan Outcome {
	return t.outcome
}
