// Package remote serves the operator console over a websocket, and pushes
// newly intercepted exchanges to every connected operator.
package remote

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
	"github.com/Windscribe/goproxy-intercept/intercept"
)

const (
	TypeCommand     = "command"
	TypeOutput      = "output"
	TypeError       = "error"
	TypeIntercepted = "intercepted"
)

// Message is one websocket frame in either direction. ID correlates a
// command with its output, and is the exchange id on intercepted pushes.
type Message struct {
	Type      string `json:"type"`
	ID        int    `json:"id,omitempty"`
	Data      string `json:"data,omitempty"`
	Direction string `json:"direction,omitempty"`
}

const (
	writeWait = 10 * time.Second
	maxLine   = 64 << 10
	// commands read while another one runs
	maxQueued = 32
)

type Server struct {
	console  *console.Console
	queue    *intercept.Queue
	token    string
	logger   goproxy.Logger
	upgrader websocket.Upgrader
	pongWait time.Duration
}

// New returns a server running lines on c. An empty token disables authentication.
func New(c *console.Console, q *intercept.Queue, token string, logger goproxy.Logger) *Server {
	if logger == nil {
		logger = goproxy.NopLogger{}
	}
	return &Server{
		console:  c,
		queue:    q,
		token:    token,
		logger:   logger,
		pongWait: 60 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler routes /console to the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/console", s)
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		got = bearer
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warnf(0, "Rejecting remote console from %s", r.RemoteAddr)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf(0, "Cannot upgrade remote console: %v", err)
		return
	}
	s.logger.Infof(0, "Remote console connected from %s", r.RemoteAddr)
	s.serve(r.Context(), conn)
	s.logger.Infof(0, "Remote console %s disconnected", r.RemoteAddr)
}

// session owns the write side of one connection. gorilla/websocket allows a
// single concurrent writer.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (ss *session) send(m Message) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ss.conn.WriteJSON(m)
}

func (ss *session) ping() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// serve reads frames on its own goroutine so pongs keep the read deadline
// moving while a command runs, and executes commands one at a time.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	ss := &session{conn: conn}
	conn.SetReadLimit(maxLine)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	if s.queue != nil {
		exchanges, unsubscribe, err := s.queue.Subscribe(16)
		if err == nil {
			defer unsubscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.push(ctx, ss, exchanges)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ss.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	commands := make(chan Message, maxQueued)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.read(ss, commands)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-commands:
			if !s.execute(ctx, ss, m) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(writeWait))
				return
			}
		}
	}
}

// read queues command frames until the connection fails. It never blocks on
// the command queue, a full queue is answered with an error.
func (s *Server) read(ss *session, commands chan<- Message) {
	for {
		var m Message
		if err := ss.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf(0, "Remote console read: %v", err)
			}
			return
		}
		if m.Type != TypeCommand {
			if err := ss.send(Message{Type: TypeError, ID: m.ID, Data: "unknown message type " + m.Type}); err != nil {
				return
			}
			continue
		}
		select {
		case commands <- m:
		default:
			if err := ss.send(Message{Type: TypeError, ID: m.ID, Data: "too many queued commands"}); err != nil {
				return
			}
		}
	}
}

// execute runs one command and reports whether the session goes on.
func (s *Server) execute(ctx context.Context, ss *session, m Message) bool {
	var out bytes.Buffer
	err := s.console.Submit(ctx, &out, m.Data)
	if out.Len() > 0 {
		if werr := ss.send(Message{Type: TypeOutput, ID: m.ID, Data: out.String()}); werr != nil {
			return false
		}
	}
	switch {
	case err == nil:
		return true
	case errors.Is(err, console.ErrExit), errors.Is(err, console.ErrClosed):
		return false
	}
	return ss.send(Message{Type: TypeError, ID: m.ID, Data: err.Error()}) == nil
}

func (s *Server) push(ctx context.Context, ss *session, exchanges <-chan intercept.Exchange) {
	for {
		select {
		case <-ctx.Done():
			return
		case x, ok := <-exchanges:
			if !ok {
				return
			}
			m := Message{
				Type:      TypeIntercepted,
				ID:        x.ID,
				Direction: x.Direction.String(),
				Data:      x.Method + " " + x.URL,
			}
			if err := ss.send(m); err != nil {
				return
			}
		}
	}
}
