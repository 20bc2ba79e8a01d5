package devserver

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/malivvan/hellowebview/bridge"
	"github.com/malivvan/hellowebview/internal/dispatch"
)

// frame is the websocket envelope in both directions.
type frame struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Script  string          `json:"script,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    string          `json:"data,omitempty"`
	Visible *bool           `json:"visible,omitempty"`
}

const (
	frameEval       = "eval"
	frameResult     = "result"
	frameMessage    = "message"
	frameVisibility = "visibility"
	frameReload     = "reload"
)

// session is one browser tab. Its owner goroutine serialises everything
// touching the bridge, standing in for the page's event loop.
type session struct {
	bridge.Lifecycle

	conn    *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger
	queue   *dispatch.Queue
	bridge  *bridge.Bridge

	// owner goroutine only
	nextEval uint64
	pending  map[uint64]func(any, error)
}

func newSession(conn *websocket.Conn, log zerolog.Logger) *session {
	return &session{
		conn:    conn,
		log:     log,
		queue:   dispatch.NewQueue(),
		pending: make(map[uint64]func(any, error)),
	}
}

func (s *session) Dispatch(fn func()) {
	if !s.queue.Push(fn) {
		s.log.Debug().Msg("session closed, dispatch dropped")
	}
}

func (s *session) EvaluateJavascript(script string, done func(any, error)) {
	s.nextEval++
	id := s.nextEval
	if done != nil {
		s.pending[id] = done
	}
	if err := s.write(frame{Type: frameEval, ID: id, Script: script}); err != nil {
		delete(s.pending, id)
		if done != nil {
			done(nil, &bridge.EvaluationError{Kind: bridge.EvaluationFailed, Message: err.Error()})
		}
	}
}

func (s *session) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

// run serves the session until the connection closes.
func (s *session) run() {
	owner := make(chan struct{})
	go func() {
		defer close(owner)
		s.queue.Loop(func(r any) {
			s.log.Error().Interface("panic", r).Msg("panic on session goroutine")
		})
	}()

	s.read()

	s.Dispatch(s.shutdown)
	s.queue.Close()
	<-owner
}

func (s *session) read() {
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		s.Dispatch(func() { s.handle(f) })
	}
}

func (s *session) handle(f frame) {
	switch f.Type {
	case frameMessage:
		if err := s.bridge.HandleMessage([]byte(f.Data)); err != nil {
			s.log.Warn().Err(err).Msg("invalid bridge message")
		}
	case frameVisibility:
		if f.Visible != nil {
			s.SetVisible(*f.Visible)
		}
	case frameResult:
		done, ok := s.pending[f.ID]
		if !ok {
			return
		}
		delete(s.pending, f.ID)
		done(decodeResult(f))
	default:
		s.log.Debug().Str("type", f.Type).Msg("unknown frame")
	}
}

func decodeResult(f frame) (any, error) {
	switch f.Kind {
	case "":
	case "unsupported":
		return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: f.Error}
	case "exception":
		return nil, &bridge.EvaluationError{Kind: bridge.JavascriptException, Message: f.Error}
	default:
		return nil, &bridge.EvaluationError{Kind: bridge.EvaluationFailed, Message: f.Error}
	}
	var value any
	if err := json.Unmarshal(f.Value, &value); err != nil {
		return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: err.Error()}
	}
	return value, nil
}

func (s *session) shutdown() {
	for id, done := range s.pending {
		delete(s.pending, id)
		done(nil, &bridge.EvaluationError{Kind: bridge.EvaluationCanceled, Message: "connection closed"})
	}
	s.Destroy()
}
