package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"vizlive/app/client/generator"
	"vizlive/app/protocol"
	"vizlive/app/service/narrator"
	"vizlive/app/viz"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle               State = "idle"
	StateAwaitingGeneration State = "awaiting_generation"
	StateStreaming          State = "streaming"
	StateCompleted          State = "completed"
	StateErrored            State = "errored"
)

// Conn is the transport half of a session. Text frames carry JSON event
// envelopes; binary frames carry raw audio chunk bytes.
type Conn interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
}

// Session is the per-connection state machine. It accepts narration
// requests, resolves visualization context through the gateway, and streams
// text chunks, word timings and audio chunks back in production order.
// All writes to the connection are serialized behind one mutex, including
// the binary audio frames, so delivery order equals emission order.
type Session struct {
	id  string
	svc *Service

	conn    Conn
	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu           sync.Mutex
	state        State
	connectionID string
}

func (s *Service) NewSession(conn Conn) *Session {
	ctx, cancel := context.WithCancel(s.appCtx)

	return &Session{
		id:     uuid.NewString(),
		svc:    s,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Dispatch handles one decoded client event. It returns false once the
// client has requested graceful termination.
func (s *Session) Dispatch(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.EventStartRealtime:
		s.handleStart(env.Data)
	case protocol.EventText:
		s.handleText(env.Data)
	case protocol.EventEnd:
		s.Close()
		return false
	default:
		slog.Debug("Ignoring unknown client event", "session", s.id, "type", env.Type)
	}

	return true
}

// Close tears the session down: pending work is detached via context
// cancellation and late results are discarded. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		slog.Debug("Session closed", "session", s.id)
	})
}

func (s *Session) handleStart(data json.RawMessage) {
	var start protocol.StartRealtime
	if len(data) > 0 {
		if err := json.Unmarshal(data, &start); err != nil {
			s.sendEvent(protocol.EventError, protocol.ErrorEvent{Message: "malformed start_realtime payload"})
			return
		}
	}

	s.mu.Lock()
	s.connectionID = start.ConnectionID
	s.mu.Unlock()

	s.sendEvent(protocol.EventStatus, protocol.Status{Message: "ready", Details: s.id})
}

func (s *Session) handleText(data json.RawMessage) {
	var req protocol.TextRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendEvent(protocol.EventError, protocol.ErrorEvent{Message: "malformed text payload"})
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateErrored:
		// Terminal: no further content events for this session.
		s.mu.Unlock()
		return
	case StateAwaitingGeneration, StateStreaming:
		s.mu.Unlock()
		s.sendEvent(protocol.EventStatus, protocol.Status{Message: "request already in progress"})
		return
	default:
	}
	s.state = StateAwaitingGeneration
	s.mu.Unlock()

	go s.run(req)
}

func (s *Session) run(req protocol.TextRequest) {
	var graph *viz.Graph

	if req.Topic != "" {
		var doubt *generator.DoubtPayload
		if req.Doubt != "" {
			doubt = &generator.DoubtPayload{
				Topic:        req.Topic,
				Doubt:        req.Doubt,
				CurrentState: req.CurrentState,
				CurrentTime:  req.CurrentTime,
			}
		}

		resolved, err := s.svc.resolver.Resolve(s.ctx, req.Topic, doubt)
		if err != nil {
			s.fail(err)
			return
		}

		graph = resolved
	}

	s.setState(StateStreaming)

	result, err := s.svc.narratorSvc.Narrate(s.ctx, narrator.Request{
		Topic:     req.Topic,
		Doubt:     req.Doubt,
		WithAudio: req.UseStreamingAudio,
	}, graph, s)
	if err != nil {
		s.fail(err)
		return
	}

	s.setState(StateCompleted)
	s.sendEvent(protocol.EventEnd, protocol.EndEvent{
		Narration:  result.Narration,
		Highlights: result.Highlights,
	})
}

// fail converts any per-request failure into a single error event. Partial
// output already streamed stays with the client.
func (s *Session) fail(err error) {
	if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		slog.Debug("Session request abandoned", "session", s.id, "error", err)
		return
	}

	slog.Error("Session request failed", "session", s.id, "error", err)

	s.setState(StateErrored)
	s.sendEvent(protocol.EventError, protocol.ErrorEvent{Message: err.Error()})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) sendEvent(eventType protocol.EventType, payload any) {
	if s.ctx.Err() != nil {
		return
	}

	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		slog.Error("Failed to encode event", "session", s.id, "type", eventType, "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.conn.WriteText(data); err != nil {
		slog.Debug("Session write failed", "session", s.id, "error", err)
		s.Close()
	}
}

// narrator.EventSink implementation. Sink errors abort the producer, so a
// torn-down connection stops the narration instead of streaming into void.

func (s *Session) TextChunk(text string) error {
	return s.sinkEvent(protocol.EventTextChunk, text)
}

func (s *Session) Word(word string, offsetMs int64) error {
	return s.sinkEvent(protocol.EventWord, protocol.Word{Word: word, OffsetMs: offsetMs})
}

func (s *Session) AudioHeader(contentType string, totalSize int64) error {
	return s.sinkEvent(protocol.EventAudioHeader, protocol.AudioHeader{
		ContentType: contentType,
		TotalSize:   totalSize,
	})
}

func (s *Session) AudioChunk(data []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.conn.WriteBinary(data)
}

func (s *Session) sinkEvent(eventType protocol.EventType, payload any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.conn.WriteText(data)
}

var _ narrator.EventSink = (*Session)(nil)
