package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vizlive/app/protocol"

	"github.com/gorilla/websocket"
)

var ErrDisconnected = errors.New("client is disconnected")

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 2 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

// Options configure the realtime client. Reconnection behavior is explicit
// here rather than inherited from transport-library defaults.
type Options struct {
	// Websocket endpoint, e.g. ws://localhost:8080/realtime
	URL string
	// Connection identifier announced in the start_realtime handshake
	ConnectionID string
	// Bounded dial/reconnect attempts before giving up
	MaxReconnectAttempts int
	// Fixed delay between attempts
	ReconnectDelay time.Duration

	HandshakeTimeout time.Duration
}

// Callbacks deliver streamed results. All callbacks fire from the client's
// read goroutine; nil callbacks are skipped.
type Callbacks struct {
	OnTextChunk func(text string)
	OnWord      func(word protocol.Word)
	OnStatus    func(status protocol.Status)
	OnProgress  func(receivedBytes, totalBytes int64)
	OnError     func(err error)
	OnEnd       func(resp FinalResponse)
}

// Client is the Go counterpart of the browser realtime client: it connects,
// sends narration/doubt requests, and reassembles the streamed text, timing
// and audio events into a FinalResponse.
type Client struct {
	opts Options
	cbs  Callbacks

	// Held across the whole dial+handshake of Connect so concurrent calls
	// cannot open a second transport.
	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	acc    accumulator
}

func New(opts Options, cbs Callbacks) *Client {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Client{
		opts: opts,
		cbs:  cbs,
	}
}

// Connect dials the server and completes the start_realtime handshake.
// It returns once the server acknowledges the session, or with an error
// after the configured number of attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisconnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	if err = c.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrDisconnected
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	return nil
}

// ProcessRequest sends one narration/doubt request. It returns as soon as
// the frame is written; results arrive through the callbacks.
func (c *Client) ProcessRequest(req protocol.TextRequest) error {
	data, err := protocol.Encode(protocol.EventText, req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrDisconnected
	}

	c.acc = accumulator{}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect tears the transport down. Safe to call repeatedly and from any
// state, including never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	var lastErr error

	for attempt := 0; attempt < c.opts.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.ReconnectDelay):
			}
		}

		conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		slog.Debug("Realtime dial failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("connect failed after %d attempts: %w", c.opts.MaxReconnectAttempts, lastErr)
}

func (c *Client) handshake(conn *websocket.Conn) error {
	data, err := protocol.Encode(protocol.EventStartRealtime, protocol.StartRealtime{
		ConnectionID: c.opts.ConnectionID,
	})
	if err != nil {
		return err
	}

	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	_, message, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read failed: %w", err)
	}

	env, err := protocol.Decode(message)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	if env.Type != protocol.EventStatus {
		return fmt.Errorf("handshake failed: unexpected %s event", env.Type)
	}

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportLoss(conn, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleChunk(data)
		case websocket.TextMessage:
			env, decodeErr := protocol.Decode(data)
			if decodeErr != nil {
				c.emitError(decodeErr)
				continue
			}

			c.handleEnvelope(env)
		}
	}
}

// handleTransportLoss reconnects with the configured bounded attempts and
// fixed delay. Exhausting the attempts surfaces through the error callback,
// never a silent hang. A loss caused by Disconnect is not an error.
func (c *Client) handleTransportLoss(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	slog.Debug("Realtime transport lost, reconnecting", "error", cause)

	newConn, err := c.dial(context.Background())
	if err != nil {
		c.emitError(fmt.Errorf("transport lost: %w", cause))
		return
	}

	if err = c.handshake(newConn); err != nil {
		_ = newConn.Close()
		c.emitError(fmt.Errorf("reconnect handshake failed: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = newConn.Close()
		return
	}
	c.conn = newConn
	c.mu.Unlock()

	go c.readLoop(newConn)
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventStatus:
		var status protocol.Status
		if err := json.Unmarshal(env.Data, &status); err != nil {
			c.emitError(err)
			return
		}

		if c.cbs.OnStatus != nil {
			c.cbs.OnStatus(status)
		}

	case protocol.EventTextChunk:
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			c.emitError(err)
			return
		}

		c.mu.Lock()
		c.acc.addText(text)
		c.mu.Unlock()

		if c.cbs.OnTextChunk != nil {
			c.cbs.OnTextChunk(text)
		}

	case protocol.EventWord:
		var word protocol.Word
		if err := json.Unmarshal(env.Data, &word); err != nil {
			c.emitError(err)
			return
		}

		c.mu.Lock()
		c.acc.addWord(word)
		c.mu.Unlock()

		if c.cbs.OnWord != nil {
			c.cbs.OnWord(word)
		}

	case protocol.EventAudioHeader:
		var header protocol.AudioHeader
		if err := json.Unmarshal(env.Data, &header); err != nil {
			c.emitError(err)
			return
		}

		c.mu.Lock()
		c.acc.resetAudio(header)
		c.mu.Unlock()

	case protocol.EventAudioChunk:
		decoded, err := decodeChunkPayload(env.Data)
		if err != nil {
			// Local, non-fatal: drop the chunk, keep the session.
			c.emitError(err)
			return
		}

		c.handleChunk(decoded)

	case protocol.EventError:
		var serverErr protocol.ErrorEvent
		if err := json.Unmarshal(env.Data, &serverErr); err != nil {
			c.emitError(err)
			return
		}

		c.emitError(errors.New(serverErr.Message))

	case protocol.EventEnd:
		var end protocol.EndEvent
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &end); err != nil {
				c.emitError(err)
				return
			}
		}

		c.mu.Lock()
		final := c.acc.finalize(end)
		c.acc = accumulator{}
		c.mu.Unlock()

		if c.cbs.OnEnd != nil {
			c.cbs.OnEnd(final)
		}

	default:
		slog.Debug("Ignoring unknown server event", "type", env.Type)
	}
}

func (c *Client) handleChunk(data []byte) {
	c.mu.Lock()
	received, notify := c.acc.addChunk(data)
	total := c.acc.totalSize
	c.mu.Unlock()

	if notify && c.cbs.OnProgress != nil {
		c.cbs.OnProgress(received, total)
	}
}

func (c *Client) emitError(err error) {
	if c.cbs.OnError != nil {
		c.cbs.OnError(err)
	}
}
