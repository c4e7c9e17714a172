package realtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vizlive/app/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, eventType protocol.EventType, payload any) protocol.Envelope {
	t.Helper()

	data, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)

	env, err := protocol.Decode(data)
	require.NoError(t, err)

	return env
}

func TestEndToEndEventDispatch(t *testing.T) {
	var (
		textChunks []string
		words      []protocol.Word
		errs       []error
		final      *FinalResponse
	)

	client := New(Options{URL: "ws://localhost/realtime"}, Callbacks{
		OnTextChunk: func(text string) { textChunks = append(textChunks, text) },
		OnWord:      func(word protocol.Word) { words = append(words, word) },
		OnError:     func(err error) { errs = append(errs, err) },
		OnEnd:       func(resp FinalResponse) { final = &resp },
	})

	client.handleEnvelope(envelope(t, protocol.EventTextChunk, "The DBA "))
	client.handleEnvelope(envelope(t, protocol.EventTextChunk, "manages schemas."))
	client.handleEnvelope(envelope(t, protocol.EventWord, protocol.Word{Word: "The", OffsetMs: 0}))
	client.handleEnvelope(envelope(t, protocol.EventAudioHeader, protocol.AudioHeader{ContentType: "audio/mpeg", TotalSize: 4096}))

	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 1024),
		bytes.Repeat([]byte{2}, 1024),
		bytes.Repeat([]byte{3}, 1024),
		bytes.Repeat([]byte{4}, 1024),
	}

	// Mixed wire encodings for the same stream.
	client.handleChunk(chunks[0])
	client.handleEnvelope(envelope(t, protocol.EventAudioChunk, base64.StdEncoding.EncodeToString(chunks[1])))

	intChunk := make([]int, len(chunks[2]))
	for i, b := range chunks[2] {
		intChunk[i] = int(b)
	}
	client.handleEnvelope(envelope(t, protocol.EventAudioChunk, intChunk))
	client.handleChunk(chunks[3])

	client.handleEnvelope(envelope(t, protocol.EventEnd, protocol.EndEvent{
		Narration:  "The DBA manages schemas.",
		Highlights: []string{"dba"},
	}))

	assert.Empty(t, errs)
	assert.Equal(t, []string{"The DBA ", "manages schemas."}, textChunks)
	assert.Len(t, words, 1)

	require.NotNil(t, final)
	require.NotNil(t, final.Audio)
	assert.Equal(t, bytes.Join(chunks, nil), final.Audio.Bytes)
	assert.Equal(t, "audio/mpeg", final.Audio.ContentType)
	assert.Equal(t, int64(4096), final.Audio.Size)
	assert.Equal(t, "The DBA manages schemas.", final.Narration)
	assert.Equal(t, []string{"dba"}, final.Highlights)
}

func TestUnsupportedChunkIsDroppedNotFatal(t *testing.T) {
	var (
		errs  []error
		final *FinalResponse
	)

	client := New(Options{URL: "ws://localhost/realtime"}, Callbacks{
		OnError: func(err error) { errs = append(errs, err) },
		OnEnd:   func(resp FinalResponse) { final = &resp },
	})

	client.handleEnvelope(envelope(t, protocol.EventAudioHeader, protocol.AudioHeader{ContentType: "audio/mpeg"}))
	client.handleChunk([]byte{1, 2})
	client.handleEnvelope(protocol.Envelope{Type: protocol.EventAudioChunk, Data: json.RawMessage("42")})
	client.handleChunk([]byte{3, 4})
	client.handleEnvelope(envelope(t, protocol.EventEnd, protocol.EndEvent{}))

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnsupportedChunk)

	require.NotNil(t, final)
	require.NotNil(t, final.Audio)
	assert.Equal(t, []byte{1, 2, 3, 4}, final.Audio.Bytes)
}

func TestServerErrorReachesCallback(t *testing.T) {
	var errs []error

	client := New(Options{URL: "ws://localhost/realtime"}, Callbacks{
		OnError: func(err error) { errs = append(errs, err) },
	})

	client.handleEnvelope(envelope(t, protocol.EventError, protocol.ErrorEvent{Message: "generation failed"}))

	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "generation failed")
}

func TestDisconnectIsIdempotentAndSafeWhenNeverConnected(t *testing.T) {
	client := New(Options{URL: "ws://localhost/realtime"}, Callbacks{})

	client.Disconnect()
	client.Disconnect()

	assert.ErrorIs(t, client.ProcessRequest(protocol.TextRequest{Topic: "t"}), ErrDisconnected)
}

// newWSServer runs an in-process websocket endpoint that completes the
// start_realtime handshake and then hands the connection to serve.
func newWSServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.Decode(message)
		if err != nil || env.Type != protocol.EventStartRealtime {
			return
		}

		ack, err := protocol.Encode(protocol.EventStatus, protocol.Status{Message: "ready"})
		if err != nil {
			return
		}

		if err = conn.WriteMessage(websocket.TextMessage, ack); err != nil {
			return
		}

		if serve != nil {
			serve(conn)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drain keeps the server side reading until the connection goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectCompletesHandshake(t *testing.T) {
	srv := newWSServer(t, drain)

	client := New(Options{URL: wsURL(srv)}, Callbacks{})

	require.NoError(t, client.Connect(context.Background()))
	// Already connected: a repeat call is a no-op.
	require.NoError(t, client.Connect(context.Background()))

	client.Disconnect()
}

func TestProcessRequestRoundTrip(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.Decode(message)
		if err != nil || env.Type != protocol.EventText {
			return
		}

		var req protocol.TextRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			return
		}

		chunk, _ := protocol.Encode(protocol.EventTextChunk, "All about "+req.Topic)
		if err = conn.WriteMessage(websocket.TextMessage, chunk); err != nil {
			return
		}

		end, _ := protocol.Encode(protocol.EventEnd, protocol.EndEvent{Narration: "All about " + req.Topic})
		if err = conn.WriteMessage(websocket.TextMessage, end); err != nil {
			return
		}

		drain(conn)
	})

	finals := make(chan FinalResponse, 1)
	client := New(Options{URL: wsURL(srv)}, Callbacks{
		OnEnd: func(resp FinalResponse) { finals <- resp },
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.NoError(t, client.ProcessRequest(protocol.TextRequest{Topic: "student_roles"}))

	select {
	case final := <-finals:
		assert.Equal(t, "All about student_roles", final.Narration)
	case <-time.After(2 * time.Second):
		t.Fatal("end event never arrived")
	}
}

func TestConnectFailsAfterBoundedAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := wsURL(srv)
	srv.Close()

	client := New(Options{
		URL:                  deadURL,
		MaxReconnectAttempts: 2,
		ReconnectDelay:       5 * time.Millisecond,
	}, Callbacks{})

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 attempts")
}

func TestTransportLossExhaustionReachesErrorCallback(t *testing.T) {
	served := make(chan struct{})
	srv := newWSServer(t, func(_ *websocket.Conn) {
		close(served)
	})

	errs := make(chan error, 4)
	client := New(Options{
		URL:                  wsURL(srv),
		MaxReconnectAttempts: 2,
		ReconnectDelay:       5 * time.Millisecond,
	}, Callbacks{
		OnError: func(err error) { errs <- err },
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	<-served
	srv.Close()

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "transport lost")
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect exhaustion never surfaced")
	}
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	var handshakes atomic.Int32

	srv := newWSServer(t, func(conn *websocket.Conn) {
		handshakes.Add(1)
		drain(conn)
	})

	client := New(Options{URL: wsURL(srv)}, Callbacks{})
	defer client.Disconnect()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Connect(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), handshakes.Load())
}

func TestOptionDefaults(t *testing.T) {
	client := New(Options{URL: "ws://localhost/realtime"}, Callbacks{})

	assert.Equal(t, defaultReconnectAttempts, client.opts.MaxReconnectAttempts)
	assert.Equal(t, defaultReconnectDelay, client.opts.ReconnectDelay)
	assert.Equal(t, defaultHandshakeTimeout, client.opts.HandshakeTimeout)
}
