package protocol

import (
	"encoding/json"
	"fmt"
)

type EventType string

// Client to server.
const (
	EventStartRealtime EventType = "start_realtime"
	EventText          EventType = "text"
	EventEnd           EventType = "end"
)

// Server to client. EventEnd is reused as the terminal server event.
// Audio chunk bytes normally travel as raw binary websocket frames after
// EventAudioHeader; EventAudioChunk exists for clients and servers that
// tunnel chunks through JSON instead.
const (
	EventStatus      EventType = "status"
	EventTextChunk   EventType = "text_chunk"
	EventWord        EventType = "word"
	EventAudioHeader EventType = "audio_header"
	EventAudioChunk  EventType = "audio_chunk"
	EventError       EventType = "error"
)

type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type StartRealtime struct {
	ConnectionID string `json:"connection_id"`
}

type TextRequest struct {
	Topic             string          `json:"topic"`
	Doubt             string          `json:"doubt,omitempty"`
	CurrentState      json.RawMessage `json:"current_state,omitempty"`
	CurrentTime       float64         `json:"current_time,omitempty"`
	UseStreamingAudio bool            `json:"use_streaming_audio"`
}

type Status struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type Word struct {
	Word     string `json:"word"`
	OffsetMs int64  `json:"offset_ms"`
}

type AudioHeader struct {
	ContentType string `json:"content_type"`
	TotalSize   int64  `json:"total_size,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type EndEvent struct {
	Narration  string   `json:"narration,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
	AudioURL   string   `json:"audio_url,omitempty"`
}

func Encode(eventType EventType, data any) ([]byte, error) {
	var (
		raw json.RawMessage
		err error
	)

	if data != nil {
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
	}

	result, err := json.Marshal(Envelope{
		Type: eventType,
		Data: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}

	return result, nil
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope

	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse event envelope: %w", err)
	}

	if env.Type == "" {
		return Envelope{}, fmt.Errorf("event envelope has no type")
	}

	return env, nil
}
