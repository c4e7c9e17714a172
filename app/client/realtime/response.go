package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"vizlive/app/protocol"
)

// Progress callback cadence in chunks, to bound callback volume.
const progressInterval = 5

var ErrUnsupportedChunk = errors.New("unsupported audio chunk encoding")

// AudioBlob is the assembled audio artifact of one request: every received
// chunk concatenated in arrival order.
type AudioBlob struct {
	Bytes       []byte
	ContentType string
	Size        int64
}

// FinalResponse is handed to the completion callback when the server signals
// end of stream. Audio is nil when no audio chunks arrived.
type FinalResponse struct {
	Narration  string
	Words      []protocol.Word
	Highlights []string
	AudioURL   string
	Audio      *AudioBlob
}

// accumulator collects the streamed events of one in-flight request.
type accumulator struct {
	text        []byte
	words       []protocol.Word
	chunks      [][]byte
	contentType string
	totalSize   int64
	received    int64
	chunkCount  int
}

func (a *accumulator) addText(text string) {
	a.text = append(a.text, text...)
}

func (a *accumulator) addWord(word protocol.Word) {
	a.words = append(a.words, word)
}

func (a *accumulator) resetAudio(header protocol.AudioHeader) {
	a.chunks = nil
	a.contentType = header.ContentType
	a.totalSize = header.TotalSize
	a.received = 0
	a.chunkCount = 0
}

// addChunk appends one normalized chunk and reports whether a progress
// callback is due.
func (a *accumulator) addChunk(data []byte) (received int64, notify bool) {
	a.chunks = append(a.chunks, data)
	a.received += int64(len(data))
	a.chunkCount++

	return a.received, a.chunkCount%progressInterval == 0
}

func (a *accumulator) blob() *AudioBlob {
	if len(a.chunks) == 0 {
		return nil
	}

	assembled := make([]byte, 0, a.received)
	for _, chunk := range a.chunks {
		assembled = append(assembled, chunk...)
	}

	return &AudioBlob{
		Bytes:       assembled,
		ContentType: a.contentType,
		Size:        int64(len(assembled)),
	}
}

func (a *accumulator) finalize(end protocol.EndEvent) FinalResponse {
	narration := end.Narration
	if narration == "" {
		narration = string(a.text)
	}

	return FinalResponse{
		Narration:  narration,
		Words:      a.words,
		Highlights: end.Highlights,
		AudioURL:   end.AudioURL,
		Audio:      a.blob(),
	}
}

// decodeChunkPayload normalizes the JSON encodings an audio_chunk event may
// carry: a base64 string, a plain byte-value array, or a serialized buffer
// object ({"type":"Buffer","data":[...]}). Raw binary frames bypass this
// path entirely.
func decodeChunkPayload(data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedChunk)
	}

	switch data[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedChunk, err)
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrUnsupportedChunk, err)
		}

		return decoded, nil

	case '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedChunk, err)
		}

		return bytesFromValues(values)

	case '{':
		var buffer struct {
			Data []int `json:"data"`
		}
		if err := json.Unmarshal(data, &buffer); err != nil || buffer.Data == nil {
			return nil, fmt.Errorf("%w: not a serialized buffer", ErrUnsupportedChunk)
		}

		return bytesFromValues(buffer.Data)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChunk, data[0])
	}
}

func bytesFromValues(values []int) ([]byte, error) {
	result := make([]byte, len(values))

	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte value %d out of range", ErrUnsupportedChunk, v)
		}

		result[i] = byte(v)
	}

	return result, nil
}
