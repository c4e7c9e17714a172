package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vizlive/app/config"
	"vizlive/app/viz"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

//go:embed narration_prompt.txt
var narrationPromptTemplate string

const (
	audioChunkSize = 32 * 1024
	// Offset assigned to the n-th word of the narration. Approximates a
	// natural speech cadence; real timestamps are not available from the
	// synthesis endpoint.
	wordIntervalMs = 320
)

// EventSink receives narration events in production order. The session
// manager implements it on top of the websocket connection.
type EventSink interface {
	TextChunk(text string) error
	Word(word string, offsetMs int64) error
	AudioHeader(contentType string, totalSize int64) error
	AudioChunk(data []byte) error
}

type Request struct {
	Topic     string
	Doubt     string
	WithAudio bool
}

type Result struct {
	Narration  string
	Highlights []string
}

// Service produces the narration for a topic or doubt: a streamed text
// explanation with estimated word timings, optionally followed by
// synthesized speech audio.
type Service struct {
	cfg *config.Config
	llm *lcopenai.LLM
	tts *openai.Client
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	llm, err := lcopenai.New(
		lcopenai.WithToken(cfg.OpenAI.Token),
		lcopenai.WithBaseURL(cfg.OpenAI.BaseURL),
		lcopenai.WithModel(cfg.OpenAI.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	ttsConfig := openai.DefaultConfig(cfg.OpenAI.Token)
	ttsConfig.BaseURL = cfg.OpenAI.BaseURL
	ttsConfig.HTTPClient = &http.Client{
		Timeout: 2 * time.Minute,
	}

	return &Service{
		cfg: cfg,
		llm: llm,
		tts: openai.NewClientWithConfig(ttsConfig),
	}, nil
}

func (s *Service) Narrate(ctx context.Context, req Request, graph *viz.Graph, sink EventSink) (Result, error) {
	prompt := buildPrompt(req, graph)
	tracker := newWordTracker(sink)

	_, err := s.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if err := sink.TextChunk(string(chunk)); err != nil {
				return err
			}

			return tracker.feed(string(chunk))
		}),
	)
	if err != nil {
		return Result{}, fmt.Errorf("narration generation failed: %w", err)
	}

	if err = tracker.flush(); err != nil {
		return Result{}, err
	}

	narration := tracker.text()

	if req.WithAudio && narration != "" {
		if err = s.synthesize(ctx, narration, sink); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Narration:  narration,
		Highlights: highlights(graph, narration),
	}, nil
}

func (s *Service) synthesize(ctx context.Context, text string, sink EventSink) error {
	resp, err := s.tts.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.OpenAI.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.OpenAI.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	// Total size is unknown until the stream ends.
	if err = sink.AudioHeader("audio/mpeg", 0); err != nil {
		return err
	}

	buffer := make([]byte, audioChunkSize)

	for {
		n, err := resp.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			if sinkErr := sink.AudioChunk(chunk); sinkErr != nil {
				return sinkErr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("failed to read synthesized audio: %w", err)
		}
	}
}

func buildPrompt(req Request, graph *viz.Graph) string {
	graphJSON := "{}"
	if graph != nil {
		if data, err := json.Marshal(graph); err == nil {
			graphJSON = string(data)
		}
	}

	templateValues := map[string]string{
		"topic": req.Topic,
		"doubt": req.Doubt,
		"graph": graphJSON,
	}

	prompt := narrationPromptTemplate
	for key, value := range templateValues {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", value)
	}

	return prompt
}

// highlights collects ids of graph nodes mentioned by name in the narration,
// so the frontend can emphasize them while the narration plays.
func highlights(graph *viz.Graph, narration string) []string {
	if graph == nil {
		return nil
	}

	lower := strings.ToLower(narration)

	mentioned := pie.Filter(graph.Nodes, func(node viz.Node) bool {
		return node.Name != "" && strings.Contains(lower, strings.ToLower(node.Name))
	})

	return pie.Map(mentioned, func(node viz.Node) string {
		return node.ID
	})
}
