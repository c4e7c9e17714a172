package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"vizlive/app/client/generator"
	"vizlive/app/config"
	"vizlive/app/service/vizstore"
	"vizlive/app/viz"

	"github.com/samber/do"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrGenerationFailed covers non-zero generator exits and timeouts.
	ErrGenerationFailed = errors.New("visualization generation failed")
	// ErrParseFailed covers empty, malformed or invalid generator output.
	ErrParseFailed = errors.New("generator produced invalid graph data")
	// ErrExecutionFailed covers a generator that could not be spawned at all.
	ErrExecutionFailed = errors.New("generator could not be executed")
)

// Runner abstracts the external generator process.
type Runner interface {
	Generate(ctx context.Context, topic string, doubt *generator.DoubtPayload) ([]byte, error)
}

// Service resolves topics into visualization graphs. Cache hits are served
// directly; misses go through a singleflight group so that concurrent
// requests for the same uncached topic share one generator invocation.
type Service struct {
	appCtx  context.Context
	timeout time.Duration
	runner  Runner
	store   *vizstore.Service
	flights singleflight.Group
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return &Service{
		appCtx:  do.MustInvoke[context.Context](di),
		timeout: cfg.Generator.Timeout(),
		runner:  do.MustInvoke[*generator.Client](di),
		store:   do.MustInvoke[*vizstore.Service](di),
	}, nil
}

// Resolve returns the graph for a topic, generating and caching it on a
// miss. The doubt payload, when present, is forwarded to the generator but
// does not influence the cache key. A caller whose context is cancelled
// detaches from the in-flight generation without aborting it for other
// subscribers.
func (s *Service) Resolve(ctx context.Context, topic string, doubt *generator.DoubtPayload) (*viz.Graph, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must not be empty", ErrGenerationFailed)
	}

	if graph, ok := s.store.Get(topic); ok {
		return graph, nil
	}

	resultChan := s.flights.DoChan(topic, func() (any, error) {
		return s.generate(topic, doubt)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.Err != nil {
			return nil, result.Err
		}

		return result.Val.(*viz.Graph), nil
	}
}

func (s *Service) generate(topic string, doubt *generator.DoubtPayload) (*viz.Graph, error) {
	// A flight can start just after another flight for the same topic cached
	// its result and left the singleflight group. Re-checking under the
	// flight keeps a cached topic from ever reaching the generator again.
	if graph, ok := s.store.Get(topic); ok {
		return graph, nil
	}

	// Tied to the application context, not the first subscriber's: a
	// departing subscriber must not kill the flight for the others.
	ctx, cancel := context.WithTimeout(s.appCtx, s.timeout)
	defer cancel()

	start := time.Now()

	output, err := s.runner.Generate(ctx, topic, doubt)
	if err != nil {
		return nil, classify(err)
	}

	graph, err := parseGraph(output)
	if err != nil {
		return nil, err
	}

	s.store.Put(topic, graph)

	slog.Info("Generated visualization",
		"topic", topic,
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges),
		"duration", time.Since(start))

	return graph, nil
}

func parseGraph(output []byte) (*viz.Graph, error) {
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrParseFailed)
	}

	var graph viz.Graph
	if err := json.Unmarshal(output, &graph); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	return &graph, nil
}

func classify(err error) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}
