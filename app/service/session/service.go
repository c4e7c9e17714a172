package session

import (
	"context"

	"vizlive/app/client/generator"
	"vizlive/app/service/gateway"
	"vizlive/app/service/narrator"
	"vizlive/app/viz"

	"github.com/samber/do"
)

// Resolver resolves a topic into its visualization graph, generating and
// caching on demand.
type Resolver interface {
	Resolve(ctx context.Context, topic string, doubt *generator.DoubtPayload) (*viz.Graph, error)
}

// Narrator streams narration events for a resolved topic.
type Narrator interface {
	Narrate(ctx context.Context, req narrator.Request, graph *viz.Graph, sink narrator.EventSink) (narrator.Result, error)
}

// Service creates realtime sessions, one per websocket connection.
type Service struct {
	appCtx      context.Context
	resolver    Resolver
	narratorSvc Narrator
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		appCtx:      do.MustInvoke[context.Context](di),
		resolver:    do.MustInvoke[*gateway.Service](di),
		narratorSvc: do.MustInvoke[*narrator.Service](di),
	}, nil
}
