package server

import (
	"context"
	"time"

	"vizlive/app/client/openairt"
	"vizlive/app/config"
	"vizlive/app/service/gateway"
	"vizlive/app/service/session"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

var _ do.Shutdownable = (*Service)(nil)

// Service is the HTTP and websocket surface of the application.
type Service struct {
	cfg        *config.Config
	gatewaySvc *gateway.Service
	sessionSvc *session.Service
	tokens     *openairt.Client

	app       *fiber.App
	startTime time.Time
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:        do.MustInvoke[*config.Config](di),
		gatewaySvc: do.MustInvoke[*gateway.Service](di),
		sessionSvc: do.MustInvoke[*session.Service](di),
		tokens:     do.MustInvoke[*openairt.Client](di),
		startTime:  time.Now(),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/api/health", s.handleHealth)
	app.Post("/api/visualization", s.handleVisualization)
	app.Get("/token", s.handleToken)

	app.Use("/realtime", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}

		return fiber.ErrUpgradeRequired
	})
	app.Get("/realtime", websocket.New(s.handleRealtime))

	s.app = app

	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.app.Listen(s.cfg.Server.Addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.app.ShutdownWithTimeout(5 * time.Second)
	})

	return g.Wait()
}

func (s *Service) Shutdown() error {
	return s.app.Shutdown()
}
