package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"vizlive/app/client/generator"
	"vizlive/app/client/openairt"
	"vizlive/app/config"
	"vizlive/app/server"
	"vizlive/app/service/gateway"
	"vizlive/app/service/narrator"
	"vizlive/app/service/session"
	"vizlive/app/service/vizstore"
	"vizlive/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	_ = godotenv.Load()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, generator.NewClient)
	do.Provide(di, openairt.NewClient)
	do.Provide(di, vizstore.New)
	do.Provide(di, gateway.New)
	do.Provide(di, narrator.New)
	do.Provide(di, session.New)
	do.Provide(di, server.New)

	slog.Info("Service started", "addr", cfg.Server.Addr)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	go func() {
		if err := do.MustInvoke[*server.Service](di).Run(appCtx); err != nil {
			slog.Error("Server stopped", "error", err)
			cancel()
		}
	}()

	<-appCtx.Done()
}
