package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/infrastructure/providers"
	"github.com/partim/atomtools/internal/infrastructure/repository"
	"github.com/partim/atomtools/internal/present/rest"
	"github.com/partim/atomtools/internal/present/rest/middleware"
	"github.com/partim/atomtools/internal/service"
	"github.com/partim/atomtools/internal/usecase"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to the config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Trace.Enabled {
		shutdown, err := providers.SetupTracing(ctx, conf.Trace)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("failed to shut down tracing", slog.String("error", err.Error()))
			}
		}()
	}

	db, err := providers.NewDatabase(conf.Database)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := providers.MigrateDatabase(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := providers.NewRedis(conf.Redis)
	mc := providers.NewMemcache(conf.Memcached)
	cl := providers.NewClient(conf)

	postRepo := repository.NewPostRepository(db, mc)
	peerRepo := repository.NewPeerRepository(db)
	certRepo := repository.NewCertificateRepository(db)

	verifier, err := service.NewVerifier(conf.Trust)
	if err != nil {
		slog.Error("failed to configure trust anchors", slog.String("error", err.Error()))
		os.Exit(1)
	}

	signalService := service.NewSignalService(rdb)
	feed := usecase.NewFeedUsecase(postRepo, signalService)
	trust := usecase.NewTrustUsecase(peerRepo, certRepo, verifier)
	if err := trust.Prime(ctx); err != nil {
		slog.Error("failed to load peer states", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for _, p := range conf.Peers {
		if err := trust.Subscribe(ctx, p.Identifier, p.Endpoint, ""); err != nil {
			slog.Error("failed to subscribe configured peer",
				slog.String("peer", p.Identifier),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	syncService := service.NewSyncService(conf.Sync, trust, feed, peerRepo, providers.NewFeedGateway(cl))
	go syncService.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Trace.Enabled {
		e.Use(otelecho.Middleware(conf.Trace.ServiceName))
	}
	contentType := middleware.NewContentTypeMiddleware(conf.Content.LenientSniffing)
	e.Use(contentType.CheckContentType)

	rest.NewHandler(conf, feed, trust, signalService).RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}
}
