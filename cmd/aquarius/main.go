package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/oceanprotocol/aquarius/client"
	"github.com/oceanprotocol/aquarius/internal/config"
	"github.com/oceanprotocol/aquarius/internal/infra/database"
	"github.com/oceanprotocol/aquarius/internal/infra/database/models"
	"github.com/oceanprotocol/aquarius/internal/infra/gateway"
	"github.com/oceanprotocol/aquarius/internal/infra/repository"
	"github.com/oceanprotocol/aquarius/internal/present/rest"
	"github.com/oceanprotocol/aquarius/internal/present/rest/middleware"
	"github.com/oceanprotocol/aquarius/internal/service"
	"github.com/oceanprotocol/aquarius/internal/usecase"
)

func main() {
	var confPath string
	flag.StringVar(&confPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	conf, err := config.Load(confPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if conf.Server.EnableTrace {
		shutdown, err := setupTracer(conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	models.SetIndexNames(conf.Index.MainIndex, conf.Index.PlusIndex)

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisDB)

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	chain, err := gateway.NewChainGateway(
		conf.Chain.RPCEndpoint,
		conf.Chain.MetadataContract,
		conf.Chain.RequestTimeout,
	)
	if err != nil {
		slog.Error("failed to connect chain rpc", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := repository.NewAssetRepository(db, mc)
	assetUC := usecase.NewAssetUsecase(store)

	authSvc := service.NewAuthService(conf.Admin.AllowedUpdaters)
	signalSvc := service.NewSignalService(rdb)

	updater := usecase.NewMetadataUpdater(store, chain, signalSvc)

	purgatoryClient := client.New(conf.Purgatory.ListURL, conf.Purgatory.RefreshInterval)
	monitor := service.NewMonitor(
		store, chain, updater, signalSvc, purgatoryClient, rdb,
		conf.Chain.StartBlock, conf.Purgatory.RefreshInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go monitor.Run(ctx)

	e := echo.New()
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("aquarius"))
	}

	handler := rest.NewHandler(assetUC, updater, chain, signalSvc)
	handler.RegisterRoutes(e, middleware.NewAdminAuthMiddleware(authSvc))

	e.Logger.Fatal(e.Start(conf.Server.ListenAddr))
}

func setupTracer(endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
