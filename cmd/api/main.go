package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/config"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/handlers"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/logging"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/publisher"
)

const serviceName = "orders-api"

func setupRouter(cfg handlers.HandlerConfig, prom *metrics.Prometheus, serveMetrics bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(cfg.Logger))

	handlers.RegisterHealth(r)
	if serveMetrics {
		r.GET("/metrics", gin.WrapH(prom.Handler()))
	}
	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config is not known yet
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(serviceName, cfg.LogLevel, cfg.RunLocal)
	if !cfg.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	tp, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer bootstrap.ShutdownTracing(ctx, tp, logger)

	clients, err := bootstrap.AWSClients(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init aws clients")
	}
	store, err := bootstrap.OrderStore(ctx, cfg, clients, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init order store")
	}
	transport, err := bootstrap.Transport(cfg, clients, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init notification transport")
	}
	pub := publisher.New(transport, bootstrap.PublishPolicy(cfg, logger), logger)
	defer pub.Close()

	prom := metrics.NewPrometheus("orderflow")
	svc := orders.NewService(store, pub, prom, logger)

	// a separate metrics listener keeps /metrics off the public router
	bootstrap.ServeMetrics(ctx, cfg.MetricsAddr, prom, logger)
	r := setupRouter(handlers.HandlerConfig{Service: svc, Logger: logger}, prom, cfg.MetricsAddr == "")

	if cfg.RunLocal {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("running local server")
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("local server failed")
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the execution environment may freeze as soon as we return
		if ferr := tp.ForceFlush(ctx); ferr != nil {
			logger.Warn().Err(ferr).Msg("flush spans")
		}
		return resp, err
	})
}
