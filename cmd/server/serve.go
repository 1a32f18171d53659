package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/cdranalytics/internal/db"
	"github.com/rpattn/cdranalytics/internal/export"
	"github.com/rpattn/cdranalytics/internal/ingestion"
	"github.com/rpattn/cdranalytics/internal/middleware"
	"github.com/rpattn/cdranalytics/internal/query"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const apiPrefix = "/api/cdr"

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !skipMigrations {
		if err := db.RunMigrations(cfg.Database.DB(), logger.Named("migrate")); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	router := newRouter(routerDeps{
		ingest:         a.ingest,
		query:          query.NewService(a.records),
		export:         export.NewService(a.records, export.WithLogger(logger.Named("export"))),
		logRepo:        a.logRepo,
		ping:           a.conn.Ping,
		registry:       a.registry,
		logger:         logger,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		allowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

type routerDeps struct {
	ingest         *ingestion.Service
	query          *query.Service
	export         *export.Service
	logRepo        repository.IngestionLogRepository
	ping           func(context.Context) error
	registry       *prometheus.Registry
	logger         *zap.Logger
	maxUploadBytes int64
	allowedOrigins []string
}

func newRouter(deps routerDeps) http.Handler {
	httpMetrics := middleware.NewHTTPMetrics(deps.registry)

	ingestHandler := ingestion.NewHTTPHandler(
		deps.ingest,
		ingestion.WithMaxUploadBytes(deps.maxUploadBytes),
		ingestion.WithRejectionLog(deps.logRepo),
	)
	queryHandler := query.NewHTTPHandler(deps.query)

	mux := http.NewServeMux()
	mux.Handle("POST "+apiPrefix+"/upload", httpMetrics.Instrument(apiPrefix+"/upload", ingestHandler))
	mux.Handle("GET "+apiPrefix+"/uploads/{id}/rejections", httpMetrics.Instrument(apiPrefix+"/uploads/{id}/rejections", ingestHandler))
	for _, route := range []string{
		query.RouteAverageCallCost,
		query.RouteLongestCall,
		query.RouteTotalCallsInPeriod,
		query.RouteTotalCostByCaller,
		query.RouteRecordsByPhoneNumber,
		query.RouteMostFrequentCaller,
	} {
		mux.Handle("GET "+apiPrefix+route, httpMetrics.Instrument(apiPrefix+route, queryHandler))
	}
	mux.Handle("GET "+apiPrefix+"/export", httpMetrics.Instrument(apiPrefix+"/export", export.NewHTTPHandler(deps.export)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.ping(ctx); err != nil {
			http.Error(w, "database unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	return middleware.Chain(mux,
		corsHandler.Handler,
		middleware.LoggingMiddleware(deps.logger.Named("http")),
		middleware.Recoverer(deps.logger),
	)
}
