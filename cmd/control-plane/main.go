// Command control-plane hosts the CPS, scheduler/dispatcher, and host
// provisioner behind the qarax REST surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	nethttpmiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	"github.com/qarax/qarax"
	"github.com/qarax/qarax/cmd/control-plane/api"
	"github.com/qarax/qarax/cmd/control-plane/config"
	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/hostprovisioner"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
	qotel "github.com/qarax/qarax/lib/otel"
	"github.com/qarax/qarax/lib/scheduler"
	"github.com/qarax/qarax/lib/transfer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("control-plane terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("control-plane exiting normally")
}

func run() error {
	cfg := config.Load()

	otelCfg := qotel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	}
	otelProvider, otelShutdown, err := qotel.Init(context.Background(), otelCfg)
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	logCfg := logger.NewConfig()
	log := logger.NewSubsystemLogger(logger.SubsystemControlPlane, logCfg)

	store, err := cpstore.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	probeTimeout, err := time.ParseDuration(cfg.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("invalid DEPLOY_PROBE_TIMEOUT %q: %w", cfg.ProbeTimeout, err)
	}

	sched := scheduler.NewWithDefaultTransport(store, logCfg)
	prov := hostprovisioner.New(store, fileCredentialsResolver, logCfg).WithProbeTimeout(probeTimeout)
	transfers := transfer.NewRunner(store, logCfg)
	svc := api.New(cfg, store, sched, prov, transfers)

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(qarax.OpenAPIYAML)
	if err != nil {
		return fmt.Errorf("load OpenAPI spec: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return fmt.Errorf("validate OpenAPI spec: %w", err)
	}
	// Clear servers to avoid host validation issues.
	spec.Servers = nil

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, log)

	r := chi.NewRouter()

	var httpMetricsMw func(http.Handler) http.Handler
	if otelProvider != nil && otelProvider.Meter != nil {
		if httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter); err == nil {
			httpMetricsMw = httpMetrics.Middleware
		}
	}

	// Job watch endpoint outside the validated group: the OpenAPI validator
	// and tracing middleware don't compose with websocket upgrades.
	r.With(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.InjectLogger(log),
		mw.AccessLogger(log),
		mw.ResolveResource(svc.NewResolvers(), api.ResolverErrorResponder),
	).Get("/jobs/{id}/watch", svc.WatchJob)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		if cfg.OtelEnabled {
			r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
		}
		r.Use(mw.InjectLogger(log))
		r.Use(mw.AccessLogger(log))
		if httpMetricsMw != nil {
			r.Use(httpMetricsMw)
		}
		r.Use(middleware.Timeout(60 * time.Second))

		r.Use(nethttpmiddleware.OapiRequestValidatorWithOptions(spec, &nethttpmiddleware.Options{
			Options: openapi3filter.Options{MultiError: false},
		}))
		r.Use(mw.ResolveResource(svc.NewResolvers(), api.ResolverErrorResponder))

		svc.Routes(r)
	})

	r.Get("/spec.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oai.openapi")
		w.Write(qarax.OpenAPIYAML)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info("starting control-plane API", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown http server", "error", err)
			return err
		}
		return nil
	})

	return grp.Wait()
}

// fileCredentialsResolver reads a host's CredentialsRef as a path to a JSON
// credentials file, keeping secrets out of the store.
func fileCredentialsResolver(ctx context.Context, ref string) (hostprovisioner.Credentials, error) {
	var creds hostprovisioner.Credentials
	if ref == "" {
		return creds, fmt.Errorf("host has no credentials_ref configured")
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return creds, fmt.Errorf("read credentials file %s: %w", ref, err)
	}

	var file struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		PrivateKeyPath string `json:"private_key_path"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return creds, fmt.Errorf("parse credentials file %s: %w", ref, err)
	}

	creds.Username = file.Username
	creds.Password = file.Password
	if file.PrivateKeyPath != "" {
		key, err := os.ReadFile(file.PrivateKeyPath)
		if err != nil {
			return creds, fmt.Errorf("read private key %s: %w", file.PrivateKeyPath, err)
		}
		creds.PrivateKeyPEM = key
	}
	return creds, nil
}
