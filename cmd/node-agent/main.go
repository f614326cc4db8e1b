// Command node-agent is the per-host process implementing NRPC (spec
// §4.5): it hosts VM-M, HA and VR for every VM scheduled to this host and
// exposes the NRPC HTTP surface the control-plane scheduler dispatches to.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	"github.com/qarax/qarax/cmd/node-agent/config"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/hypervisor/cloudhypervisor"
	"github.com/qarax/qarax/lib/hypervisor/qemu"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
	"github.com/qarax/qarax/lib/netutil"
	"github.com/qarax/qarax/lib/nrpc"
	qotel "github.com/qarax/qarax/lib/otel"
	"github.com/qarax/qarax/lib/paths"
	"github.com/qarax/qarax/lib/vmm"
	"github.com/qarax/qarax/lib/vmmanager"
	"github.com/qarax/qarax/lib/vmruntime"
)

func main() {
	if err := run(); err != nil {
		slog.Error("node-agent terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("node-agent exiting normally")
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
	log := logger.NewSubsystemLogger(logger.SubsystemNodeAgent, logCfg)

	if err := checkKVMAccess(); err != nil {
		return fmt.Errorf("KVM access check failed: %w", err)
	}
	log.Info("KVM access verified")

	var logMaxSize datasize.ByteSize
	if err := logMaxSize.UnmarshalText([]byte(cfg.LogMaxSize)); err != nil {
		return fmt.Errorf("invalid LOG_MAX_SIZE %q: %w", cfg.LogMaxSize, err)
	}
	logRotateInterval, err := time.ParseDuration(cfg.LogRotateInterval)
	if err != nil {
		return fmt.Errorf("invalid LOG_ROTATE_INTERVAL %q: %w", cfg.LogRotateInterval, err)
	}

	var metrics *vmm.Metrics
	if otelProvider != nil && otelProvider.Meter != nil {
		m, err := vmm.NewMetrics(otelProvider.Meter)
		if err == nil {
			metrics = m
			vmm.SetMetrics(m)
		} else {
			log.Warn("failed to init vmm metrics", "error", err)
		}
	}

	p := paths.New(cfg.RuntimeDir)
	if err := os.MkdirAll(p.Root(), 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	// Mirror vm_id-tagged records into per-VM agent logs alongside stdout.
	log = slog.New(logger.NewVMLogHandler(log.Handler(), p.AgentLog))

	mgr := vmmanager.NewWithStarters(p, map[hypervisor.Type]vmmanager.StarterEntry{
		hypervisor.TypeCloudHypervisor: {
			Starter:    cloudhypervisor.NewStarter(cfg.CloudHypervisorBinary, metrics),
			BinaryPath: cfg.CloudHypervisorBinary,
		},
		hypervisor.TypeQEMU: {
			Starter:    qemu.NewStarter(cfg.QEMUBinary),
			BinaryPath: cfg.QEMUBinary,
		},
	}, hypervisor.TypeCloudHypervisor, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, log)

	log.Info("reconciling orphaned vms from a prior run")
	newHV := func(socketPath string) hypervisor.Hypervisor {
		return cloudhypervisor.New(socketPath, metrics)
	}
	reconciled, err := vmruntime.ReconcileOrphans(ctx, p, newHV, netutil.ListTAPs, netutil.RemoveTAP)
	if err != nil {
		log.Warn("orphan reconciliation completed with errors", "error", err)
	}
	for _, rec := range reconciled {
		mgr.Adopt(rec.VMID, rec.Runtime)
	}
	log.Info("orphan reconciliation complete", "recovered", len(reconciled))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.OtelEnabled {
		r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
	}
	r.Use(mw.InjectLogger(log))
	r.Use(mw.AccessLogger(log))
	if otelProvider != nil && otelProvider.Meter != nil {
		if httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter); err == nil {
			r.Use(httpMetrics.Middleware)
		}
	}
	r.Use(middleware.Timeout(60 * time.Second))

	nrpc.NewServer(mgr).Routes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info("starting node-agent NRPC server", "port", cfg.Port)
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

	grp.Go(func() error {
		ticker := time.NewTicker(logRotateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := logger.RotateVMLogs(p.Root(), int64(logMaxSize), cfg.LogMaxFiles); err != nil {
					log.Error("log rotation failed", "error", err)
				}
			}
		}
	})

	return grp.Wait()
}

func checkKVMAccess() error {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("/dev/kvm not found - KVM not enabled or not supported")
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied accessing /dev/kvm - user not in 'kvm' group")
		}
		return fmt.Errorf("cannot access /dev/kvm: %w", err)
	}
	f.Close()
	return nil
}
