package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/auth"
	"vendoraccess.org/internal/config"
	"vendoraccess.org/internal/grpcapi"
	"vendoraccess.org/internal/httpapi"
	"vendoraccess.org/internal/obs"
	"vendoraccess.org/internal/store/pg"
	"vendoraccess.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type closableStore interface {
	access.Store
	Close() error
}

type memoryStore struct{ *access.MemoryStore }

func (memoryStore) Close() error { return nil }

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var store closableStore
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		obs.LogEvent("warn", "memory_store", map[string]any{"msg": "VENDORACCESS_PG_DSN not set, state is not persisted"})
		store = memoryStore{access.NewMemoryStore()}
	}

	hashKey, err := access.DeriveKey(cfg.TokenKey, "token-hash")
	if err != nil {
		log.Fatalf("derive token key: %v", err)
	}
	signingKey, err := access.DeriveKey(cfg.TokenKey, "audit-signing")
	if err != nil {
		log.Fatalf("derive audit key: %v", err)
	}

	signer, err := auth.NewSigner(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("auth signer: %v", err)
	}

	events := stream.New()
	recorder := audit.NewRecorder(4096,
		audit.WithSigner(audit.NewSigner(signingKey)),
		audit.WithSink(audit.JSONSink()),
		audit.WithSink(func(e audit.Entry) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
			defer cancel()
			if err := store.AppendActivity(ctx, e); err != nil {
				obs.LogEvent("error", "audit_persist_failed", map[string]any{"id": e.ID, "error": err.Error()})
			}
		}),
		audit.WithSink(events.Sink()),
	)

	svc, err := access.NewService(store,
		access.WithAuditor(recorder),
		access.WithHashKey(hashKey),
		access.WithMaxGrantHours(cfg.MaxGrantHours),
		access.WithTokenTTL(cfg.TokenTTL),
		access.WithSessionTTL(cfg.SessionTTL),
		access.WithStoreTimeout(cfg.StoreTimeout),
		access.WithCacheTTL(cfg.CacheTTL),
	)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.RunSweeper(ctx, cfg.SweepInterval)

	api := httpapi.New(svc,
		httpapi.WithSigner(signer),
		httpapi.WithStream(events),
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Starting vendoraccess-api %s on %s", version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		// Only health is served here; vendor-facing gRPC services install
		// grpcapi.UnaryVendorAccess with their own method rules.
		grpcServer = grpc.NewServer()
		health := grpcapi.NewHealth(svc)
		health.Register(grpcServer)
		go health.Run(ctx, 5*time.Second)
		go func() {
			log.Printf("gRPC listening on %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	_ = recorder.Close()
	_ = store.Close()
	log.Println("Stopped")
}
