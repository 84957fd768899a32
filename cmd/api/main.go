package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"authly.org/internal/auth"
	"authly.org/internal/config"
	"authly.org/internal/httpapi"
	"authly.org/internal/mfa"
	"authly.org/internal/notify"
	"authly.org/internal/obs"
	"authly.org/internal/store/pg"
	"authly.org/internal/stream"
	"authly.org/internal/tenant"
	"authly.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AUTHLY_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		creds  auth.CredentialStore
		resets auth.PasswordResetStore
		codes  auth.OneTimeCodeStore
		tokens token.RefreshTokenStore
		tstore tenant.Store
		pgs    *pg.Store
	)
	if cfg.PGDSN != "" {
		pgs, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		creds = pgs.Credentials()
		resets = pgs.Resets()
		codes = pgs.Codes()
		tokens = pgs.Tokens()
		tstore = pgs.Tenants()
	} else {
		// DSN-less runs keep everything in process memory. Useful for
		// local development and smoke tests, not for production.
		log.Println("AUTHLY_PG_DSN not set, using in-memory stores")
		creds = auth.NewInMemory()
		resets = auth.NewInMemoryResets()
		codes = auth.NewInMemoryCodes()
		tokens = token.NewInMemory()
		tstore = tenant.NewInMemory()
	}

	sink := notify.LogSink{}
	accounts := auth.NewService(creds, resets, sink)
	guard := auth.NewGuard(creds)
	engine := mfa.NewEngine(creds, codes, sink, mfa.NewTOTP(cfg.TOTPIssuer))
	manager := token.NewManager(tokens, cfg.AccessSecret, cfg.RefreshSecret,
		token.WithIssuer(cfg.Issuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	events := stream.New()

	rp := httpapi.ReadyProbe{}
	if pgs != nil {
		rp.DB = pgs.DB()
	}
	api := httpapi.New(rp, version, httpapi.Deps{
		Accounts: accounts,
		Guard:    guard,
		MFA:      engine,
		Tokens:   manager,
		Tenants:  tenant.NewService(tstore),
		Resolver: tenant.NewResolver(tstore),
		Stream:   events,
	})

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSecond)
	handler = httpapi.MaxBodyBytes(handler, cfg.MaxBodyBytes)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(rp, version).Register(grpcServer)

	if pgs != nil {
		// Hourly sweep of expired refresh rows. Rotation checks expiry on
		// every use; this only bounds table growth.
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				n, err := pgs.Tokens().PurgeExpired(ctx)
				cancel()
				if err != nil {
					log.Printf("purge expired refresh tokens: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("purged %d expired refresh tokens", n)
				}
			}
		}()
	}

	log.Printf("Starting authly-api %s on %s (grpc %s)", version, srv.Addr, cfg.GRPCListenAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcServer.GracefulStop()
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}
