package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/backend"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	b, err := backend.Open(openCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("open backends: %v", err)
	}
	defer b.Close()

	if !b.Persistent() {
		obs.Log("warn", "using in-memory stores; state is lost on restart", map[string]any{
			"session_backend": cfg.Session.Backend,
		})
	}
	if err := bootstrapAdmin(ctx, b.Users); err != nil {
		obs.Log("warn", "bootstrap admin failed", map[string]any{"error": err.Error()})
	}

	var opts []auth.ServiceOption
	if cfg.Remember.Enabled() {
		tokens, err := auth.NewRememberTokens(cfg.Remember.Secret, cfg.Remember.Issuer, cfg.Remember.TTL)
		if err != nil {
			log.Fatalf("remember tokens: %v", err)
		}
		opts = append(opts, auth.WithRememberTokens(tokens))
	}
	svc, err := auth.NewService(b.Sessions, b.Users, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	validator, err := auth.NewValidator(b.Sessions, b.Users)
	if err != nil {
		log.Fatalf("validator: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: b.DB, Redis: b.Redis}
	api, err := httpapi.New(probe, version, svc, validator, b.Sessions, httpapi.Options{
		CookieName:     cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		LoginRate:      cfg.Login.RatePerSecond,
		LoginBurst:     cfg.Login.Burst,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	go health.Run(ctx, 5*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	obs.Log("info", "gatehouse started", map[string]any{
		"version":         version,
		"http_addr":       srv.Addr,
		"grpc_addr":       cfg.GRPCAddr,
		"session_backend": cfg.Session.Backend,
		"session_ttl":     cfg.Session.Duration.String(),
		"remember":        cfg.Remember.Enabled(),
	})

	<-ctx.Done()
	obs.Log("info", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Log("error", "http shutdown", map[string]any{"error": err.Error()})
	}
	grpcSrv.GracefulStop()
	obs.Log("info", "stopped", nil)
}

// bootstrapAdmin seeds an admin account from GATEHOUSE_BOOTSTRAP_LOGIN and
// GATEHOUSE_BOOTSTRAP_PASSWORD. Existing accounts are left untouched.
func bootstrapAdmin(ctx context.Context, users auth.CredentialsStore) error {
	login := strings.TrimSpace(os.Getenv("GATEHOUSE_BOOTSTRAP_LOGIN"))
	password := os.Getenv("GATEHOUSE_BOOTSTRAP_PASSWORD")
	if login == "" || password == "" {
		return nil
	}
	if err := users.AddRole(ctx, "admin"); err != nil && !errors.Is(err, auth.ErrDuplicateRole) {
		return err
	}
	id, err := users.AddUser(ctx, login, auth.UserAttributes{Password: password, Roles: []string{"admin"}})
	switch {
	case errors.Is(err, auth.ErrDuplicateLogin):
		return nil
	case err != nil:
		return err
	}
	return audit.LogEvent(auth.ContextWithUser(ctx, id), audit.EventAccountChanged, map[string]any{
		"action": "bootstrap",
		"login":  login,
	})
}
