// cmd/onboarding-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentmail/internal/engine"
	"agentmail/internal/mailauth"
	"agentmail/internal/onboarding"
	"agentmail/internal/opsapi"
	"agentmail/internal/provision"
	"agentmail/internal/statetoken"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/db"
	"agentmail/pkg/logger"
	"agentmail/pkg/middleware"
	"agentmail/pkg/tenants"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store tenants.Store
	if pool != nil {
		store = tenants.NewPostgresStore(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
	} else {
		store = tenants.NewMemoryStore()
	}

	v, err := vault.New(store, cfg.TokenEncKeyID, cfg.TokenEncKey, cfg.TokenEncPriorKeys, log)
	if err != nil {
		log.Fatalw("vault", "err", err)
	}

	adapters := map[string]mailauth.Adapter{}
	if cfg.Gmail.Enabled() {
		adapters[tenants.ProviderGmail] = mailauth.NewGmailAdapter(cfg.Gmail)
	}
	if cfg.Outlook.Enabled() {
		adapters[tenants.ProviderOutlook] = mailauth.NewOutlookAdapter(cfg.Outlook, cfg.OutlookDirectoryTenant)
	}
	log.Infow("mail providers enabled", "count", len(adapters))

	reg, err := provision.LoadRegistry(cfg.TemplateDir, log)
	if err != nil {
		log.Fatalw("workflow templates", "err", err)
	}
	eng := engine.NewClient(cfg.EngineBaseURL, cfg.EngineAPIKey, log)
	prov := provision.New(store, eng, reg, cfg, log)

	signer := statetoken.NewSigner(cfg.StateSecret, cfg.StateTTL, log)
	svc := onboarding.NewService(cfg, store, v, adapters, prov, signer, rdb, log)
	refresher := mailauth.NewManager(store, v, adapters, cfg.RefreshMargin, log)
	ops := opsapi.New(store, v, refresher, svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	onboarding.RegisterHTTP(r, svc, log)
	ops.Register(r, cfg)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("onboarding-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("onboarding-service stopped")
}
