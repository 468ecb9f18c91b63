package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pogodev/tokenbroker/internal/auth/guard"
	"github.com/pogodev/tokenbroker/internal/auth/token"
	"github.com/pogodev/tokenbroker/internal/config"
	"github.com/pogodev/tokenbroker/internal/db"
	"github.com/pogodev/tokenbroker/internal/egress"
	"github.com/pogodev/tokenbroker/internal/provider"
	"github.com/pogodev/tokenbroker/internal/server/handlers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	pool := egress.LoadFile(cfg.ProxiesFile)

	adapters := []provider.Adapter{
		provider.NewPTC(cfg.PTCAuthURL, cfg.PTCAuthorizeURL, cfg.PTCTokenURL, pool),
		provider.NewNK(cfg.NKTokenURL, pool),
	}

	orch := token.New(store, adapters, guard.New(), time.Duration(cfg.FreshnessMarginSeconds)*time.Second)

	if cfg.KeepAlive.Enabled {
		sched := token.NewScheduler(
			orch,
			store,
			time.Duration(cfg.KeepAlive.IntervalSeconds)*time.Second,
			cfg.KeepAlive.TokensPerInterval,
			time.Duration(cfg.KeepAlive.RequestSleepSeconds)*time.Second,
			cfg.KeepAlive.MaxAgeDays,
		)
		go sched.Run(context.Background())
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Post("/access_token", handlers.AccessTokenHandler(orch))

	log.Printf("🚀 Token broker listening on %s", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
