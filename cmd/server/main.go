package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ohmvision/camconnect/internal/api"
	"github.com/ohmvision/camconnect/internal/auth"
	"github.com/ohmvision/camconnect/internal/config"
	"github.com/ohmvision/camconnect/internal/data"
	"github.com/ohmvision/camconnect/internal/detect"
	"github.com/ohmvision/camconnect/internal/events"
	"github.com/ohmvision/camconnect/internal/middleware"
	"github.com/ohmvision/camconnect/internal/monitor"
	"github.com/ohmvision/camconnect/internal/profiles"
	"github.com/ohmvision/camconnect/internal/ratelimit"
	"github.com/ohmvision/camconnect/internal/tokens"
)

const serviceName = "camconnect"

func main() {
	cfgPath := flag.String("config", "config/default.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Profiles
	registry := profiles.NewRegistry()
	if path := cfg.Profiles.OverridesPath; path != "" {
		if n, err := registry.LoadOverrides(path); err != nil {
			log.Printf("Warning: profile overrides load failed: %v", err)
		} else {
			log.Printf("Loaded %d profile override(s)", n)
		}
		registry.Watch(ctx, path)
	}

	// Detection engine
	engine := detect.New(registry, detect.Options{
		ProbeTimeout:  cfg.Detect.ProbeTimeout,
		MaxCandidates: cfg.Detect.MaxCandidates,
		MaxInFlight:   cfg.Detect.MaxInFlight,
		BatchWorkers:  cfg.Detect.BatchWorkers,
		RankWindow:    cfg.Detect.RankWindow,
	})

	// Persistence is optional; no DB host means memory only
	var repo *data.ConnectionModel
	if dsn := cfg.DSN(); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("DB ping error: %v", err)
		}
		repo = &data.ConnectionModel{DB: db}
	} else {
		log.Println("No DB configured, running in-memory only")
	}

	// Event sinks: websocket hub always, NATS when configured
	hub := api.NewEventHub()
	sinks := events.Fanout{hub}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Event publishing disabled.", err)
		} else {
			defer nc.Close()
			sinks = append(sinks, events.NewPublisher(nc, cfg.NATS.Subject, cfg.NATS.RetryMax))
			log.Println("Connected to NATS")
		}
	}

	// Monitor service + scheduler
	store := monitor.NewStore()
	svcCfg := monitor.ServiceConfig{
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		Sink:         sinks,
	}
	if repo != nil {
		svcCfg.Repo = repo
	}
	monitorSvc := monitor.NewService(store, svcCfg)

	if repo != nil {
		restoreCameras(ctx, monitorSvc, repo)
	}

	scheduler := monitor.NewScheduler(monitorSvc, monitor.SchedulerConfig{
		Interval: cfg.Monitor.Interval,
		Workers:  cfg.Monitor.Workers,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Auth
	tokenMgr := tokens.NewManager(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)

	// Redis-backed pieces are optional too
	var (
		jwtAuth   *middleware.JWTAuth
		rlmw      *middleware.RateLimitMiddleware
		blacklist auth.TokenBlacklist
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		blacklist = auth.NewRedisBlacklist(rdb)
		jwtAuth = middleware.NewJWTAuth(tokenMgr, blacklist)
		if cfg.RateLimit.GlobalIP.Rate > 0 {
			limiter := ratelimit.NewLimiter(rdb, cfg.Redis.Salt)
			rlmw = middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit)
		}
	} else {
		jwtAuth = middleware.NewJWTAuth(tokenMgr, nil)
	}

	var history api.HistoryReader
	if repo != nil {
		history = repo
	}

	router := api.NewRouter(api.RouterDeps{
		Detect:    api.NewDetectHandler(engine, registry),
		Cameras:   api.NewCameraHandler(monitorSvc, engine),
		Health:    api.NewHealthHandler(monitorSvc, history),
		Hub:       hub,
		AuthH:     api.NewAuthHandler(blacklist),
		Auth:      jwtAuth,
		RateLimit: rlmw,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("Shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Println("Server stopped gracefully")
}

// restoreCameras reloads persisted connections so monitoring resumes
// where it left off after a restart.
func restoreCameras(ctx context.Context, svc *monitor.Service, repo *data.ConnectionModel) {
	conns, err := repo.ListConnections(ctx)
	if err != nil {
		log.Printf("Warning: restore cameras failed: %v", err)
		return
	}
	for _, conn := range conns {
		if _, err := svc.Register(ctx, *conn); err != nil {
			log.Printf("Warning: restore camera %s failed: %v", conn.CameraID, err)
		}
	}
	log.Printf("Restored %d camera(s) from database", len(conns))
}
