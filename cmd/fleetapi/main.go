// fleetapi serves the read-only status API: task lookups, worker health,
// and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/yzhou-ml/comfyfleet/pkg/api"
	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/config"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/metrics"
	"github.com/yzhou-ml/comfyfleet/pkg/middleware"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/shutdown"
	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
	"github.com/yzhou-ml/comfyfleet/pkg/workerpool"
)

func main() {
	cfgPath := flag.String("config", "fleet.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.New(logging.ERROR, false).Error("config load failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	log := logging.New(level, cfg.Log.JSON)
	if cfg.Log.Dir != "" {
		if log, err = logging.NewFileLogger(cfg.Log.Dir, "fleetapi", level, cfg.Log.JSON); err != nil {
			logging.New(logging.ERROR, false).Error("log file setup failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	addr := cfg.API.Listen
	if *listen != "" {
		addr = *listen
	}

	mgr := shutdown.New(30*time.Second, log)
	mgr.Register("logger", shutdown.CloseResource(log))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := openStore(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("status store unavailable", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	mgr.Register("status store", shutdown.CloseResource(store))

	client := comfy.NewClient(comfy.DefaultTimeout)
	endpoints := make([]models.WorkerEndpoint, len(cfg.Servers))
	for i, s := range cfg.Servers {
		endpoints[i] = models.WorkerEndpoint{URL: s}
	}
	pool := workerpool.New(endpoints, client, log)
	// Probe the fleet up front so /workers reports real state; a fully
	// unreachable fleet still serves task lookups.
	initCtx, initCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := pool.Initialize(initCtx); err != nil {
		log.Warn("no healthy workers at startup", map[string]any{"error": err.Error()})
	}
	initCancel()

	met := metrics.New()
	met.WorkersHealthy.Set(float64(pool.Size()))

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(log))
	if cfg.API.Key != "" {
		log.Info("API authentication enabled", nil)
		router.Use(middleware.APIKey(cfg.API.Key))
	}
	api.NewHandler(store, pool, met, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	mgr.Register("http server", shutdown.StopHTTPServer(srv))

	go func() {
		log.Info("status API listening", map[string]any{"addr": addr, "workers": pool.Size()})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	if err := mgr.Wait(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (statusstore.Store, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("no redis address configured, serving in-memory status only", nil)
		return statusstore.NewMemory(), nil
	}
	return statusstore.NewRedis(ctx, statusstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
