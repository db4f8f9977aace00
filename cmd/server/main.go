package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"listen_engine/internal/captcha"
	"listen_engine/internal/config"
	"listen_engine/internal/engine"
	"listen_engine/internal/httpapi"
	"listen_engine/internal/logbus"
	"listen_engine/internal/notify"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
	"listen_engine/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("LISTEN_ENGINE_CONFIG", "./config.yaml"), "path to config.yaml")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if key := os.Getenv("ANTICAPTCHA_KEY"); key != "" {
		cfg.Captcha.Key = key
	}

	bus := logbus.New(200)
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal("open sqlite", zap.Error(err))
	}
	defer store.Close()

	accountsData, err := store.ListAccounts(ctx)
	if err != nil {
		logger.Fatal("load accounts", zap.Error(err))
	}
	proxiesData, err := store.ListProxies(ctx)
	if err != nil {
		logger.Fatal("load proxies", zap.Error(err))
	}
	tasksData, historyData, err := store.ListTasks(ctx)
	if err != nil {
		logger.Fatal("load tasks", zap.Error(err))
	}
	logger.Info("state loaded",
		zap.Int("accounts", len(accountsData)),
		zap.Int("proxies", len(proxiesData)),
		zap.Int("tasks", len(tasksData)))

	accounts := pool.NewAccountPool(accountsData)
	proxies := pool.NewProxyPool(proxiesData)
	tasks := pool.NewTaskPool(tasksData, historyData)

	client := platform.NewClient(cfg.Platform.Endpoints)

	var solver captcha.Solver
	if cfg.Captcha.Key != "" {
		solver = captcha.NewAntiCaptcha(captcha.AntiCaptchaOptions{
			Key:          cfg.Captcha.Key,
			BaseURL:      cfg.Captcha.BaseURL,
			PollInterval: cfg.Captcha.PollInterval(),
			SolveTimeout: cfg.Captcha.SolveTimeout(),
		})
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	var emailNotifier *notify.EmailNotifier
	if cfg.Email.Enabled {
		emailNotifier = notify.NewEmailNotifier(cfg.Email, bus)
		notifier = emailNotifier
	}

	eng := engine.New(engine.Options{
		Store:    store,
		Bus:      bus,
		Client:   client,
		Solver:   solver,
		Notifier: notifier,
		Accounts: accounts,
		Proxies:  proxies,
		Tasks:    tasks,
		Checker:  pool.NewChecker(client.Endpoints().BaseURL, cfg.Platform.Timeout()),
		Limits:   cfg.Limits,
		Listener: cfg.Listener,
		Proxy:    cfg.Proxy,
		Timeout:  cfg.Platform.Timeout(),
	})
	if err := eng.RestoreRuntime(ctx); err != nil {
		logger.Warn("runtime state restore failed", zap.Error(err))
	}

	api := httpapi.New(httpapi.Options{
		Cfg:      cfg,
		Bus:      bus,
		Store:    store,
		Engine:   eng,
		Notifier: notifier,
		Accounts: accounts,
		Proxies:  proxies,
		Tasks:    tasks,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", zap.Error(err))
	}
	if emailNotifier != nil {
		_ = emailNotifier.Close(shutdownCtx)
	}
	_ = server.Shutdown(shutdownCtx)
	bus.Log("info", "server stopped", nil)
	logger.Info("server stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
