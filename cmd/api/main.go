package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/api"
    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/buildinfo"
    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/config"
    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/metrics"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        fmt.Fprintf(os.Stderr, "config: %v\n", err)
        os.Exit(1)
    }
    log, err := logger.New(cfg.Log.Mode)
    if err != nil {
        fmt.Fprintf(os.Stderr, "logger: %v\n", err)
        os.Exit(1)
    }
    defer log.Sync()
    metrics.RegisterDefault()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    srvDeps, err := api.NewServer(ctx, cfg, log)
    if err != nil {
        log.Fatal("failed to init server", "error", err)
    }
    defer srvDeps.Close()

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    // Start webhook worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start(ctx)

    errc := make(chan error, 1)
    go func() {
        log.Info("API listening", "addr", srv.Addr, "store", cfg.Store.Driver, "build", buildinfo.Info()["version"])
        errc <- srv.ListenAndServe()
    }()

    select {
    case err := <-errc:
        if err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error("server error", "error", err)
        }
    case <-ctx.Done():
        log.Info("shutting down")
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := srv.Shutdown(shutdownCtx); err != nil {
            log.Warn("shutdown", "error", err)
        }
    }
}
