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

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/jacksonlee411/schema-fields/internal/server"
)

func main() {
	cfg := server.ConfigFromEnv()

	log, sync, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	h, err := server.NewHandlerWithOptions(server.HandlerOptions{Config: cfg, Log: log})
	if err != nil {
		fatal(log, err, "build handler")
	}

	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log}), handlers.PrintRecoveryStack(true))(h)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)
	h = handlers.ProxyHeaders(h)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "shutdown")
		}
	}()

	log.Info("listening", "addr", cfg.Addr, "store", cfg.Store, "base_path", cfg.BasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(log, err, "http server failed")
	}
}

func newLogger(level string) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return logr.Logger{}, nil, err
		}
		zc.Level = lvl
	}
	zl, err := zc.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl).WithName("schema-fields"), func() { _ = zl.Sync() }, nil
}

func fatal(log logr.Logger, err error, msg string) {
	log.Error(err, msg)
	os.Exit(1)
}

type recoveryLogger struct {
	logr.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.Error(nil, "recovered panic", "detail", fmt.Sprint(v...))
}
