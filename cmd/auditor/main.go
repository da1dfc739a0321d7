package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/api"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/dispatcher"
	"github.com/JakeFAU/site-auditor/internal/logging"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	target := flag.String("audit", "", "Run one audit against this URL, print the report and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     "auditor",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, *target, logger)
	stop()
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, target string, logger *zap.Logger) int {
	c, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer c.Close()

	if _, err := c.orchestrator.FailStale(ctx, cfg.StaleAfter()); err != nil {
		logger.Warn("stale audit sweep failed", zap.Error(err))
	}

	if target != "" {
		return runOnce(ctx, c, target, os.Stdout, os.Stderr)
	}
	return serve(ctx, cfg, c, logger)
}

// runOnce audits target and writes the stored report as JSON to out.
func runOnce(ctx context.Context, c *components, target string, out, errOut io.Writer) int {
	auditID, err := c.orchestrator.StartAudit(ctx, target)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 1
	}
	report, err := c.repo.GetAudit(ctx, auditID)
	if err != nil {
		fmt.Fprintf(errOut, "load audit %s: %v\n", auditID, err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(errOut, "encode report: %v\n", err)
		return 1
	}
	return 0
}

func serve(parent context.Context, cfg config.Config, c *components, logger *zap.Logger) int {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	dispatch := dispatcher.NewPool(
		c.orchestrator,
		cfg.Audit.Concurrency,
		cfg.Audit.QueueDepth,
		logger.Named("dispatcher"),
	)
	apiServer := api.NewServer(dispatch, c.repo, cfg, logger.Named("api"), c.checks...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started",
			zap.Int("concurrency", cfg.Audit.Concurrency),
			zap.Int("queue_depth", cfg.Audit.QueueDepth),
		)
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			logger.Error("http server error", zap.Error(err))
			code = 1
		}
	}
	stop()
	logger.Info("shutdown initiated")

	// In-flight submissions wait for their audits, so allow a full budget.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.AuditBudget()+shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	logger.Info("shutdown complete")
	return code
}
