package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hamasterd/internal/config"
	"hamasterd/internal/core"
	"hamasterd/internal/httpapi"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "/etc/hamasterd/hamasterd.yaml", "Path to YAML configuration file")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("hamasterd: %v", err)
	}
	config.BindFlags(flag.CommandLine, cfg)
	flag.Parse()

	log.Printf("hamasterd %s starting, ha_node_list=%s port=%d", version, cfg.HANodeList, cfg.HAPortID)

	c, err := core.New(cfg)
	if err != nil {
		log.Fatalf("hamasterd: failed to construct core: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("hamasterd: failed to start core: %v", err)
	}

	handler := httpapi.New(c)
	srv := &http.Server{
		Addr:              cfg.AdminHTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("hamasterd: admin HTTP listening on %s", cfg.AdminHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hamasterd: admin HTTP server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("hamasterd: received %s, deactivating", sig)

	c.DeactivatePrepare()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if c.DeactivateFinalize() {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if err := c.Close(); err != nil {
		log.Printf("hamasterd: shutdown error: %v", err)
	}
}
