package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/driftvcs/drift/internal/config"
	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/repo"
	"github.com/driftvcs/drift/internal/sync"
)

func main() {
	cfg := config.Load()

	var opts []repo.Option
	if cfg.Store == config.StoreBackendBolt {
		path := cfg.BoltPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, ".drift", "objects.db")
		}
		store, err := object.NewBoltStore(path)
		if err != nil {
			log.Fatalf("drift: open bolt store: %v", err)
		}
		opts = append(opts, repo.WithStore(store))
	}

	log.Printf("drift: opening repository at %s", cfg.DataDir)
	r, err := repo.OpenRepository(cfg.DataDir, opts...)
	if err != nil {
		log.Fatalf("drift: failed to open repository: %v", err)
	}
	defer r.Close()

	// Mirror an upstream in the background when one is configured.
	if cfg.Upstream != "" {
		if err := r.Remotes.Add("upstream", cfg.Upstream); err != nil {
			log.Fatalf("drift: register upstream: %v", err)
		}
		fetcher := sync.NewAutoFetcher(sync.NewSyncer(r), cfg.FetchInterval)
		fetcher.Start()
		defer fetcher.Stop()
		log.Printf("drift: mirroring %s (interval %s)", cfg.Upstream, cfg.FetchInterval)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: sync.Handler(r)}

	go func() {
		log.Printf("drift: serving on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("drift: serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("drift: shutting down")
	_ = srv.Close()
}
