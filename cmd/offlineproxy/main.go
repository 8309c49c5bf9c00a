package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/treniren/internal/arbiter"
	"example.com/treniren/internal/config"
	"example.com/treniren/internal/connectivity"
	"example.com/treniren/internal/events"
	"example.com/treniren/internal/localstore"
	"example.com/treniren/internal/logging"
	"example.com/treniren/internal/messaging"
	"example.com/treniren/internal/observability"
	"example.com/treniren/internal/reconcile"
	"example.com/treniren/internal/swcache"
	httptransport "example.com/treniren/internal/transport/http"
	"example.com/treniren/internal/workoutapi"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Prefix: "offlineproxy"})

	if err := run(cfg, logger); err != nil {
		logger.Fatal("offline proxy stopped", "err", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return err
	}

	manifest := swcache.DefaultManifest()
	if cfg.ManifestPath != "" {
		if manifest, err = swcache.LoadManifest(cfg.ManifestPath); err != nil {
			return err
		}
	}
	if cfg.CacheVersion > 0 {
		manifest.Version = cfg.CacheVersion
	}

	backend, err := localstore.OpenSQLite(cfg.StorePath, 0)
	if err != nil {
		return err
	}
	defer backend.Close()
	store := localstore.New(backend, localstore.WithLogger(logger.WithPrefix("localstore")))

	cacheStorage, err := swcache.OpenSQLiteStorage(cfg.CachePath)
	if err != nil {
		return err
	}
	defer cacheStorage.Close()

	hub := messaging.NewHub(messaging.WithLogger(logger.WithPrefix("messaging")))
	worker := swcache.NewWorker(cacheStorage, manifest, upstream, &http.Client{Timeout: 10 * time.Second},
		swcache.WithLogger(logger.WithPrefix("worker")),
		swcache.WithClients(hub),
	)
	hub.SetHandler(worker)

	arb := arbiter.New(cacheStorage, manifest, http.DefaultTransport, arbiter.WithLogger(logger.WithPrefix("arbiter")))

	watcher, err := localstore.NewWatcher(cfg.StorePath, localstore.WithWatcherLogger(logger.WithPrefix("watch")))
	if err != nil {
		return err
	}
	localChanges, unsubscribe := backend.Subscribe()
	defer unsubscribe()

	monitor := connectivity.NewMonitor(store, false,
		connectivity.WithLogger(logger.WithPrefix("connectivity")),
		connectivity.WithPollInterval(cfg.PollInterval),
		connectivity.WithChangeSource(localChanges),
		connectivity.WithChangeSource(watcher.Changes()),
	)
	prober := connectivity.NewProber(cfg.ProbeURL, cfg.ProbeInterval, monitor, logger.WithPrefix("prober"))

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer)
	}

	client := workoutapi.New(cfg.APIBaseURL, workoutapi.Credentials{Session: cfg.SessionToken, CSRF: cfg.CSRFToken})
	reconciler := reconcile.New(store, client,
		reconcile.WithLogger(logger.WithPrefix("reconcile")),
		reconcile.WithPublisher(publisher, cfg.EventTopic),
	)

	syncRequests := make(chan struct{}, 1)
	monitor.OnOnline(func() {
		select {
		case syncRequests <- struct{}{}:
		default:
		}
	})

	mux := http.NewServeMux()
	mux.Handle(messaging.Path, hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", arbiter.NewProxy(arb, upstream))

	// Messaging connections are long-lived, so no write timeout.
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, observability.Instrument("offlineproxy", mux))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("offline proxy listening", "addr", cfg.HTTPAddress, "upstream", upstream.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := worker.Start(ctx); err != nil {
			logger.Error("worker install failed", "err", err)
		}
		return nil
	})
	g.Go(func() error { return ignoreCanceled(watcher.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(monitor.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(prober.Run(ctx)) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-syncRequests:
			}
			if err := worker.Sync(ctx, swcache.SyncTag); err != nil {
				logger.Warn("sync broadcast incomplete", "err", err)
			}
			// Connected clients replay the queue on the broadcast.
			if hub.Len() == 0 {
				if _, err := reconciler.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("reconcile pass aborted", "err", err)
				}
			}
			monitor.Refresh(ctx)
		}
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
