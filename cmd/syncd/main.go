// Command syncd runs the offline sync service: the durable message and
// media queues, the connectivity monitor, and the drain loop that moves
// queued work to the backend whenever connectivity returns.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linocruz/tindahan-sync/internal/config"
	"github.com/linocruz/tindahan-sync/internal/connectivity"
	"github.com/linocruz/tindahan-sync/internal/logging"
	"github.com/linocruz/tindahan-sync/internal/media"
	"github.com/linocruz/tindahan-sync/internal/metrics"
	"github.com/linocruz/tindahan-sync/internal/objstore"
	"github.com/linocruz/tindahan-sync/internal/queue"
	"github.com/linocruz/tindahan-sync/internal/store"
	"github.com/linocruz/tindahan-sync/internal/syncer"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		logging.Error("invalid configuration", err)
		os.Exit(1)
	}
	logging.Info("starting syncd", map[string]interface{}{"config": cfg.String()})

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logging.Error("failed to create data directory", err)
		os.Exit(1)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		logging.Error("failed to open storage backend", err)
		os.Exit(1)
	}
	defer backend.Close()

	objects, err := objstore.NewMinioStore(objstore.Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		logging.Error("failed to create object storage client", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := objects.EnsureBuckets(ctx, cfg.ImageBucket, cfg.VideoBucket); err != nil {
		// Buckets may already be managed elsewhere; uploads will surface
		// any real misconfiguration.
		logging.Warn("bucket provisioning failed", map[string]interface{}{"error": err.Error()})
	}
	cancel()

	messages := queue.NewMessageQueue(backend)
	thumbs := media.NewThumbnailer(&media.FFmpegExtractor{})
	mediaQueue := media.NewMediaQueue(backend, objects, thumbs, media.Buckets{
		Images: cfg.ImageBucket,
		Videos: cfg.VideoBucket,
	})

	// The daemon has no native connectivity callbacks; the source starts
	// online-but-unverified and the heartbeat probe supplies the real
	// signal. A platform embedding pushes transitions into the source.
	source := connectivity.NewChannelSource(true, false)
	monitor := connectivity.NewMonitor(source, connectivity.Config{
		ProbeURL:          cfg.ProbeURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ProbeTimeout:      cfg.ProbeTimeout,
	})
	monitor.Initialize()
	defer monitor.Destroy()

	drain := syncer.New(messages, mediaQueue, monitor, syncer.NewHTTPSender(cfg.SendURL))
	drain.Start()
	defer drain.Stop()

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	go serveMetrics(cfg.MetricsAddr, registry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	if cfg.Backend == config.BackendKV {
		return store.OpenKV(cfg.DataDir)
	}
	return store.OpenSQLite(cfg.DataDir)
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error("metrics server stopped", err)
	}
}
