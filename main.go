package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"firewatch/accel"
	"firewatch/config"
	"firewatch/device"
	"firewatch/notify"
	"firewatch/serve"
	"firewatch/stream"
	"firewatch/video"
	"firewatch/video/process"
)

const version = "0.4.1"

var (
	configPath  = flag.String("config", "firewatch.json", "Path to the configuration file.")
	host        = flag.String("host", "", "Override the configured listen host.")
	port        = flag.Int("port", 0, "Override the configured listen port.")
	showVersion = flag.Bool("version", false, "Print the version and exit.")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.Load(ctx, *configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.Get()

	if lvl, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.Warnf("Unknown log level %q, staying on %v", cfg.LogLevel, log.GetLevel())
	} else {
		log.SetLevel(lvl)
	}

	listenHost, listenPort := cfg.Host, cfg.Port
	if *host != "" {
		listenHost = *host
	}
	if *port != 0 {
		listenPort = *port
	}

	pool, err := accel.NewPool(func() (accel.Model, error) {
		return process.NewDetector(process.DetectorOptions{
			ModelPath:  cfg.ModelPath,
			InputSize:  cfg.ModelInputSize,
			ClassNames: cfg.ClassNames,
		})
	}, accel.Options{
		Size:          cfg.PoolSize,
		WorkerPattern: cfg.WorkerPattern,
	})
	if err != nil {
		log.Fatalf("Failed to initialize accelerator pool: %v", err)
	}

	var history *notify.History
	var pusher *notify.WebPush
	if cfg.DatabaseDSN != "" {
		db, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{})
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		if history, err = notify.NewHistory(db); err != nil {
			log.Fatalf("Failed to initialize event history: %v", err)
		}
		if pusher, err = notify.NewWebPush(db, notify.WebPushOptions{Subscriber: cfg.PushSubscriber}); err != nil {
			log.Fatalf("Failed to initialize web push: %v", err)
		}
	} else {
		log.Warnf("No database configured; event history and web push are disabled")
	}

	var snapshots *notify.SnapshotStore
	if cfg.SnapshotDir != "" {
		if snapshots, err = notify.NewSnapshotStore(cfg.SnapshotDir, cfg.SnapshotMaxCount); err != nil {
			log.Fatalf("Failed to initialize snapshot store: %v", err)
		}
	}

	notifier := notify.NewNotifier(notify.Options{
		Confidence: cfg.NotifyConfidence,
		Cooldown:   time.Duration(cfg.NotifyCooldownSec) * time.Second,
		QuietStart: cfg.NotificationHoursStart,
		QuietEnd:   cfg.NotificationHoursEnd,
		Snapshots:  snapshots,
		History:    history,
	})

	statusws := serve.NewStatusUpdater()
	notifier.Listeners = append(notifier.Listeners, statusws)
	if pusher != nil {
		notifier.Listeners = append(notifier.Listeners, pusher)
	}

	registry := stream.NewRegistry(stream.Options{
		Template: video.Options{
			Pool:                pool,
			AcquireTimeout:      time.Duration(cfg.AcquireTimeoutSec) * time.Second,
			InputSize:           cfg.ModelInputSize,
			Confidence:          cfg.ConfidenceThreshold,
			IoU:                 cfg.IoUThreshold,
			QueueSize:           cfg.QueueSize,
			OutputBuffer:        cfg.OutputBufferSize,
			RecognitionInterval: time.Duration(cfg.RecognitionIntervalMS) * time.Millisecond,
			JoinTimeout:         time.Duration(cfg.JoinTimeoutSec) * time.Second,
			ShowTimestamp:       cfg.ShowTimestamp,
			OnDetections:        notifier.Detected,
		},
		DefaultLifetime: time.Duration(cfg.DefaultLifetimeMin) * time.Minute,
		SweepInterval:   time.Duration(cfg.SweepIntervalSec) * time.Second,
	})
	registry.Listeners = append(registry.Listeners, statusws)

	monitor := device.NewMonitor(device.Options{
		Prober:        &device.SensorProber{Prefix: cfg.DeviceSensorPrefix},
		Pool:          pool,
		Streams:       registry,
		Interval:      time.Duration(cfg.DeviceMonitorIntervalSec) * time.Second,
		WorkerPattern: cfg.WorkerPattern,
		Path:          cfg.DeviceInfoPath,
	})

	mux := http.NewServeMux()
	streamServer := &serve.StreamServer{Registry: registry}
	streamServer.RegisterHandlers(mux)
	eventServer := &serve.EventServer{History: history, Snapshots: snapshots}
	eventServer.RegisterHandlers(mux)
	if pusher != nil {
		pusher.RegisterHandlers(mux)
	}
	mux.Handle("/api/health", &serve.HealthServer{})
	mux.Handle("/api/device", &serve.DeviceServer{Monitor: monitor})
	mux.Handle("/statusws", statusws)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", listenHost, listenPort),
		Handler: handlers.CombinedLoggingHandler(os.Stdout, mux),
	}
	go func() {
		log.Infof("firewatch %v serving on %v", version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Caught signal %v, shutting down", sig)

	// Stop the streams first so live feed handlers see their terminal
	// markers and the connection drain below finishes quickly.
	registry.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	monitor.Close()
	pool.Close()
	log.Infof("Shutdown complete")
}
