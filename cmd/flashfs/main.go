package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/flashfs/internal/config"
	"github.com/AnishMulay/flashfs/internal/fuse_service"
	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/AnishMulay/flashfs/internal/monitor_service"
	"github.com/AnishMulay/flashfs/internal/storage_service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		foreground  = flag.Bool("f", false, "Keep the process in the foreground (accepted for compatibility; the process never daemonizes)")
		debug       = flag.Bool("d", false, "Enable debug output")
		configPath  = flag.String("config", "", "Optional YAML config file")
		logFile     = flag.String("log-file", "", "Log file (default stderr)")
		metricsAddr = flag.String("metrics-addr", "", "Optional listen address for prometheus /metrics")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <mount_point>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	mountpoint := flag.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer file.Close()
		logOut = file
	}
	logger := log_service.NewLogrusLogger(logOut, *debug)
	ls := log_service.NewLogrusLogService(logger, "Main")

	info, err := os.Stat(mountpoint)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Mount point does not exist",
			Metadata: map[string]any{"mountpoint": mountpoint},
		})
		os.Exit(1)
	}
	if !info.IsDir() {
		ls.Error(log_service.LogEvent{
			Message:  "Mount point is not a directory",
			Metadata: map[string]any{"mountpoint": mountpoint},
		})
		os.Exit(1)
	}

	ls.Info(log_service.LogEvent{
		Message:  "Starting flashfs",
		Metadata: map[string]any{"mountpoint": mountpoint, "drives": cfg.NumDrives, "foreground": *foreground},
	})

	accelerator := storage_service.NewStorageAccelerator(cfg.NumDrives, cfg.HashSeed, ls.WithComponent("StorageAccelerator"))

	server, err := fuse_service.Mount(mountpoint, accelerator, ls.WithComponent("FuseService"), *debug)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to mount filesystem",
			Metadata: map[string]any{"mountpoint": mountpoint, "error": err.Error()},
		})
		_ = accelerator.Close()
		os.Exit(1)
	}

	monitor := monitor_service.NewMonitor(accelerator, ls.WithComponent("Monitor"), cfg.MonitorInterval)
	monitor.Start()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(monitor_service.Registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				ls.Error(log_service.LogEvent{
					Message:  "Metrics listener failed",
					Metadata: map[string]any{"addr": cfg.MetricsAddr, "error": err.Error()},
				})
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-signals
		ls.Info(log_service.LogEvent{
			Message:  "Received signal, shutting down",
			Metadata: map[string]any{"signal": sig.String()},
		})
		if err := server.Unmount(); err != nil {
			ls.Error(log_service.LogEvent{
				Message:  "Unmount failed",
				Metadata: map[string]any{"error": err.Error()},
			})
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		server.Serve()
		return nil
	})
	_ = g.Wait()

	monitor.Stop()
	_ = accelerator.Close()
	ls.Info(log_service.LogEvent{Message: "Shutdown complete"})
}
