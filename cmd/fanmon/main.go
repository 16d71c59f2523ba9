package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luki/fanmon/internal/config"
	"github.com/luki/fanmon/internal/metrics"
	"github.com/luki/fanmon/internal/monitor"
	"github.com/luki/fanmon/internal/session"
	"github.com/luki/fanmon/internal/supervisor"
)

var log *zap.Logger

func main() {
	// parse command line args
	configFile := flag.String("config.file", config.DefaultPath(), "unit list and monitor settings")
	debug := flag.Bool("debug", false, "enable debug logging")
	headless := flag.Bool("headless", false, "poll and serve metrics without the terminal UI")
	listen := flag.String("listen", "", "address for the metrics endpoint, overrides the config file")
	logFile := flag.String("log.file", "", "log destination (default stderr in headless mode, a temp file otherwise)")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := session.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	output := *logFile
	if output == "" {
		output = "stderr"
		if !*headless {
			output = filepath.Join(os.TempDir(), "fanmon.log")
		}
	}

	level := zap.InfoLevel
	if *debug {
		level = zap.DebugLevel
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{output},
	}

	var err error
	log, err = zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot set up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting fanmon", zap.String("config", *configFile), zap.Bool("headless", *headless))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := config.Register(registry); err != nil {
		log.Fatal("error registering config metrics", zap.Error(err))
	}

	// inital config load
	sc := config.New(*configFile)
	if err := sc.LoadConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal("error loading config", zap.Error(err))
		}
		log.Warn("config file not found, starting without units", zap.String("file", *configFile))
	}
	cfg := sc.Get()

	fleet := supervisor.NewFleet(supervisor.OptionsFrom(cfg), session.Open, log)
	defer fleet.Close()
	fleet.Apply(cfg)

	registry.MustRegister(metrics.New(fleet, log))

	addr := cfg.Listen
	if *listen != "" {
		addr = *listen
	}

	var p *tea.Program
	if !*headless {
		p = tea.NewProgram(monitor.New(fleet, cfg), tea.WithAltScreen())
	}

	// setup config reload
	reloadRequest := make(chan chan error)
	go reloadLoop(sc, fleet, reloadRequest, func(c *config.Config) {
		if *listen == "" && c.Listen != addr {
			log.Warn("listen address changed, restart to apply", zap.String("listen", addr), zap.String("new", c.Listen))
		}
		if p != nil {
			p.Send(monitor.ConfigMsg{Config: c})
		}
	})

	if addr != "" {
		go serve(addr, registry, reloadRequest)
	}

	if *headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log.Info("polling units", zap.Strings("units", fleet.Names()), zap.Duration("refresh_interval", fleet.RefreshInterval()))
		fleet.Run(ctx)
		log.Info("shutting down")
		return
	}

	if _, err := p.Run(); err != nil {
		log.Error("monitor exited with error", zap.Error(err))
	}
	log.Info("shutting down")
}

// reloadLoop reloads the config on SIGHUP or an API request, applies it to
// the fleet and then hands it to onReload.
func reloadLoop(sc *config.SafeConfig, fleet *supervisor.Fleet, reloadRequest chan chan error, onReload func(*config.Config)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for {
		var err error
		select {
		case <-hup:
			log.Debug("config reload triggered by SIGHUP")
			err = sc.LoadConfig()
		case reloadResult := <-reloadRequest:
			log.Debug("config reload triggered by API")
			err = sc.LoadConfig()
			reloadResult <- err
		}
		if err != nil {
			log.Error("error reloading config", zap.Error(err))
			continue
		}
		log.Info("reloaded config file")
		c := sc.Get()
		fleet.Apply(c)
		onReload(c)
	}
}

func serve(addr string, registry *prometheus.Registry, reloadRequest chan chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "use POST", http.StatusMethodNotAllowed)
			return
		}
		reloadResult := make(chan error)
		reloadRequest <- reloadResult
		if err := <-reloadResult; err != nil {
			http.Error(w, fmt.Sprintf("failed to reload config: %s", err), http.StatusInternalServerError)
		}
	})

	log.Info("starting http server", zap.String("listen", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("error running http server", zap.Error(err))
	}
}
