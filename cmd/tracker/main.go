// cmd/tracker/main.go
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/samapviewer/tracker/internal/audit"
	"github.com/samapviewer/tracker/internal/broadcast"
	"github.com/samapviewer/tracker/internal/config"
	"github.com/samapviewer/tracker/internal/dispatcher"
	"github.com/samapviewer/tracker/internal/eviction"
	"github.com/samapviewer/tracker/internal/geo"
	"github.com/samapviewer/tracker/internal/logging"
	"github.com/samapviewer/tracker/internal/model/core"
	"github.com/samapviewer/tracker/internal/monitor"
	"github.com/samapviewer/tracker/internal/radio"
	"github.com/samapviewer/tracker/internal/registry"
	"github.com/samapviewer/tracker/internal/situation"
	"github.com/samapviewer/tracker/internal/telemetry"
)

var sessionStart = time.Now()

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if opts.version {
		fmt.Printf("tracker %s (built %s)\n", Version, BuildDate)
		return
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts cliOptions) error {
	if err := config.Load(opts.configDir); err != nil {
		return err
	}

	// logging: console + session file + optional graylog
	logManager := logging.NewManager()
	var sinks []io.Writer
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err == nil {
		if f, err := os.OpenFile(logging.LogFilePath(logsDir, sessionStart),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			defer f.Close()
			sinks = append(sinks, f)
		}
	}
	if config.GetBool("graylog.enabled") {
		if w, err := logging.GelfWriter(config.GetString("graylog.address")); err == nil {
			sinks = append(sinks, w)
		}
	}

	// telemetry: log export plus the global meter the dispatcher reports to
	var otelWriter io.Writer
	if config.GetBool("otel.enabled") {
		f, err := os.OpenFile(filepath.Join(logsDir, "tracker.otel.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open otel log file: %w", err)
		}
		defer f.Close()
		otelWriter = f
	}
	tele, err := telemetry.New(telemetry.Config{
		Enabled:        config.GetBool("otel.enabled"),
		ServiceName:    "samapviewer-tracker",
		BatchTimeout:   config.GetDuration("otel.batchTimeout"),
		MetricInterval: config.GetDuration("otel.metricInterval"),
		LogWriter:      otelWriter,
		Endpoint:       config.GetString("otel.endpoint"),
		Insecure:       config.GetBool("otel.insecure"),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	logManager.Setup(config.GetString("logLevel"), tele.LoggerProvider(), sinks...)
	log := logManager.Logger()
	log.Info("tracker starting", "version", Version, "buildDate", BuildDate)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// audit store
	sink, err := audit.Open(audit.Options{
		Backend:     config.GetString("audit.backend"),
		SqlitePath:  config.GetString("audit.sqlitePath"),
		PostgresDSN: config.PostgresDSN(),
		JSONLPath:   config.GetString("audit.jsonlPath"),
	}, zlog)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer sink.Close()

	// broadcast: websocket hub behind a bounded queue
	hub := broadcast.NewHub(config.GetString("apiKey"), log)
	queue := broadcast.NewQueue(hub, config.GetInt("engine.broadcastQueueSize"), log)
	defer queue.Close()
	defer hub.Close()

	// every log line carries the live viewer count and process uptime
	logManager.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{
			slog.Int("viewers", hub.ClientCount()),
			slog.Duration("uptime", time.Since(sessionStart).Round(time.Second)),
		}
	})

	// engine registries, dependency-injected, no singletons
	resolver := geo.NewResolver(config.NamedLocations())
	projector := geo.NewProjector(config.WorldBounds(), config.WorldPadding())

	reg := registry.New(queue, sink)
	channels := radio.NewManager(queue, sink)
	situations := situation.NewManager(channels, reg, reg, resolver, queue, sink, log)

	freshness := config.GetDuration("engine.freshnessWindow")
	scheduler := eviction.NewScheduler(reg, sink, freshness, log)

	// command routing
	disp, err := dispatcher.New(logging.NewKVLogger(zlog))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	dispatcher.RegisterEngine(disp, dispatcher.Engine{
		Registry:   reg,
		Situations: situations,
		Channels:   channels,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx, config.GetDuration("engine.evictionInterval"))

	// runtime gauges
	if config.GetBool("influx.enabled") {
		maxAge := config.GetDuration("engine.livenessMaxAge")
		stats := func() monitor.Stats {
			open := 0
			for _, s := range situations.List() {
				if s.Open {
					open++
				}
			}
			busy := 0
			for _, ch := range channels.List() {
				if ch.IsBusy {
					busy++
				}
			}
			return monitor.Stats{
				AlivePlayers:     len(reg.ListAlive(maxAge)),
				OpenSituations:   open,
				BusyChannels:     busy,
				PendingEvictions: scheduler.PendingCount(),
				QueueDepth:       queue.Depth(),
				Viewers:          hub.ClientCount(),
			}
		}
		influx := monitor.NewManager(zlog, config.GetString("influx.backupPath"), stats)
		if err := influx.Connect(); err != nil {
			log.Warn("influx disabled", "error", err)
		} else {
			go influx.Run(ctx, config.GetDuration("influx.reportInterval"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/command", commandHandler(disp, config.GetString("apiKey")))
	mux.HandleFunc("/history", historyHandler(sink, config.GetString("apiKey")))
	mux.HandleFunc("/project", projectHandler(projector))

	srv := &http.Server{Addr: opts.listenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", opts.listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		if err := logManager.Flush(shutdownCtx); err != nil {
			log.Warn("log flush", "error", err)
		}
		return tele.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func checkSecret(r *http.Request, apiKey string) bool {
	got := r.Header.Get("X-Api-Key")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) == 1
}

// commandHandler feeds POSTed commands into the dispatcher. The shared
// secret check lives here, outside the engine.
func commandHandler(disp *dispatcher.Dispatcher, apiKey string) http.HandlerFunc {
	type request struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkSecret(r, apiKey) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := disp.Dispatch(r.Context(), dispatcher.Command{
			Name:       req.Name,
			Args:       req.Args,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	}
}

// historyHandler serves the recent audit tail when the store supports it.
func historyHandler(sink audit.Sink, apiKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkSecret(r, apiKey) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		store, ok := sink.(*audit.Store)
		if !ok {
			http.Error(w, "history not available for this audit backend", http.StatusNotImplemented)
			return
		}
		recs, err := store.Tail(100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	}
}

// projectHandler maps a world position into a viewport for the display
// layer. No secret: it exposes no state, only geometry.
func projectHandler(p *geo.Projector) http.HandlerFunc {
	parse := func(r *http.Request, key string) (float64, error) {
		return strconv.ParseFloat(r.URL.Query().Get(key), 64)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		x, errX := parse(r, "x")
		y, errY := parse(r, "y")
		vw, errW := parse(r, "w")
		vh, errH := parse(r, "h")
		if errX != nil || errY != nil || errW != nil || errH != nil {
			http.Error(w, "x, y, w, h query params required", http.StatusBadRequest)
			return
		}
		pos, ok := p.Project(core.Position{X: x, Y: y}, geo.Viewport{W: vw, H: vh})
		if !ok {
			http.Error(w, "viewport not ready", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{"x": pos.X, "y": pos.Y})
	}
}
