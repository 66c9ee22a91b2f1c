// internal/logging/slog.go
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const serviceName = "samapviewer-tracker"

// Manager owns the process-wide slog setup: console plus any number of
// extra sinks (log file, GELF), with an optional OTel bridge. Every record
// is routed through a ContextHandler so runtime attributes registered with
// SetContextProvider (viewer count, uptime) appear on all lines.
type Manager struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	provider ContextProvider

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewManager creates an unconfigured logging manager; Logger falls back to
// slog.Default until Setup runs.
func NewManager() *Manager {
	return &Manager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the handler chain. Sinks may be nil; a nil provider disables
// the OTel bridge. Timestamps render as RFC3339 in UTC everywhere.
func (m *Manager) Setup(level string, provider *sdklog.LoggerProvider, sinks ...io.Writer) {
	lvl := parseLevel(level)
	m.logProvider = provider

	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, handlerOpts)}
	for _, sink := range sinks {
		if sink != nil {
			handlers = append(handlers, slog.NewTextHandler(sink, handlerOpts))
		}
	}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)))
	}

	m.logger = slog.New(NewContextHandler(NewMultiHandler(handlers...), m.dynamicAttrs))
	m.logger.Info("Logging initialized", "level", level)
}

// SetContextProvider registers the runtime-attribute sampler. May be called
// after Setup, once the components the attributes come from exist.
func (m *Manager) SetContextProvider(p ContextProvider) {
	m.mu.Lock()
	m.provider = p
	m.mu.Unlock()
}

func (m *Manager) dynamicAttrs() []slog.Attr {
	m.mu.RLock()
	p := m.provider
	m.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p()
}

// Logger returns the configured slog.Logger.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *Manager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
