// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Command is an inbound mutation request from the transport layer.
type Command struct {
	Name       string
	Args       []string
	ReceivedAt time.Time
}

// Result is a handler's answer to the transport: the snapshot of the
// mutated record, or a queued acknowledgement for async commands.
type Result struct {
	Queued   bool `json:"queued,omitempty"`
	Snapshot any  `json:"snapshot,omitempty"`
}

// HandlerFunc processes one command. The context is the caller's request
// context for synchronous commands and a background context once a command
// has been queued.
type HandlerFunc func(ctx context.Context, c Command) (Result, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	logged     bool
}

// Buffered makes the handler async behind a queue of the given size. When
// the queue is full the oldest queued command is discarded to admit the new
// one: position reports supersede each other, so the latest state wins.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes commands to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	// Track buffers for gauge callback
	mu      sync.RWMutex
	buffers map[string]chan Command
}

// New creates a new Dispatcher with the given logger. Metrics go through
// the global OTel meter, a no-op until a meter provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Command),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"tracker.commands.queue.size",
		metric.WithDescription("Current number of commands in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for cmd, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("command", cmd)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"tracker.commands.processed",
		metric.WithDescription("Total commands processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"tracker.commands.dropped",
		metric.WithDescription("Total stale commands superseded in a full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(name string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(name, cfg.bufferSize, handler)
	}

	if cfg.logged {
		handler = d.withLogging(name, handler)
	}

	d.handlers[name] = handler
}

// Dispatch routes a command to its registered handler.
func (d *Dispatcher) Dispatch(ctx context.Context, c Command) (Result, error) {
	h, ok := d.handlers[c.Name]
	if !ok {
		return Result{}, fmt.Errorf("unknown command: %s", c.Name)
	}
	return h(ctx, c)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

func (d *Dispatcher) withBuffer(name string, size int, h HandlerFunc) HandlerFunc {
	buffer := make(chan Command, size)

	d.mu.Lock()
	d.buffers[name] = buffer
	d.mu.Unlock()

	cmdAttr := attribute.String("command", name)

	go func() {
		for c := range buffer {
			h(context.Background(), c)
			d.processed.Add(context.Background(), 1, metric.WithAttributes(cmdAttr))
		}
	}()

	return func(ctx context.Context, c Command) (Result, error) {
		for {
			select {
			case buffer <- c:
				return Result{Queued: true}, nil
			default:
			}
			// Full: supersede the oldest queued command. The inner default
			// covers the worker draining the buffer between the two selects.
			select {
			case <-buffer:
				d.dropped.Add(ctx, 1, metric.WithAttributes(cmdAttr))
			default:
			}
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, c Command) (Result, error) {
		start := time.Now()
		d.logger.Debug("handling command", "command", name, "args", len(c.Args))

		result, err := h(ctx, c)

		if err != nil {
			d.logger.Error("command failed", "command", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("command complete", "command", name, "duration", time.Since(start))
		}

		return result, err
	}
}
