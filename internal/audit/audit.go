// internal/audit/audit.go
package audit

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Appender is the audit capability the engine consumes: append-only,
// fire-and-forget, failures swallowed and logged by the implementation.
type Appender interface {
	Append(recordType string, details any)
}

// Sink is a closable appender.
type Sink interface {
	Appender
	Close() error
}

// Nop discards every record; useful when auditing is disabled.
type Nop struct{}

func (Nop) Append(string, any) {}
func (Nop) Close() error       { return nil }

// Options selects and configures the audit backend.
type Options struct {
	Backend     string // "sqlite", "postgres" or "jsonl"
	SqlitePath  string // empty means in-memory
	PostgresDSN string
	JSONLPath   string
}

// Open builds the configured audit sink. An unknown backend is an error;
// disabling auditing is a deliberate choice the caller makes with Nop.
func Open(opts Options, log zerolog.Logger) (Sink, error) {
	switch opts.Backend {
	case "sqlite":
		return NewSqliteStore(opts.SqlitePath, log)
	case "postgres":
		return NewPostgresStore(opts.PostgresDSN, opts.SqlitePath, log)
	case "jsonl":
		return NewJSONL(opts.JSONLPath, log)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", opts.Backend)
	}
}
