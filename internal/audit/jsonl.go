// internal/audit/jsonl.go
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JSONL appends one JSON object per line to a history file. It predates the
// database store and remains available for setups that tail the raw file.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	log  zerolog.Logger
	now  func() time.Time
}

type jsonlLine struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	Details   any       `json:"details"`
}

// NewJSONL opens (or creates) the history file for appending.
func NewJSONL(path string, log zerolog.Logger) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	log.Info().Str("path", path).Msg("Using JSONL audit file")
	return &JSONL{file: f, enc: json.NewEncoder(f), log: log, now: time.Now}, nil
}

// Append writes one line; failures are logged and swallowed.
func (j *JSONL) Append(recordType string, details any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	line := jsonlLine{Timestamp: j.now().UTC(), Type: recordType, Details: details}
	if err := j.enc.Encode(line); err != nil {
		j.log.Warn().Err(err).Str("type", recordType).Msg("Audit append failed")
	}
}

// Close flushes and closes the history file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
