// internal/logging/logging.go
package logging

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// LogFilePath builds a session log file path using OS-appropriate path
// separators.
func LogFilePath(logsDir string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("tracker.%s.log", sessionStart.Format("20060102_150405")),
	)
}

// GelfWriter opens a GELF UDP writer for Graylog shipping. The returned
// writer satisfies io.Writer and plugs straight into Setup as a sink.
func GelfWriter(address string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("dial graylog: %w", err)
	}
	w.Facility = serviceName
	return w, nil
}
