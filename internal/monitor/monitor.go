// internal/monitor/monitor.go
package monitor

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Bucket receiving the engine gauges.
const engineBucket = "tracker_engine"

// Stats is a point-in-time view of the engine, sampled by the reporter.
type Stats struct {
	AlivePlayers     int
	OpenSituations   int
	BusyChannels     int
	PendingEvictions int
	QueueDepth       int
	Viewers          int
}

// StatsFunc samples the engine. It must be cheap; it runs on every report
// interval.
type StatsFunc func() Stats

// Manager handles the InfluxDB connection and periodic gauge writes. When
// Influx is unreachable the points go to a gzip line-protocol backup file
// instead, so a metrics outage never loses samples.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	sample StatsFunc
}

// NewManager creates an InfluxDB manager for the engine gauges.
func NewManager(log zerolog.Logger, backupPath string, sample StatsFunc) *Manager {
	return &Manager{
		IsValid:    false,
		Logger:     log,
		BackupPath: backupPath,
		sample:     sample,
	}
}

// Connect establishes a connection to InfluxDB, or opens the backup writer
// when the server is unreachable.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(context.Background())
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	m.Writer = m.Client.WriteAPI(viper.GetString("influx.org"), engineBucket)

	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", engineBucket).
				Msg("Error sending data to InfluxDB")
		}
	}()

	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
	}
	return nil
}

// Report samples the engine once and writes the gauges.
func (m *Manager) Report() error {
	if m.sample == nil {
		return errors.New("no stats sampler configured")
	}
	s := m.sample()
	point := influxdb2.NewPoint(
		"engine_state",
		map[string]string{},
		map[string]interface{}{
			"alive_players":     s.AlivePlayers,
			"open_situations":   s.OpenSituations,
			"busy_channels":     s.BusyChannels,
			"pending_evictions": s.PendingEvictions,
			"queue_depth":       s.QueueDepth,
			"viewers":           s.Viewers,
		},
		time.Now(),
	)
	return m.WritePoint(point)
}

// Run reports on the interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			if err := m.Report(); err != nil {
				m.Logger.Error().Err(err).Msg("Error reporting engine stats")
			}
		}
	}
}

// Close flushes pending writes and the backup file.
func (m *Manager) Close() {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		if err := m.BackupWriter.Close(); err != nil {
			m.Logger.Error().Err(err).Msg("Error closing backup writer")
		}
	}
}
