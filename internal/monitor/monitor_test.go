package monitor

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_DisabledIsAnError(t *testing.T) {
	viper.Set("influx.enabled", false)
	t.Cleanup(func() { viper.Set("influx.enabled", true) })

	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"), nil)
	assert.Error(t, m.Connect())
}

func TestReport_FallsBackToGzipBackup(t *testing.T) {
	viper.Set("influx.enabled", true)
	viper.Set("influx.protocol", "http")
	viper.Set("influx.host", "127.0.0.1")
	viper.Set("influx.port", "1") // nothing listens here
	viper.Set("influx.token", "")
	viper.Set("influx.org", "tracker")

	backup := filepath.Join(t.TempDir(), "backup.gz")
	sample := func() Stats {
		return Stats{AlivePlayers: 3, OpenSituations: 1, BusyChannels: 2, PendingEvictions: 0, QueueDepth: 7, Viewers: 4}
	}
	m := NewManager(zerolog.Nop(), backup, sample)

	require.NoError(t, m.Connect())
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	require.NoError(t, m.Report())
	m.Close()

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	sc := bufio.NewScanner(zr)
	require.True(t, sc.Scan())
	line := sc.Text()
	assert.True(t, strings.HasPrefix(line, "engine_state"), "line protocol measurement name: %s", line)
	assert.Contains(t, line, "alive_players=3i")
	assert.Contains(t, line, "queue_depth=7i")
}

func TestReport_RequiresSampler(t *testing.T) {
	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"), nil)
	assert.Error(t, m.Report())
}
