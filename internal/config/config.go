package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/samapviewer/tracker/internal/geo"
	"github.com/samapviewer/tracker/internal/model/core"
)

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./trackerlogs")
	viper.SetDefault("apiKey", "")

	viper.SetDefault("world.minX", -3000.0)
	viper.SetDefault("world.maxX", 3000.0)
	viper.SetDefault("world.minY", -3000.0)
	viper.SetDefault("world.maxY", 3000.0)
	viper.SetDefault("world.padding.left", 0.0)
	viper.SetDefault("world.padding.top", 0.0)
	viper.SetDefault("world.padding.right", 0.0)
	viper.SetDefault("world.padding.bottom", 0.0)
	viper.SetDefault("world.locations", map[string]any{})

	viper.SetDefault("engine.freshnessWindow", "5m")
	viper.SetDefault("engine.livenessMaxAge", "5m")
	viper.SetDefault("engine.evictionInterval", "30s")
	viper.SetDefault("engine.broadcastQueueSize", 4096)

	viper.SetDefault("audit.backend", "sqlite")
	viper.SetDefault("audit.sqlitePath", "")
	viper.SetDefault("audit.jsonlPath", "./history.jsonl")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "tracker")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "tracker-metrics")
	viper.SetDefault("influx.backupPath", "./influx_backup.gz")
	viper.SetDefault("influx.reportInterval", "15s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "15s")

	viper.SetConfigName("tracker.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// WorldBounds assembles the projector bounds from config.
func WorldBounds() geo.Bounds {
	return geo.Bounds{
		MinX: viper.GetFloat64("world.minX"),
		MaxX: viper.GetFloat64("world.maxX"),
		MinY: viper.GetFloat64("world.minY"),
		MaxY: viper.GetFloat64("world.maxY"),
	}
}

// WorldPadding assembles the projector edge padding from config.
func WorldPadding() geo.Padding {
	return geo.Padding{
		Left:   viper.GetFloat64("world.padding.left"),
		Top:    viper.GetFloat64("world.padding.top"),
		Right:  viper.GetFloat64("world.padding.right"),
		Bottom: viper.GetFloat64("world.padding.bottom"),
	}
}

// NamedLocations reads the named-location table. Values are "x,y" strings;
// unparsable entries are skipped.
func NamedLocations() map[string]core.Position {
	raw := viper.GetStringMapString("world.locations")
	out := make(map[string]core.Position, len(raw))
	resolver := geo.NewResolver(nil)
	for name, val := range raw {
		if pos, ok := resolver.Resolve(val); ok {
			out[name] = pos
		}
	}
	return out
}

// PostgresDSN assembles the audit-store DSN from the db.* keys.
func PostgresDSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
