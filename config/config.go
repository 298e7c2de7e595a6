// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the compactor.
type Config struct {
	Compaction CompactionConfig `mapstructure:"compaction"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	DoneSink   DoneSinkConfig   `mapstructure:"done_sink"`
	Events     EventsConfig     `mapstructure:"events"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Health     HealthConfig     `mapstructure:"health"`
}

// CompactionConfig tunes the driver loop.
type CompactionConfig struct {
	// Workers is the number of partitions compacted concurrently.
	Workers int `mapstructure:"workers"`
	// MaxJobs caps how many partitions one lease round claims.
	MaxJobs int `mapstructure:"max_jobs"`
	// IdleSleep is the pause after a pass that found no work.
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
	// SplitStrategy selects how files are split into rewrite and promote
	// sets: "overlap" or "all".
	SplitStrategy string `mapstructure:"split_strategy"`
	// Bucket holds the parquet objects.
	Bucket string `mapstructure:"bucket"`
}

// SchedulerConfig tunes job claims.
type SchedulerConfig struct {
	// LeaseDuration is how long a claim survives without a heartbeat.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// SkipDuration is how long a failed partition is shelved.
	SkipDuration time.Duration `mapstructure:"skip_duration"`
}

// DoneSinkConfig tunes the retry policy for recording job outcomes.
type DoneSinkConfig struct {
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxElapsedTime  time.Duration `mapstructure:"retry_max_elapsed_time"`
}

// EventsConfig wires the Kafka outcome notifier.
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// StorageConfig wires the S3 client.
type StorageConfig struct {
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	PathStyle   bool   `mapstructure:"path_style"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
}

// SweepConfig tunes the soft-delete sweeper.
type SweepConfig struct {
	// Workers is the number of concurrent object deleters.
	Workers int `mapstructure:"workers"`
	// GraceAge is how long a soft-deleted row must sit before its object is
	// purged, covering in-flight readers that resolved the old file set.
	GraceAge time.Duration `mapstructure:"grace_age"`
	// BatchSize is the number of rows drained per sweep round.
	BatchSize int `mapstructure:"batch_size"`
	// IdleSleep is the pause after a round that swept nothing.
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
}

// HealthConfig tunes the probe server.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Compaction: CompactionConfig{
			Workers:       4,
			MaxJobs:       10,
			IdleSleep:     2 * time.Second,
			SplitStrategy: "overlap",
		},
		Scheduler: SchedulerConfig{
			LeaseDuration: 5 * time.Minute,
			SkipDuration:  15 * time.Minute,
		},
		DoneSink: DoneSinkConfig{
			RetryInitialInterval: 250 * time.Millisecond,
			RetryMaxElapsedTime:  30 * time.Second,
		},
		Events: EventsConfig{
			Topic: "chronolake.compaction.done",
		},
		Storage: StorageConfig{
			Region: "us-east-1",
		},
		Sweep: SweepConfig{
			Workers:   10,
			GraceAge:  time.Hour,
			BatchSize: 500,
			IdleSleep: 5 * time.Second,
		},
		Health: HealthConfig{
			Port: 8090,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "CHRONOLAKE" and the dot character in
// keys is replaced by an underscore. For example, "events.brokers" becomes
// "CHRONOLAKE_EVENTS_BROKERS".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CHRONOLAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("events.brokers"); b != "" {
		cfg.Events.Brokers = strings.Split(b, ",")
	}
	cfg.Events.Enabled = v.GetBool("events.enabled")
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
