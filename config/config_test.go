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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Compaction.Workers)
	require.Equal(t, 10, cfg.Compaction.MaxJobs)
	require.Equal(t, "overlap", cfg.Compaction.SplitStrategy)
	require.Equal(t, 5*time.Minute, cfg.Scheduler.LeaseDuration)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.SkipDuration)
	require.Equal(t, 30*time.Second, cfg.DoneSink.RetryMaxElapsedTime)
	require.False(t, cfg.Events.Enabled)
	require.Equal(t, "chronolake.compaction.done", cfg.Events.Topic)
	require.Equal(t, time.Hour, cfg.Sweep.GraceAge)
	require.Equal(t, 8090, cfg.Health.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHRONOLAKE_COMPACTION_WORKERS", "8")
	t.Setenv("CHRONOLAKE_COMPACTION_SPLIT_STRATEGY", "all")
	t.Setenv("CHRONOLAKE_COMPACTION_BUCKET", "chronolake-parquet")
	t.Setenv("CHRONOLAKE_SCHEDULER_LEASE_DURATION", "10m")
	t.Setenv("CHRONOLAKE_EVENTS_ENABLED", "true")
	t.Setenv("CHRONOLAKE_EVENTS_BROKERS", "broker1:9092,broker2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8, cfg.Compaction.Workers)
	require.Equal(t, "all", cfg.Compaction.SplitStrategy)
	require.Equal(t, "chronolake-parquet", cfg.Compaction.Bucket)
	require.Equal(t, 10*time.Minute, cfg.Scheduler.LeaseDuration)
	require.True(t, cfg.Events.Enabled)
	require.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Events.Brokers)
}

func TestLoadStorageEnvVars(t *testing.T) {
	t.Setenv("CHRONOLAKE_STORAGE_REGION", "eu-west-1")
	t.Setenv("CHRONOLAKE_STORAGE_ENDPOINT", "http://localhost:9000")
	t.Setenv("CHRONOLAKE_STORAGE_PATH_STYLE", "true")
	t.Setenv("CHRONOLAKE_SWEEP_GRACE_AGE", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "eu-west-1", cfg.Storage.Region)
	require.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
	require.True(t, cfg.Storage.PathStyle)
	require.Equal(t, 30*time.Minute, cfg.Sweep.GraceAge)
}
