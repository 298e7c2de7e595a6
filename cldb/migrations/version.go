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

package migrations

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultCheckTimeout  = 120 * time.Second
	defaultRetryInterval = 5 * time.Second
)

// CheckExpectedVersion verifies that the database is at the schema version
// this binary was built against, waiting for in-flight migrations to finish.
// Set CLDB_MIGRATION_CHECK_ENABLED=false to skip the check entirely.
func CheckExpectedVersion(ctx context.Context, pool *pgxpool.Pool) error {
	if val := os.Getenv("CLDB_MIGRATION_CHECK_ENABLED"); val != "" && strings.ToLower(val) != "true" {
		slog.Debug("Migration version checking disabled for cldb")
		return nil
	}

	timeout := defaultCheckTimeout
	if val := os.Getenv("MIGRATION_CHECK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			timeout = d
		}
	}
	retryInterval := defaultRetryInterval
	if val := os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			retryInterval = d
		}
	}

	expectedVersion, err := extractLatestMigrationVersion(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version: %w", err)
	}

	currentVersion, dirty, err := CurrentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("cldb migration is in dirty state, please fix before proceeding")
	}
	if currentVersion == expectedVersion {
		return nil
	}
	if currentVersion > expectedVersion {
		return fmt.Errorf("cldb version %d is newer than expected version %d - you may need to update the application",
			currentVersion, expectedVersion)
	}

	slog.Info("Waiting for cldb migrations to complete",
		slog.Uint64("current_version", uint64(currentVersion)),
		slog.Uint64("expected_version", uint64(expectedVersion)))

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		currentVersion, _, err = CurrentVersion(ctx, pool)
		if err != nil {
			return err
		}
		if currentVersion == expectedVersion {
			slog.Info("Migration version check passed", slog.Uint64("version", uint64(currentVersion)))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for cldb migrations: current version %d, expected %d",
				currentVersion, expectedVersion)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for cldb migrations: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// extractLatestMigrationVersion extracts the highest migration version from
// embedded migration files named like "1747180800_initial.up.sql".
func extractLatestMigrationVersion(files embed.FS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 1 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		if uint(version) > maxVersion {
			maxVersion = uint(version)
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found")
	}
	return maxVersion, nil
}
