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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronolake/compactor/cldb/migrations"
	"github.com/chronolake/compactor/internal/dbopen"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run catalog database migrations",
	Long:  "Bring the cldb schema up to the version this binary expects.",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	connStr, err := dbopen.GetDatabaseURLFromEnv("CLDB")
	if err != nil {
		return fmt.Errorf("%w: %w", dbopen.ErrDatabaseNotConfigured, err)
	}

	// Connect without the schema version check; the whole point here is to
	// bring an out-of-date schema forward.
	pool, err := dbopen.NewConnectionPool(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to cldb: %w", err)
	}
	defer pool.Close()

	slog.Info("Running cldb migrations")
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		return fmt.Errorf("failed to migrate cldb: %w", err)
	}
	slog.Info("cldb migrations completed successfully")
	return nil
}
