//go:build integration

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

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/cldb/migrations"
)

// SetupTestCLDB creates a clean test catalog database with migrations
// applied. Returns a connection pool and registers cleanup with t.Cleanup.
func SetupTestCLDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	dbName := fmt.Sprintf("test_cldb_%d_%d", time.Now().Unix(), rand.Intn(10000))

	// Get connection details from environment
	host := getEnvOrDefault("CLDB_HOST", "localhost")
	port := getEnvOrDefault("CLDB_PORT", "5432")
	user := getEnvOrDefault("CLDB_USER", os.Getenv("USER"))
	baseDB := getEnvOrDefault("CLDB_DBNAME", "testing_cldb")

	// Connect to base database to create test database
	password := os.Getenv("CLDB_PASSWORD")
	var baseConnStr string
	if password != "" {
		baseConnStr = fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, baseDB)
	} else {
		baseConnStr = fmt.Sprintf("postgresql://%s@%s:%s/%s", user, host, port, baseDB)
	}
	basePool, err := pgxpool.New(ctx, baseConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}

	// Create test database
	_, err = basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	// Connect to test database
	var testConnStr string
	if password != "" {
		testConnStr = fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbName)
	} else {
		testConnStr = fmt.Sprintf("postgresql://%s@%s:%s/%s", user, host, port, dbName)
	}
	testPool, err := pgxpool.New(ctx, testConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Run migrations
	err = migrations.RunMigrationsUp(ctx, testPool)
	if err != nil {
		testPool.Close()
		t.Fatalf("Failed to run cldb migrations: %v", err)
	}

	// Partition ids feed a process-wide shelf keyed by id; start each test
	// database at a random offset so ids never repeat across databases.
	offset := 1_000_000 + rand.Int63n(1_000_000_000)
	_, err = testPool.Exec(ctx, fmt.Sprintf("ALTER SEQUENCE partitions_id_seq RESTART WITH %d", offset))
	if err != nil {
		testPool.Close()
		t.Fatalf("Failed to offset partitions id sequence: %v", err)
	}

	// Register cleanup
	t.Cleanup(func() {
		testPool.Close()

		// Drop test database
		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}

		// Close base pool after cleanup
		basePool.Close()
	})

	return testPool
}

// NewTestStore creates a cldb store connected to a fresh test database.
func NewTestStore(t *testing.T) *cldb.Store {
	pool := SetupTestCLDB(t)
	store := cldb.NewStore(pool)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
