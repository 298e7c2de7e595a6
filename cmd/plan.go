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

	"github.com/spf13/cobra"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/compaction"
	"github.com/chronolake/compactor/internal/dbopen"
)

func init() {
	var (
		partitionID int64
		strategy    string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a compaction pass would do for one partition",
		Long: `Read the partition's live file set and print which files would be
rewritten, which would be promoted in place, and the level the replacements
would land at. Nothing is modified.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.Context(), partitionID, strategy)
		},
	}

	cmd.Flags().Int64Var(&partitionID, "partition", 0, "Partition ID to plan (required)")
	cmd.Flags().StringVar(&strategy, "strategy", "overlap", "Split strategy: overlap or all")
	_ = cmd.MarkFlagRequired("partition")

	rootCmd.AddCommand(cmd)
}

func runPlan(ctx context.Context, partitionID int64, strategy string) error {
	split, err := compaction.NewFileSplit(strategy)
	if err != nil {
		return err
	}

	store, err := dbopen.ConnectToCLDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to cldb: %w", err)
	}
	defer store.Close()

	files, err := store.ListActiveFilesByPartition(ctx, partitionID)
	if err != nil {
		return fmt.Errorf("failed to list files for partition %d: %w", partitionID, err)
	}
	if len(files) == 0 {
		fmt.Printf("partition %d has no active files\n", partitionID)
		return nil
	}

	target := compaction.TargetLevelFor(files)
	mustRewrite, canPromote := split.Apply(files, target)

	fmt.Printf("partition %d: %d active files, target level %s\n\n",
		partitionID, len(files), target)

	fmt.Printf("rewrite (%d files):\n", len(mustRewrite))
	printPlanFiles(mustRewrite, target)

	fmt.Printf("\npromote in place (%d files):\n", len(canPromote))
	printPlanFiles(canPromote, target)

	return nil
}

func printPlanFiles(files []cldb.ParquetFile, target cldb.CompactionLevel) {
	if len(files) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, f := range files {
		note := ""
		if f.CompactionLevel >= target {
			note = "  (already at target)"
		}
		fmt.Printf("  id=%d level=%s time=[%d,%d] rows=%d bytes=%d key=%s%s\n",
			f.ID, f.CompactionLevel, f.MinTime, f.MaxTime, f.RowCount, f.SizeBytes, f.ObjectKey, note)
	}
}
