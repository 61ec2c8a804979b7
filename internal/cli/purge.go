package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketmonitor/internal/infra/storage/postgres"
)

var purgeConfirmed bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored event",
	Long: `Delete every stored ItemListed and ItemCanceled event. Checkpoints are kept,
so run a rescan afterwards if the events should be ingested again.`,
	Run: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeConfirmed, "yes", false, "confirm deletion")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	if !purgeConfirmed {
		fmt.Println("Refusing to purge without --yes")
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.NewEventRepo(db).PurgeAll(ctx); err != nil {
		slog.Error("Failed to purge events", "error", err)
		os.Exit(1)
	}
	slog.Info("All events purged")
}
