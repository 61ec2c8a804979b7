package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	redisclient "github.com/vietddude/marketmonitor/internal/infra/redis"
	"github.com/vietddude/marketmonitor/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and lease holder of every stream",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// LeaseLookup reports which instance holds a stream's ingestion lease.
type LeaseLookup interface {
	LeaseHolder(ctx context.Context, stream string) (string, error)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	checkpoints, err := postgres.NewCheckpointRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list checkpoints", "error", err)
		os.Exit(1)
	}

	var leases LeaseLookup
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, lease holders not shown", "error", err)
		} else {
			defer func() {
				_ = client.Close()
			}()
			leases = client
		}
	}

	printStatus(ctx, os.Stdout, checkpoints, leases)
}

// printStatus writes one row per checkpoint. leases may be nil.
func printStatus(ctx context.Context, out io.Writer, checkpoints []domain.Checkpoint, leases LeaseLookup) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tCONTRACT\tBLOCK\tUPDATED\tLEASE")
	for _, cp := range checkpoints {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			cp.Stream.ChainID.Name(),
			cp.Stream.Contract,
			cp.BlockNumber,
			cp.UpdatedAt.Format(time.RFC3339),
			leaseHolder(ctx, leases, cp.Stream),
		)
	}
	_ = w.Flush()
}

func leaseHolder(ctx context.Context, leases LeaseLookup, stream domain.StreamKey) string {
	if leases == nil {
		return "-"
	}
	holder, err := leases.LeaseHolder(ctx, stream.String())
	if err != nil {
		return "error"
	}
	if holder == "" {
		return "free"
	}
	return holder
}
