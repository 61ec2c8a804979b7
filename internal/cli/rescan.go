package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketmonitor/internal/core/config"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	redisclient "github.com/vietddude/marketmonitor/internal/infra/redis"
)

var (
	rescanChain    string
	rescanContract string
)

var rescanCmd = &cobra.Command{
	Use:   "rescan [start-end]",
	Short: "Queue a block range to be scanned again",
	Long: `Queue a block range for the rescan worker of one stream. The range is
re-read and stored idempotently; the checkpoint is not changed.`,
	Args: cobra.ExactArgs(1),
	Run:  runRescan,
}

func init() {
	rescanCmd.Flags().StringVar(&rescanChain, "chain", "", "chain id")
	rescanCmd.Flags().StringVar(&rescanContract, "contract", "", "marketplace contract address")
	_ = rescanCmd.MarkFlagRequired("chain")
	_ = rescanCmd.MarkFlagRequired("contract")
	rootCmd.AddCommand(rescanCmd)
}

func runRescan(cmd *cobra.Command, args []string) {
	r, err := domain.ParseBlockRange(args[0])
	if err != nil {
		fmt.Printf("Invalid range: %v\n", err)
		os.Exit(1)
	}
	chainID, err := domain.ParseChainID(rescanChain)
	if err != nil {
		fmt.Printf("Invalid chain id: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	stream, err := findStream(cfg, chainID, rescanContract)
	if err != nil {
		slog.Error("Unknown stream", "error", err)
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.PushRange(context.Background(), stream.String(), r.Start, r.End); err != nil {
		slog.Error("Failed to queue range", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Queued %s for %s\n", r, stream)
}

// findStream returns the configured stream matching chainID and contract.
func findStream(cfg *config.AppConfig, chainID domain.ChainID, contract string) (domain.StreamKey, error) {
	want := domain.NewStreamKey(chainID, contract)
	for _, c := range cfg.Chains {
		if c.ChainID != chainID {
			continue
		}
		for _, ct := range c.Contracts {
			if domain.NewStreamKey(c.ChainID, ct.Address) == want {
				if !c.RescanRanges {
					slog.Warn("Rescan ranges are disabled for this chain; the range stays queued", "chain", c.DisplayName())
				}
				return want, nil
			}
		}
	}
	return domain.StreamKey{}, fmt.Errorf("no configured stream %s", want)
}
