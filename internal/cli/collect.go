package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/collector"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/logging"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/stats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "采集容器生命周期事件",
}

var collectRunCmd = &cobra.Command{
	Use:   "run",
	Short: "订阅 Docker 事件流并持续落库，Ctrl-C 退出",
	Run:   runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.AddCommand(collectRunCmd)
}

func runCollect(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store := openStore(ctx)
	defer store.Close()
	defer collector.CloseClient()

	agg, err := stats.New(store)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	collectorCfg := cfg.Collector
	collectorCfg.OnError = func(err error) {
		log.Warn("collector event dropped", zap.Error(err))
	}

	lc, err := collector.NewLifecycleCollector(agg, log, collectorCfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := lc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("lifecycle collector stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("lifecycle collector stopped")
}
