package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/stats"
	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "查看运行遥测",
	Long:  `按代理、错误、容器、日志量和事件查看累积统计。所有查询只读。`,
}

var (
	statsLimit int
	logService string
	logDays    int
	eventLimit int
)

var topProxiesCmd = &cobra.Command{
	Use:   "top-proxies",
	Short: "按请求量倒序列出代理统计",
	Run:   runTopProxies,
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "按服务汇总错误统计",
	Run:   runErrors,
}

var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "列出容器生命周期统计",
	Run:   runContainers,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "列出最近的日志量摘要",
	Run:   runLogs,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "列出最近的系统事件",
	Run:   runEvents,
}

func init() {
	topProxiesCmd.Flags().IntVar(&statsLimit, "limit", 20, "返回条数上限")
	logsCmd.Flags().StringVar(&logService, "service", "", "只看某个服务")
	logsCmd.Flags().IntVar(&logDays, "days", 7, "最近 N 天")
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 50, "返回条数上限")

	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(topProxiesCmd)
	statsCmd.AddCommand(errorsCmd)
	statsCmd.AddCommand(containersCmd)
	statsCmd.AddCommand(logsCmd)
	statsCmd.AddCommand(eventsCmd)
}

func openAggregator(ctx context.Context) (*stats.Aggregator, func()) {
	store := openStore(ctx)
	agg, err := stats.New(store)
	if err != nil {
		fmt.Printf("Error building aggregator: %v\n", err)
		_ = store.Close()
		os.Exit(1)
	}
	return agg, func() { _ = store.Close() }
}

func runTopProxies(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	agg, closeFn := openAggregator(ctx)
	defer closeFn()

	rows, err := agg.TopProxies(ctx, statsLimit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTOTAL\tSUCCESS\tFAILED\tTIMEOUT\tAVG_MS\tLAST_STATUS\tLAST_SEEN")
	for _, p := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			p.Address, p.TotalRequests, p.SuccessCount, p.FailedCount, p.TimeoutCount,
			p.AvgResponseMs, p.LastStatus, p.LastSeen.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func runErrors(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	agg, closeFn := openAggregator(ctx)
	defer closeFn()

	rows, err := agg.ErrorSummaryByService(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tDISTINCT\tOCCURRENCES\tUNRESOLVED")
	for _, s := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Service, s.DistinctErrors, s.Occurrences, s.Unresolved)
	}
	w.Flush()
}

func runContainers(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	agg, closeFn := openAggregator(ctx)
	defer closeFn()

	rows, err := agg.ContainerStatsAll(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTARTS\tSTOPS\tRESTARTS\tCRASHES\tUPTIME_S\tLAST_STATUS")
	for _, c := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			c.ContainerName, c.StartCount, c.StopCount, c.RestartCount, c.CrashCount,
			c.TotalUptimeSeconds, c.LastStatus)
	}
	w.Flush()
}

func runLogs(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	agg, closeFn := openAggregator(ctx)
	defer closeFn()

	rows, err := agg.LogSummaries(ctx, logService, logDays)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSERVICE\tTOTAL\tERROR\tWARN\tINFO")
	for _, l := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			l.Date, l.Service, l.TotalLines, l.ErrorLines, l.WarningLines, l.InfoLines)
	}
	w.Flush()
}

func runEvents(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	agg, closeFn := openAggregator(ctx)
	defer closeFn()

	rows, err := agg.RecentEvents(ctx, eventLimit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSOURCE\tMESSAGE")
	for _, e := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.EventType, e.Source, e.Message)
	}
	w.Flush()
}
