package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/maintenance"
	"github.com/spf13/cobra"
)

// maintenanceCmd represents the maintenance command
var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "备份、导出、清理和重置状态库",
}

var (
	backupDir  string
	exportDir  string
	pruneDays  int
	resetForce bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "用 VACUUM INTO 做一致快照",
	Run:   runBackup,
}

var exportCmd = &cobra.Command{
	Use:   "export <table>",
	Short: "导出单表为 CSV（仅白名单表）",
	Args:  cobra.ExactArgs(1),
	Run:   runExport,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "按留存天数清理旧数据并回收空间",
	Run:   runPrune,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "两步确认后清空全部运营数据（保留 metadata）",
	Run:   runReset,
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "备份目录（默认取配置 maintenance.backup_dir）")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "导出目录（默认取配置 maintenance.export_dir）")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "留存天数（默认取配置 maintenance.retention_days）")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "跳过交互确认（脚本场景）")

	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.AddCommand(backupCmd)
	maintenanceCmd.AddCommand(exportCmd)
	maintenanceCmd.AddCommand(pruneCmd)
	maintenanceCmd.AddCommand(resetCmd)
}

func openFacade(ctx context.Context) (*maintenance.Facade, func()) {
	store := openStore(ctx)
	facade, err := maintenance.New(store)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		store.Close()
		os.Exit(1)
	}
	return facade, func() { store.Close() }
}

func runBackup(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	facade, closeFn := openFacade(ctx)
	defer closeFn()

	dir := backupDir
	if dir == "" {
		dir = cfg.Maintenance.BackupDir
	}
	path, err := facade.Backup(ctx, dir)
	if err != nil {
		fmt.Printf("Backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup written to %s\n", path)
}

func runExport(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	facade, closeFn := openFacade(ctx)
	defer closeFn()

	dir := exportDir
	if dir == "" {
		dir = cfg.Maintenance.ExportDir
	}
	path, err := facade.ExportTable(ctx, args[0], dir)
	if err != nil {
		fmt.Printf("Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %s to %s\n", args[0], path)
}

func runPrune(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	facade, closeFn := openFacade(ctx)
	defer closeFn()

	days := pruneDays
	if days <= 0 {
		days = cfg.Maintenance.RetentionDays
	}
	report, err := facade.PruneOlderThan(ctx, days)
	if err != nil {
		fmt.Printf("Prune failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d resolved errors, %d events, %d log summaries (older than %d days)\n",
		report.ResolvedErrors, report.Events, report.LogSummaries, days)
}

func runReset(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	facade, closeFn := openFacade(ctx)
	defer closeFn()

	if !resetForce {
		fmt.Print("This erases ALL operational data (stats, errors, events, config registry). Type 'yes' to continue: ")
		if !readConfirmation("yes") {
			fmt.Println("Aborted.")
			return
		}
	}

	token, err := facade.ArmReset()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if !resetForce {
		fmt.Printf("Confirmation token: %s\nRe-enter the token to proceed: ", token)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		token = strings.TrimSpace(line)
	}

	if err := facade.ResetAll(ctx, token); err != nil {
		fmt.Printf("Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All operational data erased; schema metadata preserved.")
}

func readConfirmation(expect string) bool {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == expect
}
